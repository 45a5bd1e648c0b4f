package reportflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// LocationFeed carries device fixes from the form to the map. It holds at most
// one subscriber.
type LocationFeed struct {
	mu         sync.Mutex
	subscriber func(Coordinate)
	closed     bool
}

func NewLocationFeed() *LocationFeed {
	return &LocationFeed{}
}

// Subscribe registers fn and returns the matching unsubscribe function.
func (f *LocationFeed) Subscribe(fn func(Coordinate)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscriber != nil {
		return nil, ErrAlreadySubscribed
	}
	f.subscriber = fn
	f.closed = false
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subscriber = nil
	}, nil
}

// Publish delivers coord synchronously. It reports whether anyone received it.
func (f *LocationFeed) Publish(coord Coordinate) bool {
	f.mu.Lock()
	fn := f.subscriber
	closed := f.closed
	f.mu.Unlock()
	if fn == nil || closed {
		return false
	}
	fn(coord)
	return true
}

func (f *LocationFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriber = nil
	f.closed = true
}

// ReportSource lists every stored report, newest first.
type ReportSource interface {
	ListReports(ctx context.Context) ([]Report, error)
}

type SessionConfig struct {
	Source    ReportSource
	Photos    PhotoUploader
	Records   RecordWriter
	Position  PositionSource
	Viewport  Viewport
	Logger    *slog.Logger
	Pipeline  []PipelineOption
	SkipFirst bool // skip the first-load locate
}

// Session is one visit to the map page. It owns the report list, the map
// surface, the form controller and the development notice flag.
type Session struct {
	mu sync.Mutex

	source     ReportSource
	locator    *Geolocator
	surface    *Surface
	controller *Controller
	feed       *LocationFeed
	log        *slog.Logger
	skipFirst  bool

	reports     []Report
	fetchErr    error
	noticeSeen  bool
	started     bool
	unsubscribe func()
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Session{
		source:    cfg.Source,
		locator:   NewGeolocator(cfg.Position),
		surface:   NewSurface(cfg.Viewport),
		feed:      NewLocationFeed(),
		log:       logger,
		skipFirst: cfg.SkipFirst,
	}
	pipeline := NewPipeline(cfg.Photos, cfg.Records, append([]PipelineOption{WithLogger(logger)}, cfg.Pipeline...)...)
	s.controller = NewController(ControllerConfig{
		Locator:   s.locator,
		Submitter: pipeline,
		Selection: s.surface,
		Feed:      s.feed,
		OnCreated: func(ctx context.Context, _ Report) {
			_ = s.Refresh(ctx)
		},
		Logger: logger,
	})
	s.surface.OnSelect(func(coord Coordinate) {
		if err := s.controller.SelectLocation(coord); err != nil {
			s.log.Warn("map selection rejected", "error", err)
		}
	})
	return s
}

func (s *Session) Surface() *Surface       { return s.surface }
func (s *Session) Controller() *Controller { return s.controller }

// Start wires the location feed, loads the report list and tries the
// first-load locate. A failed list fetch is returned and kept for display.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	unsubscribe, err := s.feed.Subscribe(s.surface.Focus)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.unsubscribe = unsubscribe
	s.started = true
	s.noticeSeen = false
	s.mu.Unlock()

	fetchErr := s.Refresh(ctx)
	if !s.skipFirst {
		s.surface.LocateOnce(ctx, s.locator)
	}
	return fetchErr
}

// End tears the page down. The next Start shows the notice again.
func (s *Session) End() {
	if err := s.controller.Cancel(); err != nil {
		s.log.Warn("ending session with operation in flight", "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.started = false
	s.noticeSeen = false
	s.reports = nil
	s.fetchErr = nil
}

// ShouldShowNotice is true exactly once per session.
func (s *Session) ShouldShowNotice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noticeSeen {
		return false
	}
	s.noticeSeen = true
	return true
}

// Refresh replaces the report list wholesale. On failure the previous list is
// kept and the error is recorded.
func (s *Session) Refresh(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("%w: no report source", ErrFetchFailed)
	}
	reports, err := s.source.ListReports(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fetchErr = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		s.log.Warn("report list fetch failed", "error", err)
		return s.fetchErr
	}
	s.fetchErr = nil
	s.reports = append([]Report(nil), reports...)
	s.surface.SetReports(s.reports)
	return nil
}

func (s *Session) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.reports...)
}

func (s *Session) FetchError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchErr
}
