package reportflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

type Status int

const (
	StatusIdle Status = iota
	StatusAcquiringLocation
	StatusLocationReady
	StatusAwaitingManualSelection
	StatusSubmitting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAcquiringLocation:
		return "acquiring_location"
	case StatusLocationReady:
		return "location_ready"
	case StatusAwaitingManualSelection:
		return "awaiting_manual_selection"
	case StatusSubmitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Locator is satisfied by *Geolocator.
type Locator interface {
	Acquire(ctx context.Context, highAccuracy bool, timeout time.Duration) (Coordinate, error)
}

// Submitter is satisfied by *Pipeline.
type Submitter interface {
	Submit(ctx context.Context, draft Draft) (Report, error)
}

// SelectionTarget is the map that enters and leaves tap-to-select mode.
type SelectionTarget interface {
	SetSelectionMode(on bool)
}

// FormState is a snapshot of the controller for rendering.
type FormState struct {
	Status    Status
	Draft     Draft
	Minimized bool
	LastError error
}

type ControllerConfig struct {
	Locator   Locator
	Submitter Submitter
	Selection SelectionTarget
	Feed      *LocationFeed
	// OnCreated runs after a successful submission, once the form is back to idle.
	OnCreated     func(ctx context.Context, report Report)
	LocateTimeout time.Duration
	Logger        *slog.Logger
}

// Controller is the report form state machine. Operations that arrive while a
// location request or a submission is outstanding are refused with ErrBusy.
type Controller struct {
	mu sync.Mutex

	status    Status
	draft     Draft
	minimized bool
	lastErr   error

	locator       Locator
	submitter     Submitter
	selection     SelectionTarget
	feed          *LocationFeed
	onCreated     func(ctx context.Context, report Report)
	locateTimeout time.Duration
	log           *slog.Logger
}

func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		locator:       cfg.Locator,
		submitter:     cfg.Submitter,
		selection:     cfg.Selection,
		feed:          cfg.Feed,
		onCreated:     cfg.OnCreated,
		locateTimeout: cfg.LocateTimeout,
		log:           cfg.Logger,
	}
	if c.locateTimeout <= 0 {
		c.locateTimeout = FormLocateTimeout
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c *Controller) State() FormState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FormState{Status: c.status, Draft: c.draft.clone(), Minimized: c.minimized, LastError: c.lastErr}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) busy() bool {
	return c.status == StatusSubmitting || c.status == StatusAcquiringLocation
}

// Open starts a report: one high-accuracy fix, then either LocationReady or
// manual selection on the map. Opening an already open form is a no-op.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.status != StatusIdle {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusAcquiringLocation
	c.lastErr = nil
	c.mu.Unlock()

	var coord Coordinate
	var err error
	if c.locator == nil {
		err = ErrUnavailable
	} else {
		coord, err = c.locator.Acquire(ctx, true, c.locateTimeout)
	}

	c.mu.Lock()
	if err != nil || !MedellinBounds.Contains(coord) {
		c.log.Info("falling back to manual location", "error", err)
		c.status = StatusAwaitingManualSelection
		c.minimized = true
		c.mu.Unlock()
		c.setSelectionMode(true)
		return nil
	}
	location := coord
	c.draft.Location = &location
	c.status = StatusLocationReady
	c.mu.Unlock()

	if c.feed != nil {
		c.feed.Publish(coord)
	}
	return nil
}

// ChangeLocation hands the map back to the user to pick another point.
func (c *Controller) ChangeLocation() error {
	c.mu.Lock()
	switch {
	case c.busy():
		c.mu.Unlock()
		return ErrBusy
	case c.status == StatusIdle:
		c.mu.Unlock()
		return ErrFormClosed
	}
	c.status = StatusAwaitingManualSelection
	c.minimized = true
	c.mu.Unlock()

	c.setSelectionMode(true)
	return nil
}

// SelectLocation accepts a coordinate tapped on the map. It replaces any prior
// location and restores the form.
func (c *Controller) SelectLocation(coord Coordinate) error {
	c.mu.Lock()
	switch {
	case c.busy():
		c.mu.Unlock()
		return ErrBusy
	case c.status != StatusAwaitingManualSelection:
		c.mu.Unlock()
		return ErrNotSelecting
	case !MedellinBounds.Contains(coord):
		c.mu.Unlock()
		return &ValidationError{Field: "location", Message: msgLocationOutOfBounds}
	}
	location := coord
	c.draft.Location = &location
	c.status = StatusLocationReady
	c.minimized = false
	c.lastErr = nil
	c.mu.Unlock()

	c.setSelectionMode(false)
	return nil
}

// DismissSelection closes the "tap the map" prompt without choosing a point.
func (c *Controller) DismissSelection() error {
	c.mu.Lock()
	switch {
	case c.busy():
		c.mu.Unlock()
		return ErrBusy
	case c.status != StatusAwaitingManualSelection:
		c.mu.Unlock()
		return ErrNotSelecting
	}
	if c.draft.Location != nil {
		c.status = StatusLocationReady
	}
	c.minimized = false
	c.mu.Unlock()

	c.setSelectionMode(false)
	return nil
}

func (c *Controller) SetDescription(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	c.draft.Description = text
	return nil
}

// AttachPhoto replaces the draft photo. An oversize or non-image file is
// rejected and leaves the draft untouched.
func (c *Controller) AttachPhoto(photo Photo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if err := ValidatePhoto(photo); err != nil {
		c.lastErr = err
		return err
	}
	c.draft.Photo = &photo
	c.lastErr = nil
	return nil
}

func (c *Controller) ClearPhoto() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	c.draft.Photo = nil
	return nil
}

func (c *Controller) editable() error {
	switch c.status {
	case StatusIdle:
		return ErrFormClosed
	case StatusSubmitting:
		return ErrBusy
	}
	return nil
}

// Submit runs the pipeline on a snapshot of the draft. Validation failures do
// not change the status. On pipeline failure the previous status and all draft
// fields are kept. On success the form returns to idle and OnCreated fires.
func (c *Controller) Submit(ctx context.Context) (Report, error) {
	c.mu.Lock()
	switch {
	case c.busy():
		c.mu.Unlock()
		return Report{}, ErrBusy
	case c.status == StatusIdle:
		c.mu.Unlock()
		return Report{}, ErrFormClosed
	}
	if err := ValidateDraft(c.draft); err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return Report{}, err
	}
	previous := c.status
	snapshot := c.draft.clone()
	c.status = StatusSubmitting
	c.lastErr = nil
	c.mu.Unlock()

	report, err := c.submitter.Submit(ctx, snapshot)

	c.mu.Lock()
	if err != nil {
		c.status = previous
		c.lastErr = err
		c.mu.Unlock()
		return Report{}, err
	}
	c.reset()
	c.mu.Unlock()

	c.setSelectionMode(false)
	if c.onCreated != nil {
		c.onCreated(ctx, report)
	}
	return report, nil
}

// Cancel discards the draft and forces the map out of selection mode.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.reset()
	c.mu.Unlock()

	c.setSelectionMode(false)
	return nil
}

func (c *Controller) reset() {
	c.status = StatusIdle
	c.draft = Draft{}
	c.minimized = false
	c.lastErr = nil
}

func (c *Controller) setSelectionMode(on bool) {
	if c.selection != nil {
		c.selection.SetSelectionMode(on)
	}
}
