package reportflow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PhotoUploader stores photo bytes and returns their public URL.
type PhotoUploader interface {
	UploadPhoto(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// RecordWriter persists a report and returns it with its store-assigned fields.
type RecordWriter interface {
	InsertReport(ctx context.Context, report NewReport) (Report, error)
}

// Pipeline turns a valid draft into a stored report: photo first, record second.
type Pipeline struct {
	photos  PhotoUploader
	records RecordWriter
	log     *slog.Logger
	now     func() time.Time
	random  io.Reader
}

type PipelineOption func(*Pipeline)

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = logger }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func WithRandom(r io.Reader) PipelineOption {
	return func(p *Pipeline) { p.random = r }
}

func NewPipeline(photos PhotoUploader, records RecordWriter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		photos:  photos,
		records: records,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit validates the draft, uploads its photo if any, then writes the record.
// A failed upload aborts before anything is written. Nothing is retried.
func (p *Pipeline) Submit(ctx context.Context, draft Draft) (Report, error) {
	if err := ValidateDraft(draft); err != nil {
		return Report{}, err
	}

	var photoURL *string
	if draft.Photo != nil {
		name, err := PhotoObjectName(p.now(), draft.Photo.Name, draft.Photo.ContentType, p.random)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %w", ErrPhotoUploadFailed, err)
		}
		url, err := p.photos.UploadPhoto(ctx, name, draft.Photo.ContentType, draft.Photo.Data)
		if err != nil {
			p.log.Warn("photo upload failed", "name", name, "error", err)
			return Report{}, fmt.Errorf("%w: %w", ErrPhotoUploadFailed, err)
		}
		photoURL = &url
	}

	report, err := p.records.InsertReport(ctx, NewReport{
		Description: NormalizeDescription(draft.Description),
		Location:    *draft.Location,
		PhotoURL:    photoURL,
	})
	if err != nil {
		p.log.Warn("report insert failed", "error", err)
		return Report{}, fmt.Errorf("%w: %w", ErrStoreWriteFailed, err)
	}

	p.log.Info("report submitted", "id", report.ID, "has_photo", photoURL != nil)
	return report, nil
}

// PhotoObjectName builds "<unix-millis>-<random base36><ext>". The original
// extension is kept when it names an accepted image type; otherwise the
// extension comes from the content type, then ".jpg".
func PhotoObjectName(now time.Time, originalName, contentType string, random io.Reader) (string, error) {
	var buf [8]byte
	if _, err := io.ReadFull(random, buf[:]); err != nil {
		return "", err
	}
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), suffix, photoExtension(originalName, contentType)), nil
}

func photoExtension(originalName, contentType string) string {
	if ext := filepath.Ext(strings.TrimSpace(originalName)); ext != "" {
		if _, ok := PhotoTypeForExtension(ext); ok {
			return ext
		}
	}
	if ext, ok := PhotoExtensionForType(contentType); ok {
		return ext
	}
	return ".jpg"
}
