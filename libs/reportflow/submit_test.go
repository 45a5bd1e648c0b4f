package reportflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu        sync.Mutex
	uploadErr error
	insertErr error
	listErr   error
	uploads   map[string][]byte
	reports   []Report
	seq       int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{uploads: make(map[string][]byte)}
}

func (m *memoryStore) UploadPhoto(ctx context.Context, name, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploads[name] = data
	return "https://media.example/reportes-fotos/" + name, nil
}

func (m *memoryStore) InsertReport(ctx context.Context, report NewReport) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return Report{}, m.insertErr
	}
	m.seq++
	stored := Report{
		ID:          fmt.Sprintf("r-%d", m.seq),
		Description: report.Description,
		Lat:         report.Location.Lat,
		Lng:         report.Location.Lng,
		PhotoURL:    report.PhotoURL,
		CreatedAt:   time.Date(2025, 3, 1, 12, m.seq, 0, 0, time.UTC),
	}
	m.reports = append([]Report{stored}, m.reports...)
	return stored, nil
}

func (m *memoryStore) ListReports(ctx context.Context) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Report(nil), m.reports...), nil
}

func validDraft() Draft {
	location := downtown
	return Draft{Description: "bolsas", Location: &location}
}

func TestPipelineUploadFailureWritesNothing(t *testing.T) {
	store := newMemoryStore()
	store.uploadErr = errors.New("bucket unavailable")
	pipeline := NewPipeline(store, store)

	draft := validDraft()
	draft.Photo = &Photo{Name: "foto.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}

	_, err := pipeline.Submit(context.Background(), draft)
	if !errors.Is(err, ErrPhotoUploadFailed) {
		t.Fatalf("expected ErrPhotoUploadFailed, got %v", err)
	}
	if len(store.reports) != 0 {
		t.Fatalf("expected no record written, got %d", len(store.reports))
	}
}

func TestPipelineStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.insertErr = errors.New("connection reset")
	pipeline := NewPipeline(store, store)

	_, err := pipeline.Submit(context.Background(), validDraft())
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("expected ErrStoreWriteFailed, got %v", err)
	}
}

func TestPipelineWithoutPhotoLeavesURLEmpty(t *testing.T) {
	store := newMemoryStore()
	pipeline := NewPipeline(store, store)

	report, err := pipeline.Submit(context.Background(), validDraft())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if report.PhotoURL != nil {
		t.Fatalf("expected nil photo url, got %q", *report.PhotoURL)
	}
	if len(store.uploads) != 0 {
		t.Fatalf("expected no uploads, got %d", len(store.uploads))
	}
}

func TestPipelinePhotoThenRecord(t *testing.T) {
	store := newMemoryStore()
	clock := func() time.Time { return time.UnixMilli(1735689600000) }
	pipeline := NewPipeline(store, store, WithClock(clock), WithRandom(bytes.NewReader(bytes.Repeat([]byte{7}, 8))))

	draft := validDraft()
	draft.Description = "  Café lleno de basura "
	draft.Photo = &Photo{Name: "IMG_0042.HEIC", ContentType: "image/heic", Data: []byte{1}}

	report, err := pipeline.Submit(context.Background(), draft)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if report.PhotoURL == nil {
		t.Fatal("expected photo url")
	}
	if len(store.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(store.uploads))
	}
	for name := range store.uploads {
		if *report.PhotoURL != "https://media.example/reportes-fotos/"+name {
			t.Fatalf("report photo url %q does not match upload %q", *report.PhotoURL, name)
		}
	}
	if report.Description != "Café lleno de basura" {
		t.Fatalf("expected normalised description, got %q", report.Description)
	}
}

func TestPipelineRejectsInvalidDraft(t *testing.T) {
	store := newMemoryStore()
	pipeline := NewPipeline(store, store)

	outside := Coordinate{Lat: 6.6, Lng: -75.5}
	_, err := pipeline.Submit(context.Background(), Draft{Description: "x", Location: &outside})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Field != "location" {
		t.Fatalf("expected location validation error, got %v", err)
	}
	if len(store.reports) != 0 {
		t.Fatal("expected nothing written")
	}
}

func TestPhotoExtension(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		want        string
	}{
		{"captura.JPG", "image/jpeg", ".JPG"},
		{"foto.jpeg", "image/jpeg", ".jpeg"},
		{"sin-extension", "image/jpeg", ".jpg"},
		{"iphone", "image/heic", ".heic"},
		{"iphone", "IMAGE/WEBP", ".webp"},
		{"notas.txt", "image/png", ".png"},
		{"", "application/octet-stream", ".jpg"},
	}
	for _, tc := range cases {
		if got := photoExtension(tc.name, tc.contentType); got != tc.want {
			t.Fatalf("photoExtension(%q, %q) = %q, want %q", tc.name, tc.contentType, got, tc.want)
		}
	}

	for _, contentType := range PhotoTypes() {
		ext, ok := PhotoExtensionForType(contentType)
		if !ok {
			t.Fatalf("no extension for %s", contentType)
		}
		if back, ok := PhotoTypeForExtension(ext); !ok || back != contentType {
			t.Fatalf("extension %s maps back to %q, want %s", ext, back, contentType)
		}
	}
}

func TestPhotoObjectName(t *testing.T) {
	now := time.UnixMilli(1735689600123)
	pattern := regexp.MustCompile(`^1735689600123-[0-9a-z]+\.png$`)

	name, err := PhotoObjectName(now, "captura.png", "image/png", bytes.NewReader(bytes.Repeat([]byte{0xab}, 8)))
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	if !pattern.MatchString(name) {
		t.Fatalf("unexpected object name %q", name)
	}

	name, err = PhotoObjectName(now, "sin-extension", "image/jpeg", bytes.NewReader(bytes.Repeat([]byte{1}, 8)))
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	if !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected fallback extension in %q", name)
	}

	if _, err := PhotoObjectName(now, "a.png", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error on exhausted random source")
	}
}
