// Package reportflow drives the citizen side of a waste report: locating the
// problem, editing the draft, tapping the city map and submitting the result.
package reportflow

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxPhotoBytes        = 5 * 1024 * 1024
	MaxDescriptionLength = 1000

	MinZoom = 11.0
	MaxZoom = 22.0

	FormLocateTimeout  = 10 * time.Second
	FirstLocateTimeout = 8 * time.Second

	FirstLocateZoom = 14.0
	FocusZoom       = 16.0
)

// InitialCamera is the camera shown before any location is known.
var InitialCamera = Camera{Longitude: -75.567, Latitude: 6.247, Zoom: 12}

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(c.Lat, c.Lng)
}

func (c Coordinate) valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) && !math.IsInf(c.Lat, 0) && !math.IsInf(c.Lng, 0)
}

// Bounds is an axis-aligned lat/lng rectangle.
type Bounds struct {
	rect s2.Rect
}

// NewBounds builds a rectangle from its south-west and north-east corners.
func NewBounds(southWest, northEast Coordinate) Bounds {
	sw := southWest.latLng()
	ne := northEast.latLng()
	return Bounds{rect: s2.Rect{
		Lat: r1.Interval{Lo: sw.Lat.Radians(), Hi: ne.Lat.Radians()},
		Lng: s1.Interval{Lo: sw.Lng.Radians(), Hi: ne.Lng.Radians()},
	}}
}

// MedellinBounds is the service area. Nothing outside it is accepted or shown.
var MedellinBounds = NewBounds(
	Coordinate{Lat: 5.95, Lng: -75.85},
	Coordinate{Lat: 6.55, Lng: -75.25},
)

func (b Bounds) SouthWest() Coordinate {
	lo := b.rect.Lo()
	return Coordinate{Lat: lo.Lat.Degrees(), Lng: lo.Lng.Degrees()}
}

func (b Bounds) NorthEast() Coordinate {
	hi := b.rect.Hi()
	return Coordinate{Lat: hi.Lat.Degrees(), Lng: hi.Lng.Degrees()}
}

func (b Bounds) Center() Coordinate {
	center := b.rect.Center()
	return Coordinate{Lat: center.Lat.Degrees(), Lng: center.Lng.Degrees()}
}

// Rect exposes the underlying S2 rectangle.
func (b Bounds) Rect() s2.Rect {
	return b.rect
}

// Contains reports whether c lies inside the rectangle, edges included.
func (b Bounds) Contains(c Coordinate) bool {
	if !c.valid() {
		return false
	}
	sw, ne := b.SouthWest(), b.NorthEast()
	return c.Lat >= sw.Lat && c.Lat <= ne.Lat && c.Lng >= sw.Lng && c.Lng <= ne.Lng
}

// Clamp returns the point of the rectangle closest to c.
func (b Bounds) Clamp(c Coordinate) Coordinate {
	sw, ne := b.SouthWest(), b.NorthEast()
	if !c.valid() {
		return b.Center()
	}
	return Coordinate{
		Lat: math.Min(math.Max(c.Lat, sw.Lat), ne.Lat),
		Lng: math.Min(math.Max(c.Lng, sw.Lng), ne.Lng),
	}
}

// Report is a persisted waste report.
type Report struct {
	ID          string    `json:"id"`
	Description string    `json:"descripcion"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	PhotoURL    *string   `json:"foto_url"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r Report) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lng: r.Lng}
}

// NewReport is what the pipeline hands to a RecordWriter.
type NewReport struct {
	Description string     `json:"descripcion"`
	Location    Coordinate `json:"-"`
	PhotoURL    *string    `json:"foto_url,omitempty"`
}

// Photo is an image attached to a draft.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

func (p Photo) Size() int {
	return len(p.Data)
}

// photoTypeExtensions lists the accepted image types with the extension
// stored photos get when the upload name carries none.
var photoTypeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
}

var photoExtensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
}

// PhotoTypes returns the accepted image content types.
func PhotoTypes() []string {
	types := make([]string, 0, len(photoTypeExtensions))
	for contentType := range photoTypeExtensions {
		types = append(types, contentType)
	}
	sort.Strings(types)
	return types
}

// PhotoExtensionForType returns the stored extension of an accepted type.
func PhotoExtensionForType(contentType string) (string, bool) {
	ext, ok := photoTypeExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// PhotoTypeForExtension maps a stored extension, in any case, back to its type.
func PhotoTypeForExtension(ext string) (string, bool) {
	contentType, ok := photoExtensionTypes[strings.ToLower(ext)]
	return contentType, ok
}

// Draft is the in-progress report held by the form.
type Draft struct {
	Description string
	Photo       *Photo
	Location    *Coordinate
}

func (d Draft) clone() Draft {
	out := Draft{Description: d.Description}
	if d.Photo != nil {
		photo := *d.Photo
		out.Photo = &photo
	}
	if d.Location != nil {
		location := *d.Location
		out.Location = &location
	}
	return out
}

// NormalizeDescription trims and NFC-normalises free text.
func NormalizeDescription(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// ValidateDraft checks everything a draft needs before it can be submitted.
func ValidateDraft(d Draft) error {
	description := NormalizeDescription(d.Description)
	if description == "" {
		return &ValidationError{Field: "description", Message: msgDescriptionRequired}
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Message: msgDescriptionTooLong}
	}
	if d.Location == nil {
		return &ValidationError{Field: "location", Message: msgLocationMissing}
	}
	if !MedellinBounds.Contains(*d.Location) {
		return &ValidationError{Field: "location", Message: msgLocationOutOfBounds}
	}
	if d.Photo != nil {
		if err := ValidatePhoto(*d.Photo); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePhoto enforces the size cap and image content type.
func ValidatePhoto(p Photo) error {
	if p.Size() > MaxPhotoBytes {
		return &ValidationError{Field: "photo", Message: MsgPhotoTooLarge}
	}
	if p.Size() == 0 {
		return &ValidationError{Field: "photo", Message: msgPhotoEmpty}
	}
	if p.ContentType != "" && !strings.HasPrefix(strings.ToLower(p.ContentType), "image/") {
		return &ValidationError{Field: "photo", Message: msgPhotoNotImage}
	}
	return nil
}
