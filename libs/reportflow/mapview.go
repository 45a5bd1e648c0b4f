package reportflow

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// TileSize is the edge of one Web Mercator world tile in screen pixels.
const TileSize = 512.0

type Camera struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
}

type Viewport struct {
	Width  float64
	Height float64
}

type MapStyle string

const (
	StyleDark      MapStyle = "dark"
	StyleStandard  MapStyle = "standard"
	StyleSatellite MapStyle = "satellite"
)

var nextStyle = map[MapStyle]MapStyle{
	StyleDark:      StyleStandard,
	StyleStandard:  StyleSatellite,
	StyleSatellite: StyleDark,
}

// StyleURLs maps each style to its vector tile style.
var StyleURLs = map[MapStyle]string{
	StyleDark:      "mapbox://styles/mapbox/dark-v11",
	StyleStandard:  "mapbox://styles/mapbox/standard",
	StyleSatellite: "mapbox://styles/mapbox/satellite-streets-v12",
}

var styleLabels = map[MapStyle]string{
	StyleDark:      "Oscuro",
	StyleStandard:  "Estándar",
	StyleSatellite: "Satélite",
}

func (s MapStyle) Label() string {
	return styleLabels[s]
}

type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayMenu
	OverlayAbout
	OverlayPrivacy
)

// Markers is what the surface draws on top of the heat map.
type Markers struct {
	Current *Coordinate
	Pin     *Coordinate
}

// Surface is the interactive city map. It owns the camera, the selection mode
// and the markers. Camera state never depends on the report data.
type Surface struct {
	mu sync.Mutex

	bounds    Bounds
	camera    Camera
	viewport  Viewport
	style     MapStyle
	overlay   Overlay
	selecting bool
	pin       *Coordinate
	current   *Coordinate
	reports   []Report

	onSelect func(Coordinate)
}

func NewSurface(viewport Viewport) *Surface {
	s := &Surface{
		bounds:   MedellinBounds,
		viewport: viewport,
		style:    StyleDark,
	}
	s.camera = s.clampCamera(InitialCamera)
	return s
}

// OnSelect registers the receiver of taps made in selection mode.
func (s *Surface) OnSelect(fn func(Coordinate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSelect = fn
}

func (s *Surface) Camera() Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

func (s *Surface) Resize(viewport Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = viewport
	s.camera = s.clampCamera(s.camera)
}

// Pan moves the camera by a screen-space delta. Positive dx moves the view east,
// positive dy moves it south.
func (s *Surface) Pan(dx, dy float64) Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, y := project(Coordinate{Lat: s.camera.Latitude, Lng: s.camera.Longitude}, s.camera.Zoom)
	center := unproject(x+dx, y+dy, s.camera.Zoom)
	s.camera = s.clampCamera(Camera{Longitude: center.Lng, Latitude: center.Lat, Zoom: s.camera.Zoom})
	return s.camera
}

func (s *Surface) ZoomTo(zoom float64) Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.camera
	next.Zoom = zoom
	s.camera = s.clampCamera(next)
	return s.camera
}

func (s *Surface) JumpTo(camera Camera) Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = s.clampCamera(camera)
	return s.camera
}

// SetSelectionMode toggles tap-to-select. Entering it clears the pin.
func (s *Surface) SetSelectionMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selecting = on
	if on {
		s.pin = nil
	}
}

func (s *Surface) Selecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selecting
}

// Tap handles a click at screen point (x, y). An open overlay swallows the tap.
// Outside selection mode the tap is inert. In selection mode the point becomes
// the pin and is forwarded to the OnSelect receiver.
func (s *Surface) Tap(x, y float64) (Coordinate, bool) {
	s.mu.Lock()
	if s.overlay != OverlayNone {
		s.overlay = OverlayNone
		s.mu.Unlock()
		return Coordinate{}, false
	}
	if !s.selecting {
		s.mu.Unlock()
		return Coordinate{}, false
	}
	coord := s.bounds.Clamp(s.screenToCoordinate(x, y))
	s.pin = &coord
	receiver := s.onSelect
	s.mu.Unlock()

	if receiver != nil {
		receiver(coord)
	}
	return coord, true
}

// Focus shows a fresh device fix: current-position marker, pin and a close zoom.
func (s *Surface) Focus(coord Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := coord
	pin := coord
	s.current = &current
	s.pin = &pin
	s.camera = s.clampCamera(Camera{Longitude: coord.Lng, Latitude: coord.Lat, Zoom: FocusZoom})
}

// LocateOnce places the "you are here" marker on first load. Failure is ignored.
func (s *Surface) LocateOnce(ctx context.Context, locator *Geolocator) bool {
	coord, err := locator.Acquire(ctx, true, FirstLocateTimeout)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &coord
	s.camera = s.clampCamera(Camera{Longitude: coord.Lng, Latitude: coord.Lat, Zoom: FirstLocateZoom})
	return true
}

// Markers returns the current-position marker and the pin. The pin is omitted
// when it sits exactly on the current position.
func (s *Surface) Markers() Markers {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Markers
	if s.current != nil {
		current := *s.current
		out.Current = &current
	}
	if s.pin != nil && (s.current == nil || *s.pin != *s.current) {
		pin := *s.pin
		out.Pin = &pin
	}
	return out
}

func (s *Surface) OpenOverlay(overlay Overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = overlay
}

// Escape closes every overlay.
func (s *Surface) Escape() {
	s.OpenOverlay(OverlayNone)
}

func (s *Surface) Overlay() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

func (s *Surface) Style() MapStyle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// CycleStyle advances dark, standard, satellite and back to dark.
func (s *Surface) CycleStyle() MapStyle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = nextStyle[s.style]
	return s.style
}

// SetReports replaces the displayed set wholesale.
func (s *Surface) SetReports(reports []Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append([]Report(nil), reports...)
}

func (s *Surface) HeatmapLayer() HeatmapLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HeatmapLayer{Source: ReportsGeoJSON(s.reports), Paint: DefaultHeatmapPaint()}
}

// CounterLabel is the badge text over the map.
func (s *Surface) CounterLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ReportCounterLabel(len(s.reports))
}

func ReportCounterLabel(n int) string {
	if n == 1 {
		return "1 reporte activo"
	}
	return fmt.Sprintf("%d reportes activos", n)
}

func (s *Surface) screenToCoordinate(x, y float64) Coordinate {
	cx, cy := project(Coordinate{Lat: s.camera.Latitude, Lng: s.camera.Longitude}, s.camera.Zoom)
	return unproject(cx+x-s.viewport.Width/2, cy+y-s.viewport.Height/2, s.camera.Zoom)
}

func (s *Surface) clampCamera(camera Camera) Camera {
	zoom := camera.Zoom
	if math.IsNaN(zoom) || zoom < MinZoom {
		zoom = MinZoom
	}
	if zoom > MaxZoom {
		zoom = MaxZoom
	}

	center := s.bounds.Clamp(Coordinate{Lat: camera.Latitude, Lng: camera.Longitude})
	x, y := project(center, zoom)

	minX, minY := project(Coordinate{Lat: s.bounds.NorthEast().Lat, Lng: s.bounds.SouthWest().Lng}, zoom)
	maxX, maxY := project(Coordinate{Lat: s.bounds.SouthWest().Lat, Lng: s.bounds.NorthEast().Lng}, zoom)
	x = clampAxis(x, minX, maxX, s.viewport.Width/2)
	y = clampAxis(y, minY, maxY, s.viewport.Height/2)

	center = s.bounds.Clamp(unproject(x, y, zoom))
	return Camera{Longitude: center.Lng, Latitude: center.Lat, Zoom: zoom}
}

func clampAxis(value, lo, hi, half float64) float64 {
	if hi-lo <= 2*half {
		return (lo + hi) / 2
	}
	return math.Min(math.Max(value, lo+half), hi-half)
}

func worldSize(zoom float64) float64 {
	return TileSize * math.Pow(2, zoom)
}

func project(c Coordinate, zoom float64) (float64, float64) {
	size := worldSize(zoom)
	lat := c.Lat * math.Pi / 180
	x := (c.Lng + 180) / 360 * size
	y := (1 - math.Log(math.Tan(lat)+1/math.Cos(lat))/math.Pi) / 2 * size
	return x, y
}

func unproject(x, y, zoom float64) Coordinate {
	size := worldSize(zoom)
	lng := x/size*360 - 180
	n := math.Pi * (1 - 2*y/size)
	lat := math.Atan(math.Sinh(n)) * 180 / math.Pi
	return Coordinate{Lat: lat, Lng: lng}
}
