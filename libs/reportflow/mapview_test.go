package reportflow

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var phone = Viewport{Width: 390, Height: 844}

func TestNewSurfaceStartsAtInitialCamera(t *testing.T) {
	s := NewSurface(phone)
	camera := s.Camera()
	assert.InDelta(t, InitialCamera.Longitude, camera.Longitude, 1e-9)
	assert.InDelta(t, InitialCamera.Latitude, camera.Latitude, 1e-9)
	assert.Equal(t, InitialCamera.Zoom, camera.Zoom)
	assert.Equal(t, StyleDark, s.Style())
}

func TestZoomIsClampedToMinimum(t *testing.T) {
	s := NewSurface(phone)
	assert.Equal(t, MinZoom, s.ZoomTo(3).Zoom)
	assert.Equal(t, MaxZoom, s.ZoomTo(40).Zoom)
}

func TestRandomPanZoomTapStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSurface(phone)
	var selected []Coordinate
	s.OnSelect(func(c Coordinate) { selected = append(selected, c) })
	s.SetSelectionMode(true)

	for i := 0; i < 2000; i++ {
		switch rng.Intn(4) {
		case 0:
			s.Pan((rng.Float64()-0.5)*20000, (rng.Float64()-0.5)*20000)
		case 1:
			s.ZoomTo(rng.Float64()*25 - 2)
		case 2:
			s.JumpTo(Camera{Longitude: -80 + rng.Float64()*10, Latitude: 3 + rng.Float64()*6, Zoom: rng.Float64() * 22})
		default:
			coord, ok := s.Tap(rng.Float64()*phone.Width*3-phone.Width, rng.Float64()*phone.Height*3-phone.Height)
			require.True(t, ok)
			require.True(t, MedellinBounds.Contains(coord), "tap produced %+v", coord)
		}
		camera := s.Camera()
		require.GreaterOrEqual(t, camera.Zoom, MinZoom)
		require.True(t, MedellinBounds.Contains(Coordinate{Lat: camera.Latitude, Lng: camera.Longitude}), "camera escaped: %+v", camera)
	}
	for _, coord := range selected {
		require.True(t, MedellinBounds.Contains(coord))
	}
}

func TestViewportEdgesStayInsideBounds(t *testing.T) {
	s := NewSurface(phone)
	s.ZoomTo(13)
	s.Pan(-1e7, -1e7)
	camera := s.Camera()

	x, y := project(Coordinate{Lat: camera.Latitude, Lng: camera.Longitude}, camera.Zoom)
	topLeft := unproject(x-phone.Width/2, y-phone.Height/2, camera.Zoom)
	assert.GreaterOrEqual(t, topLeft.Lng, MedellinBounds.SouthWest().Lng-1e-9)
	assert.LessOrEqual(t, topLeft.Lat, MedellinBounds.NorthEast().Lat+1e-9)
}

func TestTapOutsideSelectionModeIsInert(t *testing.T) {
	s := NewSurface(phone)
	called := false
	s.OnSelect(func(Coordinate) { called = true })

	_, ok := s.Tap(100, 100)

	assert.False(t, ok)
	assert.False(t, called)
	assert.Nil(t, s.Markers().Pin)
}

func TestTapClosesOverlayFirst(t *testing.T) {
	s := NewSurface(phone)
	s.SetSelectionMode(true)
	s.OpenOverlay(OverlayMenu)

	_, ok := s.Tap(100, 100)
	assert.False(t, ok)
	assert.Equal(t, OverlayNone, s.Overlay())

	_, ok = s.Tap(100, 100)
	assert.True(t, ok)
}

func TestTapAtCenterSelectsCameraCenter(t *testing.T) {
	s := NewSurface(phone)
	s.JumpTo(Camera{Latitude: 6.30, Longitude: -75.58, Zoom: 16})
	s.SetSelectionMode(true)

	coord, ok := s.Tap(phone.Width/2, phone.Height/2)
	require.True(t, ok)
	assert.InDelta(t, 6.30, coord.Lat, 1e-9)
	assert.InDelta(t, -75.58, coord.Lng, 1e-9)
	require.NotNil(t, s.Markers().Pin)
}

func TestEnteringSelectionModeClearsPin(t *testing.T) {
	s := NewSurface(phone)
	s.SetSelectionMode(true)
	_, ok := s.Tap(10, 10)
	require.True(t, ok)
	require.NotNil(t, s.Markers().Pin)

	s.SetSelectionMode(true)
	assert.Nil(t, s.Markers().Pin)
}

func TestPinHiddenWhenOnCurrentPosition(t *testing.T) {
	s := NewSurface(phone)
	s.Focus(downtown)

	markers := s.Markers()
	require.NotNil(t, markers.Current)
	assert.Nil(t, markers.Pin)
	assert.Equal(t, FocusZoom, s.Camera().Zoom)
}

func TestLocateOnceIgnoresFailure(t *testing.T) {
	s := NewSurface(phone)
	before := s.Camera()

	ok := s.LocateOnce(context.Background(), NewGeolocator(StaticSource{Err: ErrPermissionDenied}))

	assert.False(t, ok)
	assert.Equal(t, before, s.Camera())
	assert.Nil(t, s.Markers().Current)

	ok = s.LocateOnce(context.Background(), NewGeolocator(StaticSource{Position: downtown}))
	assert.True(t, ok)
	assert.Equal(t, FirstLocateZoom, s.Camera().Zoom)
	require.NotNil(t, s.Markers().Current)
}

func TestCycleStyle(t *testing.T) {
	s := NewSurface(phone)
	assert.Equal(t, StyleStandard, s.CycleStyle())
	assert.Equal(t, StyleSatellite, s.CycleStyle())
	assert.Equal(t, StyleDark, s.CycleStyle())
	assert.Equal(t, "Oscuro", s.Style().Label())
}

func TestCounterLabel(t *testing.T) {
	assert.Equal(t, "0 reportes activos", ReportCounterLabel(0))
	assert.Equal(t, "1 reporte activo", ReportCounterLabel(1))
	assert.Equal(t, "12 reportes activos", ReportCounterLabel(12))
}

func TestSetReportsReplacesWholesale(t *testing.T) {
	s := NewSurface(phone)
	s.SetReports([]Report{{ID: "a", Lat: 6.2, Lng: -75.5}, {ID: "b", Lat: 6.3, Lng: -75.6}})
	s.SetReports([]Report{{ID: "c", Lat: 6.25, Lng: -75.55}})

	layer := s.HeatmapLayer()
	require.Len(t, layer.Source.Features, 1)
	assert.Equal(t, "c", layer.Source.Features[0].Properties["id"])
	assert.Equal(t, []float64{-75.55, 6.25}, layer.Source.Features[0].Geometry.Point)
	assert.Equal(t, "1 reporte activo", s.CounterLabel())
}

func TestProjectionRoundTrip(t *testing.T) {
	for _, zoom := range []float64{11, 12.5, 16, 22} {
		x, y := project(downtown, zoom)
		back := unproject(x, y, zoom)
		assert.True(t, math.Abs(back.Lat-downtown.Lat) < 1e-9 && math.Abs(back.Lng-downtown.Lng) < 1e-9)
	}
}
