package reportflow

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeatmapPaintTable(t *testing.T) {
	paint := DefaultHeatmapPaint()

	assert.InDelta(t, 0.3, Interpolate(paint.Weight, 0), 1e-9)
	assert.InDelta(t, 1.0, Interpolate(paint.Weight, 12), 1e-9)
	assert.InDelta(t, 1.0, Interpolate(paint.Weight, 18), 1e-9)
	assert.InDelta(t, 0.5, Interpolate(paint.Intensity, 6), 1e-9)
	assert.InDelta(t, 17.5, Interpolate(paint.Radius, 6), 1e-9)
	assert.Equal(t, 0.85, paint.Opacity)
	require.Len(t, paint.Color, 7)
	assert.Equal(t, "rgba(0,0,0,0)", paint.Color[0].Color)
	assert.Equal(t, "#ef4444", paint.Color[6].Color)
}

func TestAggregateKeepsPointsAtCityZoom(t *testing.T) {
	reports := []Report{{ID: "a", Lat: 6.2, Lng: -75.5}, {ID: "b", Lat: 6.2, Lng: -75.5}}
	collection := AggregateGeoJSON(reports, 12)
	require.Len(t, collection.Features, 2)
	assert.True(t, collection.Features[0].Geometry.IsPoint())
	assert.Equal(t, []float64{-75.5, 6.2}, collection.Features[0].Geometry.Point)
	id, err := collection.Features[0].PropertyString("id")
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestReportsGeoJSONEncoding(t *testing.T) {
	photo := "https://ecomed.test/media/reports/1-a.jpg"
	reports := []Report{{ID: "a", Description: "bolsas", Lat: 6.25, Lng: -75.57, PhotoURL: &photo, CreatedAt: time.Date(2025, 3, 1, 15, 4, 5, 0, time.UTC)}}

	body, err := json.Marshal(ReportsGeoJSON(reports))
	require.NoError(t, err)

	decoded, err := geojson.UnmarshalFeatureCollection(body)
	require.NoError(t, err)
	assert.Equal(t, "FeatureCollection", decoded.Type)
	require.Len(t, decoded.Features, 1)
	assert.Equal(t, []float64{-75.57, 6.25}, decoded.Features[0].Geometry.Point)
	assert.Equal(t, "2025-03-01T15:04:05Z", decoded.Features[0].Properties["created_at"])
	assert.Equal(t, photo, decoded.Features[0].Properties["foto_url"])

	empty, err := json.Marshal(ReportsGeoJSON(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(empty))
}

func TestAggregateConservesCount(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	reports := make([]Report, 500)
	for i := range reports {
		reports[i] = Report{Lat: 5.95 + rng.Float64()*0.6, Lng: -75.85 + rng.Float64()*0.6}
	}

	for _, zoom := range []float64{0, 5, 8, 11} {
		collection := AggregateGeoJSON(reports, zoom)
		total := 0
		for _, feature := range collection.Features {
			count, err := feature.PropertyInt("count")
			require.NoError(t, err)
			total += count
		}
		assert.Equal(t, len(reports), total, "zoom %v", zoom)
		assert.LessOrEqual(t, len(collection.Features), len(reports))
	}
}

func TestCellLevelForZoom(t *testing.T) {
	assert.Equal(t, minCellLevel, CellLevelForZoom(-3))
	assert.Equal(t, 14, CellLevelForZoom(11))
	assert.Equal(t, maxCellLevel, CellLevelForZoom(22))
}
