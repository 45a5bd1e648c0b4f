package reportflow

import (
	"math"
	"sort"
	"time"

	"github.com/golang/geo/s2"
	geojson "github.com/paulmach/go.geojson"
)

const (
	// AggregateBelowZoom is the zoom under which points are merged into S2 cells.
	AggregateBelowZoom = 12.0

	minCellLevel = 2
	maxCellLevel = 18
)

type ZoomStop struct {
	Zoom  float64 `json:"zoom"`
	Value float64 `json:"value"`
}

type ColorStop struct {
	Density float64 `json:"density"`
	Color   string  `json:"color"`
}

// HeatmapPaint is the zoom interpolation table of the heat-map layer.
type HeatmapPaint struct {
	Weight    []ZoomStop  `json:"weight"`
	Intensity []ZoomStop  `json:"intensity"`
	Radius    []ZoomStop  `json:"radius"`
	Color     []ColorStop `json:"color"`
	Opacity   float64     `json:"opacity"`
}

type HeatmapLayer struct {
	Source *geojson.FeatureCollection `json:"source"`
	Paint  HeatmapPaint               `json:"paint"`
}

func DefaultHeatmapPaint() HeatmapPaint {
	return HeatmapPaint{
		Weight:    []ZoomStop{{Zoom: 0, Value: 0.3}, {Zoom: 12, Value: 1}},
		Intensity: []ZoomStop{{Zoom: 0, Value: 0.2}, {Zoom: 12, Value: 0.8}},
		Radius:    []ZoomStop{{Zoom: 0, Value: 10}, {Zoom: 12, Value: 25}},
		Color: []ColorStop{
			{Density: 0, Color: "rgba(0,0,0,0)"},
			{Density: 0.1, Color: "#2563eb"},
			{Density: 0.3, Color: "#06b6d4"},
			{Density: 0.5, Color: "#22c55e"},
			{Density: 0.7, Color: "#eab308"},
			{Density: 0.9, Color: "#f97316"},
			{Density: 1, Color: "#ef4444"},
		},
		Opacity: 0.85,
	}
}

// Interpolate evaluates a linear zoom table, holding the end values outside it.
func Interpolate(stops []ZoomStop, zoom float64) float64 {
	if len(stops) == 0 {
		return 0
	}
	if zoom <= stops[0].Zoom {
		return stops[0].Value
	}
	for i := 1; i < len(stops); i++ {
		if zoom <= stops[i].Zoom {
			lo, hi := stops[i-1], stops[i]
			t := (zoom - lo.Zoom) / (hi.Zoom - lo.Zoom)
			return lo.Value + t*(hi.Value-lo.Value)
		}
	}
	return stops[len(stops)-1].Value
}

func pointFeature(lat, lng float64, properties map[string]any) *geojson.Feature {
	feature := geojson.NewPointFeature([]float64{lng, lat})
	for key, value := range properties {
		feature.SetProperty(key, value)
	}
	return feature
}

// ReportsGeoJSON emits one point feature per report.
func ReportsGeoJSON(reports []Report) *geojson.FeatureCollection {
	collection := geojson.NewFeatureCollection()
	for _, report := range reports {
		collection.AddFeature(pointFeature(report.Lat, report.Lng, map[string]any{
			"id":          report.ID,
			"descripcion": report.Description,
			"created_at":  report.CreatedAt.UTC().Format(time.RFC3339),
			"foto_url":    report.PhotoURL,
			"count":       1,
		}))
	}
	return collection
}

// CellLevelForZoom picks the S2 level whose cells are a few screen pixels wide.
func CellLevelForZoom(zoom float64) int {
	level := int(math.Round(zoom)) + 3
	if level < minCellLevel {
		return minCellLevel
	}
	if level > maxCellLevel {
		return maxCellLevel
	}
	return level
}

type cellAggregate struct {
	count  int
	sumLat float64
	sumLng float64
}

// AggregateGeoJSON merges reports sharing an S2 cell at low zoom. Each merged
// feature sits on the mean of its members and carries their count.
func AggregateGeoJSON(reports []Report, zoom float64) *geojson.FeatureCollection {
	if zoom >= AggregateBelowZoom {
		return ReportsGeoJSON(reports)
	}

	level := CellLevelForZoom(zoom)
	cells := make(map[s2.CellID]*cellAggregate)
	for _, report := range reports {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(report.Lat, report.Lng)).Parent(level)
		agg, ok := cells[cell]
		if !ok {
			agg = &cellAggregate{}
			cells[cell] = agg
		}
		agg.count++
		agg.sumLat += report.Lat
		agg.sumLng += report.Lng
	}

	ids := make([]s2.CellID, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	collection := geojson.NewFeatureCollection()
	for _, id := range ids {
		agg := cells[id]
		n := float64(agg.count)
		collection.AddFeature(pointFeature(agg.sumLat/n, agg.sumLng/n, map[string]any{
			"cell":  id.ToToken(),
			"count": agg.count,
		}))
	}
	return collection
}
