package sampler

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	ID         interface{}            `json:"id,omitempty"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates a new empty FeatureCollection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

// AddFeature appends a feature to the collection
func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

// ClassColor is the marker colour of a keypoint class: magenta maxima, cyan
// minima, yellow saddles
func ClassColor(c Classification) string {
	switch c {
	case Maximum:
		return "#FF00FF"
	case Minimum:
		return "#00FFFF"
	case Saddle:
		return "#FFFF00"
	default:
		return "#808080"
	}
}

// pointGeometry converts an orb.Point to a GeoJSON Point
func pointGeometry(p orb.Point) *Geometry {
	coordsJSON, _ := json.Marshal([2]float64{p[0], p[1]})
	return &Geometry{Type: GeometryPoint, Coordinates: coordsJSON}
}

// lineStringGeometry converts an orb.LineString to a GeoJSON LineString
func lineStringGeometry(ls orb.LineString) *Geometry {
	coords := make([][2]float64, len(ls))
	for i, p := range ls {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{Type: GeometryLineString, Coordinates: coordsJSON}
}

// polygonGeometry converts an orb.Polygon to a GeoJSON Polygon
func polygonGeometry(poly orb.Polygon) *Geometry {
	rings := make([][][2]float64, len(poly))
	for i, ring := range poly {
		coords := make([][2]float64, len(ring))
		for j, p := range ring {
			coords[j] = [2]float64{p[0], p[1]}
		}
		rings[i] = coords
	}
	coordsJSON, _ := json.Marshal(rings)
	return &Geometry{Type: GeometryPolygon, Coordinates: coordsJSON}
}

// GridBound returns the axis-aligned extent of a grid in its reference frame
func GridBound(grid *OccupancyGrid) orb.Bound {
	corners := orb.MultiPoint{}
	for _, c := range [][2]int{{0, 0}, {grid.Width, 0}, {grid.Width, grid.Height}, {0, grid.Height}} {
		p := grid.CellToWorld(c[0], c[1])
		corners = append(corners, orb.Point{p.X, p.Y})
	}
	return corners.Bound()
}

// KeypointsToFeatureCollection describes a feature map as GeoJSON: one
// coloured Point per keypoint plus the grid extent as a Polygon
func KeypointsToFeatureCollection(fm *FeatureMap, frame string) *FeatureCollection {
	fc := NewFeatureCollection()
	if fm == nil || fm.Grid == nil {
		return fc
	}

	extent := NewFeature(polygonGeometry(GridBound(fm.Grid).ToPolygon()), map[string]interface{}{
		"layer":      "extent",
		"frame":      frame,
		"resolution": fm.Grid.Resolution,
	})
	extent.ID = "extent"
	fc.AddFeature(extent)

	for i, kp := range fm.Keypoints {
		props := map[string]interface{}{
			"layer": "keypoint",
			"class": kp.Class.String(),
			"color": ClassColor(kp.Class),
			"u":     kp.U,
			"v":     kp.V,
		}
		if i < len(fm.Features) {
			f := fm.Features[i]
			props["dominantOrientation"] = f.DominantOrientation
			props["averageDistance"] = f.AverageDistance
			props["cells"] = f.Cells
		}
		feature := NewFeature(pointGeometry(orb.Point{kp.X, kp.Y}), props)
		feature.ID = i
		fc.AddFeature(feature)
	}
	return fc
}

// PosesToFeatureCollection draws each hypothesis as a short heading arrow of
// the given length
func PosesToFeatureCollection(batch PoseBatch, arrowLength float64) *FeatureCollection {
	fc := NewFeatureCollection()
	for i, h := range batch.Poses {
		tail := orb.Point{h.Pose.X, h.Pose.Y}
		head := orb.Point{
			h.Pose.X + arrowLength*math.Cos(h.Pose.Yaw),
			h.Pose.Y + arrowLength*math.Sin(h.Pose.Yaw),
		}
		feature := NewFeature(lineStringGeometry(orb.LineString{tail, head}), map[string]interface{}{
			"layer":        "pose",
			"yaw":          h.Pose.Yaw,
			"matchingRate": h.MatchingRate,
			"localIndex":   h.LocalIndex,
			"globalIndex":  h.GlobalIndex,
			"batch":        batch.ID,
		})
		feature.ID = i
		fc.AddFeature(feature)
	}
	return fc
}
