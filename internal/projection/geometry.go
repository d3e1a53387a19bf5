package projection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// ErrNoGeometry is returned when a GeoJSON document carries no usable geometry.
var ErrNoGeometry = errors.New("no geometry")

// Coordinates transforms an arbitrarily nested coordinate array. Recursion stops
// at the first level that is exactly a pair of numbers; the result has the same
// shape as the input. Empty arrays pass through unchanged.
func (t *Transformer) Coordinates(v any, dir Direction) (any, error) {
	return transformNested(v, t.Projection(dir))
}

func transformNested(v any, proj orb.Projection) (any, error) {
	switch c := v.(type) {
	case []float64:
		if len(c) != 2 {
			return nil, fmt.Errorf("%w: want a pair, got %d numbers", ErrMalformedCoordinates, len(c))
		}
		p := proj(orb.Point{c[0], c[1]})
		return []float64{p[0], p[1]}, nil
	case []any:
		if pt, ok := numericPair(c); ok {
			p := proj(pt)
			return []any{p[0], p[1]}, nil
		}
		out := make([]any, len(c))
		for i, child := range c {
			tc, err := transformNested(child, proj)
			if err != nil {
				return nil, err
			}
			out[i] = tc
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformedCoordinates, v)
	}
}

func numericPair(c []any) (orb.Point, bool) {
	if len(c) != 2 {
		return orb.Point{}, false
	}
	x, ok := toFloat(c[0])
	if !ok {
		return orb.Point{}, false
	}
	y, ok := toFloat(c[1])
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{x, y}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Object transforms a decoded GeoJSON object. Geometry objects have just their
// coordinates field transformed. Features and feature collections are first
// unwrapped to their geometry; a collection only ever contributes its first
// feature.
func (t *Transformer) Object(obj map[string]any, dir Direction) (map[string]any, error) {
	geom, err := unwrapObject(obj)
	if err != nil {
		return nil, err
	}

	coords, ok := geom["coordinates"]
	if !ok {
		return nil, fmt.Errorf("%w: %v has no coordinates", ErrNoGeometry, geom["type"])
	}
	transformed, err := t.Coordinates(coords, dir)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(geom))
	for k, v := range geom {
		out[k] = v
	}
	out["coordinates"] = transformed
	return out, nil
}

func unwrapObject(obj map[string]any) (map[string]any, error) {
	switch obj["type"] {
	case "Feature":
		g, ok := obj["geometry"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: feature without geometry", ErrNoGeometry)
		}
		return g, nil
	case "FeatureCollection":
		features, _ := obj["features"].([]any)
		if len(features) == 0 {
			return nil, fmt.Errorf("%w: empty feature collection", ErrNoGeometry)
		}
		first, ok := features[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: malformed feature", ErrNoGeometry)
		}
		return unwrapObject(first)
	}
	return obj, nil
}

// Geometry returns a transformed copy of g. The input is left untouched.
func (t *Transformer) Geometry(g orb.Geometry, dir Direction) orb.Geometry {
	if g == nil {
		return nil
	}
	return project.Geometry(orb.Clone(g), t.Projection(dir))
}

// GeoJSON decodes a geometry, Feature or FeatureCollection document and returns
// its transformed geometry. Only the first feature of a collection is used.
func (t *Transformer) GeoJSON(data []byte, dir Direction) (orb.Geometry, error) {
	g, err := DecodeGeometry(data)
	if err != nil {
		return nil, err
	}
	return t.Geometry(g, dir), nil
}

// DecodeGeometry extracts the geometry from a GeoJSON geometry, Feature or
// FeatureCollection document without transforming it.
func DecodeGeometry(data []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}

	var g orb.Geometry
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature: %w", err)
		}
		g = f.Geometry
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature collection: %w", err)
		}
		g = FirstGeometry(fc)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrNoGeometry)
	default:
		gg, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %w", err)
		}
		g = gg.Geometry()
	}

	if g == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoGeometry, head.Type)
	}
	return g, nil
}

// FirstGeometry returns the geometry of the first feature, or nil.
func FirstGeometry(fc *geojson.FeatureCollection) orb.Geometry {
	if fc == nil || len(fc.Features) == 0 || fc.Features[0] == nil {
		return nil
	}
	return fc.Features[0].Geometry
}
