// Package spatialfilter turns a shape drawn on the map into the well-known
// text spatial filter the query backend expects, expressed in the projected
// frame.
package spatialfilter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/projection"
)

// ErrUnsupportedGeometry is returned for anything other than a Point or Polygon.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// Encoder serializes geographic geometries as projected WKT.
type Encoder struct {
	tr  *projection.Transformer
	log *zap.Logger
}

// NewEncoder creates an encoder. A nil logger disables warnings.
func NewEncoder(tr *projection.Transformer, log *zap.Logger) *Encoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Encoder{tr: tr, log: log}
}

// Encode projects g and formats it as WKT.
func (e *Encoder) Encode(g orb.Geometry) (string, error) {
	switch g.(type) {
	case orb.Point, orb.Polygon:
	case nil:
		return "", fmt.Errorf("%w: nil", ErrUnsupportedGeometry)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}

	switch p := e.tr.Geometry(g, projection.ToProjected).(type) {
	case orb.Point:
		return "POINT (" + formatPoint(p) + ")", nil
	case orb.Polygon:
		return "POLYGON (" + formatRings(p) + ")", nil
	}
	return "", ErrUnsupportedGeometry
}

// FromDrawing returns the filter for the current drawing. Only the first
// feature of the collection is used. An empty drawing or an unsupported shape
// yields no filter; the latter is logged, never returned as an error, so the
// query still goes out unfiltered.
func (e *Encoder) FromDrawing(fc *geojson.FeatureCollection) (string, bool) {
	g := projection.FirstGeometry(fc)
	if g == nil {
		return "", false
	}
	wkt, err := e.Encode(g)
	if err != nil {
		e.log.Warn("drawn geometry not usable as spatial filter", zap.Error(err))
		return "", false
	}
	return wkt, true
}

func formatRings(p orb.Polygon) string {
	rings := make([]string, len(p))
	for i, r := range p {
		coords := make([]string, len(r))
		for j, pt := range r {
			coords[j] = formatPoint(pt)
		}
		rings[i] = "(" + strings.Join(coords, ", ") + ")"
	}
	return strings.Join(rings, ", ")
}

func formatPoint(p orb.Point) string {
	return strconv.FormatFloat(p[0], 'f', -1, 64) + " " + strconv.FormatFloat(p[1], 'f', -1, 64)
}
