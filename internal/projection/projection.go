// Package projection converts geometry between the projected metric frame the
// ALKIS backend stores (ETRS89 / UTM, meters) and the geographic frame the map
// displays (WGS84 longitude/latitude, degrees).
//
// A Transformer is created once at startup for a fixed UTM zone and handed to
// every component that needs it.
package projection

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// Direction selects which of the two inverse projections is applied.
type Direction int

const (
	// ToGeographic converts projected meters to longitude/latitude.
	ToGeographic Direction = iota
	// ToProjected converts longitude/latitude to projected meters.
	ToProjected
)

func (d Direction) String() string {
	switch d {
	case ToGeographic:
		return "geographic"
	case ToProjected:
		return "projected"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ErrMalformedCoordinates is returned when a coordinate leaf is not a pair of numbers.
var ErrMalformedCoordinates = errors.New("malformed coordinates")

// DefaultZone is the UTM zone of the Berlin ALKIS data (EPSG:25833).
const DefaultZone = 33

// ETRS89 / UTM is defined for zones 28 to 38 (EPSG:25828 to EPSG:25838).
const (
	minZone = 28
	maxZone = 38

	epsgWGS84    = 4326
	epsgETRS89TM = 25800
)

type transform func(a, b, c float64) (float64, float64, float64)

// Transformer projects between ETRS89 / UTM (northern hemisphere) and WGS84.
type Transformer struct {
	zone         int
	toProjected  transform
	toGeographic transform
}

// New creates a transformer for the given UTM zone.
func New(zone int) (*Transformer, error) {
	if zone < minZone || zone > maxZone {
		return nil, fmt.Errorf("utm zone %d out of ETRS89 range %d..%d", zone, minZone, maxZone)
	}
	epsg := wgs84.EPSG()
	geographic := epsg.Code(epsgWGS84)
	projected := epsg.Code(epsgETRS89TM + zone)
	return &Transformer{
		zone:         zone,
		toProjected:  transform(geographic.To(projected)),
		toGeographic: transform(projected.To(geographic)),
	}, nil
}

// Zone returns the UTM zone the transformer was built for.
func (t *Transformer) Zone() int {
	return t.zone
}

// ToProjected converts a [lon, lat] point in degrees to [easting, northing] in meters.
func (t *Transformer) ToProjected(p orb.Point) orb.Point {
	east, north, _ := t.toProjected(p[0], p[1], 0)
	return orb.Point{east, north}
}

// ToGeographic converts an [easting, northing] point in meters to [lon, lat] in degrees.
func (t *Transformer) ToGeographic(p orb.Point) orb.Point {
	lon, lat, _ := t.toGeographic(p[0], p[1], 0)
	return orb.Point{lon, lat}
}

// Projection returns the orb.Projection for a direction.
func (t *Transformer) Projection(dir Direction) orb.Projection {
	if dir == ToProjected {
		return t.ToProjected
	}
	return t.ToGeographic
}

// ValidLonLat reports whether b lies within longitude -180..180 and latitude
// -90..90. NaN coordinates are invalid.
func ValidLonLat(b orb.Bound) bool {
	return b.Min.Lon() >= -180 && b.Max.Lon() <= 180 && b.Min.Lat() >= -90 && b.Max.Lat() <= 90
}
