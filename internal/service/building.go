package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/projection"
)

// DefaultGeometryCacheSize bounds the number of transformed geometries kept.
const DefaultGeometryCacheSize = 4096

// rawBuilding is a building record as the backend sends it, in the projected frame.
type rawBuilding struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	StreetName  string          `json:"street_name"`
	Geometry    json.RawMessage `json:"geometry_geojson"`
	Area        looseNumber     `json:"area"`
	FloorsAbove looseNumber     `json:"floors_above"`
	Centroid    string          `json:"centroid"`
	District    string          `json:"district"`
	DistrictAlt string          `json:"district_name"`
}

// looseNumber accepts a JSON number, a numeric string or null. Anything else is zero.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = looseNumber(v)
	return nil
}

// Parser turns raw backend records into Buildings in the geographic frame.
// Transformed geometries are cached by the hash of their source text since
// follow-up questions tend to return the same buildings again.
type Parser struct {
	tr    *projection.Transformer
	cache *lru.Cache[uint64, orb.Geometry]
	log   *zap.Logger
}

// NewParser creates a parser. size <= 0 uses DefaultGeometryCacheSize.
func NewParser(tr *projection.Transformer, size int, log *zap.Logger) (*Parser, error) {
	if size <= 0 {
		size = DefaultGeometryCacheSize
	}
	cache, err := lru.New[uint64, orb.Geometry](size)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{tr: tr, cache: cache, log: log}, nil
}

// Parse converts every record it can. A record that fails is dropped and
// reported as a Diagnostic; the others are still returned in order.
func (p *Parser) Parse(records []json.RawMessage) ([]Building, []Diagnostic) {
	buildings := make([]Building, 0, len(records))
	var diags []Diagnostic
	for i, raw := range records {
		b, err := p.parseRecord(i, raw)
		if err != nil {
			d := Diagnostic{Index: i, ID: b.ID, Reason: err.Error()}
			p.log.Warn("dropping building record",
				zap.Int("index", i),
				zap.String("id", b.ID),
				zap.Error(err),
			)
			diags = append(diags, d)
			continue
		}
		buildings = append(buildings, b)
	}
	return buildings, diags
}

func (p *Parser) parseRecord(i int, raw json.RawMessage) (Building, error) {
	b := Building{ID: strconv.Itoa(i)}

	var r rawBuilding
	if err := json.Unmarshal(raw, &r); err != nil {
		return b, fmt.Errorf("record: %w", err)
	}
	if id := recordID(r.ID); id != "" {
		b.ID = id
	}

	b.Name = r.Name
	if b.Name == "" {
		b.Name = r.StreetName
	}
	if b.Name == "" {
		b.Name = "Building " + b.ID
	}
	b.Area = float64(r.Area)
	b.Floors = int(r.FloorsAbove + 0.5)
	b.District = r.District
	if b.District == "" {
		b.District = r.DistrictAlt
	}

	geom, err := p.geometry(r.Geometry)
	if err != nil {
		return b, fmt.Errorf("geometry_geojson: %w", err)
	}
	b.Geometry = geom

	if r.Centroid != "" {
		c, err := p.centroid(r.Centroid)
		if err != nil {
			p.log.Debug("ignoring centroid", zap.String("id", b.ID), zap.Error(err))
		} else {
			b.Centroid = &c
		}
	}
	if b.Centroid == nil && geom != nil {
		c, _ := planar.CentroidArea(geom)
		b.Centroid = &LatLon{Lat: c.Lat(), Lon: c.Lon()}
	}
	return b, nil
}

// recordID renders a string or numeric id; anything else yields "".
func recordID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// geometry decodes geometry_geojson, which is usually GeoJSON embedded as a
// string but is also accepted as an inline object. A missing value is not an
// error.
func (p *Parser) geometry(raw json.RawMessage) (orb.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	data := []byte(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		data = []byte(s)
	}

	key := xxhash.Sum64(data)
	if g, ok := p.cache.Get(key); ok {
		return orb.Clone(g), nil
	}

	g, err := p.tr.GeoJSON(data, projection.ToGeographic)
	if err != nil {
		return nil, err
	}
	if !projection.ValidLonLat(g.Bound()) {
		return nil, errors.New("coordinates outside the geographic range after transform")
	}
	p.cache.Add(key, g)
	return orb.Clone(g), nil
}

// centroid parses a projected WKT point such as "Point (391234.5 5819876.1)".
func (p *Parser) centroid(s string) (LatLon, error) {
	pt, err := wkt.UnmarshalPoint(strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return LatLon{}, err
	}
	g := p.tr.ToGeographic(pt)
	return LatLon{Lat: g.Lat(), Lon: g.Lon()}, nil
}

