// Package tiler renders the current building list as Mapbox vector tiles so
// map widgets can draw large results as one vector layer instead of one shape
// per building.
package tiler

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
)

// LayerName is the name of the single layer in every tile.
const LayerName = "buildings"

// MaxZoom is the deepest zoom served.
const MaxZoom = 20

// ErrZoomOutOfRange is returned for tiles beyond MaxZoom.
var ErrZoomOutOfRange = errors.New("zoom out of range")

// Feature is one building to encode. Geometry is geographic [lon, lat].
type Feature struct {
	ID       string
	Name     string
	Geometry orb.Geometry
	Selected bool
}

type cacheKey struct {
	gen  uint64
	tile maptile.Tile
}

// Tiler encodes tiles on demand and caches them until the features change.
type Tiler struct {
	mu       sync.RWMutex
	features []Feature
	gen      uint64
	cache    *lru.Cache[cacheKey, []byte]
}

// New creates a tiler caching up to size encoded tiles.
func New(size int) (*Tiler, error) {
	cache, err := lru.New[cacheKey, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Tiler{cache: cache}, nil
}

// SetFeatures replaces the features and invalidates cached tiles.
func (t *Tiler) SetFeatures(features []Feature) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.features = features
	t.gen++
	t.cache.Purge()
}

// Tile returns the gzipped MVT for tile, or nil when no feature touches it.
func (t *Tiler) Tile(tile maptile.Tile) ([]byte, error) {
	if tile.Z > MaxZoom {
		return nil, ErrZoomOutOfRange
	}
	if n := uint32(1) << tile.Z; tile.X >= n || tile.Y >= n {
		return nil, ErrZoomOutOfRange
	}

	t.mu.RLock()
	features, gen := t.features, t.gen
	t.mu.RUnlock()

	key := cacheKey{gen: gen, tile: tile}
	if data, ok := t.cache.Get(key); ok {
		return data, nil
	}
	data, err := Encode(features, tile)
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, data)
	return data, nil
}

// Encode builds one tile from features.
func Encode(features []Feature, tile maptile.Tile) ([]byte, error) {
	bound := tile.Bound()
	fc := geojson.NewFeatureCollection()

	for _, f := range features {
		// Clip drops what only shares the bound with the tile.
		if f.Geometry == nil || !f.Geometry.Bound().Intersects(bound) {
			continue
		}
		// Clip and ProjectToTile mutate in place
		gf := geojson.NewFeature(orb.Clone(f.Geometry))
		gf.Properties["id"] = f.ID
		gf.Properties["name"] = f.Name
		gf.Properties["selected"] = f.Selected
		fc.Append(gf)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(LayerName, fc)
	if eps := simplifyEpsilon(tile.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}
	return mvt.MarshalGzipped(mvt.Layers{layer})
}

// simplifyEpsilon is the Douglas-Peucker tolerance in degrees. Building
// footprints are a few meters wide, so simplification stops early.
func simplifyEpsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 15:
		return 0
	case z >= 12:
		return 0.000005
	default:
		return 0.00002
	}
}
