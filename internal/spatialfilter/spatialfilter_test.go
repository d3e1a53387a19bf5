package spatialfilter

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joeblew999/plat-alkis/internal/projection"
)

func newEncoder(t *testing.T) (*Encoder, *projection.Transformer, *observer.ObservedLogs) {
	t.Helper()
	tr, err := projection.New(projection.DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	return NewEncoder(tr, zap.New(core)), tr, logs
}

func TestEncodePoint(t *testing.T) {
	enc, tr, _ := newEncoder(t)
	in := orb.Point{13.405, 52.52}

	wkt, err := enc.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	m := regexp.MustCompile(`^POINT \(([-0-9.]+) ([-0-9.]+)\)$`).FindStringSubmatch(wkt)
	if m == nil {
		t.Fatalf("unexpected wkt %q", wkt)
	}
	x, _ := strconv.ParseFloat(m[1], 64)
	y, _ := strconv.ParseFloat(m[2], 64)
	back := tr.ToGeographic(orb.Point{x, y})
	if math.Abs(back[0]-in[0]) > 1e-6 || math.Abs(back[1]-in[1]) > 1e-6 {
		t.Fatalf("round trip %v -> %v", in, back)
	}
}

func TestEncodePolygonWithHole(t *testing.T) {
	enc, _, _ := newEncoder(t)
	poly := orb.Polygon{
		orb.Ring{{13.40, 52.50}, {13.42, 52.50}, {13.42, 52.52}, {13.40, 52.52}, {13.40, 52.50}},
		orb.Ring{{13.405, 52.505}, {13.41, 52.505}, {13.41, 52.51}, {13.405, 52.505}},
	}

	wkt, err := enc.Encode(poly)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^POLYGON \(\([^()]+\), \([^()]+\)\)$`).MatchString(wkt) {
		t.Fatalf("unexpected wkt %q", wkt)
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(wkt, "POLYGON (("), "))")
	rings := strings.Split(inner, "), (")
	if len(rings) != 2 {
		t.Fatalf("got %d rings", len(rings))
	}
	if n := len(strings.Split(rings[0], ", ")); n != 5 {
		t.Errorf("outer ring has %d coordinates, want 5", n)
	}
	if n := len(strings.Split(rings[1], ", ")); n != 4 {
		t.Errorf("hole has %d coordinates, want 4 (ring order preserved)", n)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	enc, _, _ := newEncoder(t)
	for _, g := range []orb.Geometry{
		orb.LineString{{13.4, 52.5}, {13.5, 52.6}},
		orb.MultiPolygon{},
		nil,
	} {
		if _, err := enc.Encode(g); !errors.Is(err, ErrUnsupportedGeometry) {
			t.Errorf("Encode(%T) error = %v", g, err)
		}
	}
}

func TestFromDrawing(t *testing.T) {
	enc, _, logs := newEncoder(t)

	if _, ok := enc.FromDrawing(nil); ok {
		t.Fatal("nil drawing should give no filter")
	}
	if _, ok := enc.FromDrawing(geojson.NewFeatureCollection()); ok {
		t.Fatal("empty drawing should give no filter")
	}

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{13.4, 52.5}))
	fc.Append(geojson.NewFeature(orb.LineString{{13.4, 52.5}, {13.5, 52.6}}))
	wkt, ok := enc.FromDrawing(fc)
	if !ok || !strings.HasPrefix(wkt, "POINT (") {
		t.Fatalf("got %q, %v", wkt, ok)
	}

	line := geojson.NewFeatureCollection()
	line.Append(geojson.NewFeature(orb.LineString{{13.4, 52.5}, {13.5, 52.6}}))
	if _, ok := enc.FromDrawing(line); ok {
		t.Fatal("line should give no filter")
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
}
