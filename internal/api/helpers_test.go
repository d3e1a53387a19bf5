package api

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/db"
	"github.com/joeblew999/plat-alkis/internal/projection"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/spatialfilter"
	"github.com/joeblew999/plat-alkis/internal/tiler"
)

type stubBackend struct {
	mu        sync.Mutex
	healthErr error
	queryErr  error
	response  *backend.Response
	block     chan struct{}
	calls     int
}

func (b *stubBackend) Health(context.Context) error { return b.healthErr }

func (b *stubBackend) Query(ctx context.Context, req backend.Request) (*backend.Response, error) {
	b.mu.Lock()
	b.calls++
	block := b.block
	b.mu.Unlock()
	if block != nil {
		<-block
	}
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	return b.response, nil
}

func (b *stubBackend) Stream(ctx context.Context, req backend.Request, fn func(backend.Event) error) error {
	resp, err := b.Query(ctx, req)
	if err != nil {
		return err
	}
	return fn(backend.Final{Response: resp})
}

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Both test buildings sit in Berlin Mitte.
var (
	zeughaus    = orb.Point{13.3969, 52.5178}
	altesMuseum = orb.Point{13.3985, 52.5195}
)

// buildingsResponse answers with two buildings in the projected frame.
func buildingsResponse(t *testing.T, tr *projection.Transformer) *backend.Response {
	t.Helper()
	records := []map[string]any{
		{"id": "a", "name": "Zeughaus", "area": 100, "floors_above": 2, "district": "Mitte",
			"geometry_geojson": projectedSquare(t, tr, zeughaus)},
		{"id": "b", "name": "Altes Museum", "area": 300, "floors_above": 3, "district": "Mitte",
			"geometry_geojson": projectedSquare(t, tr, altesMuseum)},
	}
	data, err := json.Marshal(map[string]any{
		"buildings":  records,
		"statistics": map[string]any{"building_count": 2, "area_mean": 200},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &backend.Response{
		FinalAnswer: "Found 2 buildings.",
		CypherQuery: "MATCH (b:Building) RETURN b",
		Results:     []json.RawMessage{data},
	}
}

func projectedSquare(t *testing.T, tr *projection.Transformer, p orb.Point) string {
	t.Helper()
	c := tr.ToProjected(p)
	const d = 15
	poly := orb.Polygon{{
		{c[0] - d, c[1] - d}, {c[0] + d, c[1] - d}, {c[0] + d, c[1] + d}, {c[0] - d, c[1] + d}, {c[0] - d, c[1] - d},
	}}
	data, err := json.Marshal(geojson.NewGeometry(poly))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

type testEnv struct {
	api     humatest.TestAPI
	svc     *Services
	backend *stubBackend
	tr      *projection.Transformer
}

func newTestEnv(t *testing.T, withStats bool) *testEnv {
	t.Helper()
	tr, err := projection.New(projection.DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubBackend{response: buildingsResponse(t, tr)}

	cfg := config.Default()
	bus := service.NewEventBus()
	session := service.NewMapSession(service.NewBusCanvas(bus), cfg, nil)
	if err := session.Open(); err != nil {
		t.Fatal(err)
	}
	parser, err := service.NewParser(tr, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	tiles, err := tiler.New(16)
	if err != nil {
		t.Fatal(err)
	}
	coord := service.NewCoordinator(service.CoordinatorDeps{
		Backend:   stub,
		Parser:    parser,
		Encoder:   spatialfilter.NewEncoder(tr, nil),
		Session:   session,
		Selection: service.NewSelection(),
		Tiles:     tiles,
		Bus:       bus,
	}, service.CoordinatorConfig{})

	svc := &Services{
		Backend:     stub,
		Coordinator: coord,
		Session:     session,
		Exporter:    service.NewExporter(),
		Tiles:       tiles,
		Config:      cfg,
	}
	if withStats {
		conn, err := db.Open(db.Config{})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { conn.Close() })
		svc.Stats = service.NewStats(conn)
	}

	humaCfg := huma.DefaultConfig("test", Version)
	humaCfg.Transformers = append(humaCfg.Transformers, LinkTransformer())
	_, api := humatest.New(t, humaCfg)
	RegisterRoutes(api, svc)
	NewInfoHandler("http://backend.test/api", projection.DefaultZone, false, withStats).RegisterRoutes(api)

	return &testEnv{api: api, svc: svc, backend: stub, tr: tr}
}

// ask sends the default question and fails the test unless it succeeds.
func (e *testEnv) ask(t *testing.T) {
	t.Helper()
	resp := e.api.Post("/api/v1/chat", map[string]any{"question": "museums in Mitte"})
	if resp.Code != 200 {
		t.Fatalf("chat status %d: %s", resp.Code, resp.Body.String())
	}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return v
}
