package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-alkis/internal/api"
	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/projection"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/spatialfilter"
	"github.com/joeblew999/plat-alkis/internal/templates"
)

const fragmentsDir = "../../../web/templates/fragments"

type stubBackend struct {
	healthErr error
	response  *backend.Response
}

func (b *stubBackend) Health(context.Context) error { return b.healthErr }

func (b *stubBackend) Query(context.Context, backend.Request) (*backend.Response, error) {
	return b.response, nil
}

func (b *stubBackend) Stream(ctx context.Context, req backend.Request, fn func(backend.Event) error) error {
	return fn(backend.Final{Response: b.response})
}

// response answers with a large "Zeughaus" and a small "Altes Museum", the
// latter without geometry.
func response(t *testing.T, tr *projection.Transformer) *backend.Response {
	t.Helper()
	c := tr.ToProjected(orb.Point{13.3969, 52.5178})
	square := orb.Polygon{{
		{c[0] - 20, c[1] - 20}, {c[0] + 20, c[1] - 20}, {c[0] + 20, c[1] + 20}, {c[0] - 20, c[1] + 20}, {c[0] - 20, c[1] - 20},
	}}
	geom, err := json.Marshal(geojson.NewGeometry(square))
	if err != nil {
		t.Fatal(err)
	}
	var results []json.RawMessage
	for _, rec := range []map[string]any{
		{"id": "a", "name": "Zeughaus", "area": 1600, "floors_above": 2, "district": "Mitte", "geometry_geojson": string(geom)},
		{"id": "b", "name": "Altes Museum", "area": 900, "floors_above": 3, "district": "Mitte"},
	} {
		data, err := json.Marshal(rec)
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, data)
	}
	return &backend.Response{FinalAnswer: "Found 2 buildings.", Results: results}
}

type testEnv struct {
	mux     *http.ServeMux
	svc     *api.Services
	backend *stubBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tr, err := projection.New(projection.DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubBackend{response: response(t, tr)}

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
	coord := service.NewCoordinator(service.CoordinatorDeps{
		Backend:   stub,
		Parser:    parser,
		Encoder:   spatialfilter.NewEncoder(tr, nil),
		Session:   session,
		Selection: service.NewSelection(),
		Bus:       bus,
	}, service.CoordinatorConfig{})

	svc := &api.Services{
		Backend:     stub,
		Coordinator: coord,
		Session:     session,
		Exporter:    service.NewExporter(),
		Config:      cfg,
	}
	renderer, err := templates.New(fragmentsDir)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	humaAPI := humago.New(mux, huma.DefaultConfig("test", api.Version))
	New(svc, bus, renderer, nil).RegisterRoutes(humaAPI)
	return &testEnv{mux: mux, svc: svc, backend: stub}
}

func (e *testEnv) ask(t *testing.T) {
	t.Helper()
	if err := e.svc.Coordinator.Send(context.Background(), "museums in Mitte"); err != nil {
		t.Fatal(err)
	}
}

// post sends signals to a UI action and returns the SSE response.
func (e *testEnv) post(t *testing.T, path string, signals map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	if signals == nil {
		signals = map[string]any{}
	}
	body, err := json.Marshal(signals)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}
