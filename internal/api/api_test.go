package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/service"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.api.Get("/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
	if body := decode[HealthBody](t, resp.Body.Bytes()); body.Status != "ok" || body.Backend != "online" {
		t.Fatalf("body = %+v", body)
	}
	if links := resp.Header().Values("Link"); len(links) == 0 || !strings.Contains(links[0], "/api/v1/info") {
		t.Fatalf("links = %v", links)
	}

	env.backend.healthErr = backend.ErrUnavailable
	resp = env.api.Get("/health")
	if body := decode[HealthBody](t, resp.Body.Bytes()); body.Backend != "offline" {
		t.Fatalf("body = %+v", body)
	}
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, false)
	body := decode[InfoBody](t, env.api.Get("/api/v1/info").Body.Bytes())
	if body.Name != "plat-alkis" || body.Projection != "EPSG:25833" || body.Statistics {
		t.Fatalf("info = %+v", body)
	}
}

func TestChatAnswer(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.api.Post("/api/v1/chat", map[string]any{"question": "museums in Mitte"})
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	body := decode[ChatBody](t, resp.Body.Bytes())
	if body.Reply == nil || body.Reply.Content != "Found 2 buildings." || body.Buildings != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.CypherQuery != "MATCH (b:Building) RETURN b" {
		t.Errorf("cypher = %q", body.CypherQuery)
	}

	state := decode[service.Snapshot](t, env.api.Get("/api/v1/state").Body.Bytes())
	if len(state.Transcript) != 3 || state.Busy || state.Statistics == nil || state.Statistics.BuildingCount != 2 {
		t.Fatalf("state = %+v", state)
	}
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name     string
		question string
		setup    func(*stubBackend)
		want     int
	}{
		{"blank question", "   ", nil, http.StatusUnprocessableEntity},
		{"missing question", "", nil, http.StatusUnprocessableEntity},
		{"backend offline", "q", func(b *stubBackend) { b.healthErr = backend.ErrUnavailable }, http.StatusServiceUnavailable},
		{"query failed", "q", func(b *stubBackend) { b.queryErr = errors.New("boom") }, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			if tt.setup != nil {
				tt.setup(env.backend)
			}
			resp := env.api.Post("/api/v1/chat", map[string]any{"question": tt.question})
			if resp.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", resp.Code, tt.want, resp.Body.String())
			}
		})
	}
}

func TestChatBusy(t *testing.T) {
	env := newTestEnv(t, false)
	env.backend.block = make(chan struct{})

	done := make(chan int)
	go func() {
		done <- env.api.Post("/api/v1/chat", map[string]any{"question": "first"}).Code
	}()
	deadline := time.After(5 * time.Second)
	for env.backend.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first question never reached the backend")
		case <-time.After(time.Millisecond):
		}
	}

	if resp := env.api.Post("/api/v1/chat", map[string]any{"question": "second"}); resp.Code != http.StatusConflict {
		t.Fatalf("second question status %d", resp.Code)
	}
	close(env.backend.block)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first question status %d", code)
	}
}

func TestBuildings(t *testing.T) {
	env := newTestEnv(t, false)
	env.ask(t)

	body := decode[BuildingsBody](t, env.api.Get("/api/v1/buildings?sort=name").Body.Bytes())
	if body.Total != 2 || body.Data[0].ID != "b" || body.Data[1].ID != "a" {
		t.Fatalf("sorted by name = %+v", body.Data)
	}
	body = decode[BuildingsBody](t, env.api.Get("/api/v1/buildings").Body.Bytes())
	if body.Data[0].ID != "b" {
		t.Fatalf("default sort should put the larger building first: %+v", body.Data)
	}

	resp := env.api.Get("/api/v1/buildings?limit=1&offset=1")
	body = decode[BuildingsBody](t, resp.Body.Bytes())
	if body.Total != 2 || len(body.Data) != 1 || body.Data[0].ID != "a" {
		t.Fatalf("second page = %+v", body)
	}
	if links := strings.Join(resp.Header().Values("Link"), ","); !strings.Contains(links, `rel="prev"`) || strings.Contains(links, `rel="next"`) {
		t.Fatalf("paging links = %s", links)
	}
	if resp := env.api.Get("/api/v1/buildings?sort=height"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown sort status %d", resp.Code)
	}

	resp = env.api.Get("/api/v1/buildings/a")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
	one := decode[map[string]any](t, resp.Body.Bytes())
	geom, ok := one["geometry"].(map[string]any)
	if !ok || geom["type"] != "Polygon" || one["name"] != "Zeughaus" {
		t.Fatalf("building = %v", one)
	}
	if !strings.Contains(strings.Join(resp.Header().Values("Link"), ","), `rel="self"`) {
		t.Error("item response has no self link")
	}

	if resp := env.api.Get("/api/v1/buildings/nope"); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown building status %d", resp.Code)
	}
}

func TestSelectionAndExport(t *testing.T) {
	env := newTestEnv(t, false)
	env.ask(t)

	if resp := env.api.Get("/api/v1/export/selected"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty selection export status %d", resp.Code)
	}

	sel := decode[SelectionBody](t, env.api.Post("/api/v1/selection/a").Body.Bytes())
	if sel.Count != 1 || sel.Selected[0] != "a" {
		t.Fatalf("selection = %+v", sel)
	}
	if resp := env.api.Post("/api/v1/selection/ghost"); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown id status %d", resp.Code)
	}

	resp := env.api.Get("/api/v1/export/selected")
	if resp.Code != http.StatusOK {
		t.Fatalf("export status %d: %s", resp.Code, resp.Body.String())
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "alkis-buildings-selected-1.geojson") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	fc := decode[map[string]any](t, resp.Body.Bytes())
	features, _ := fc["features"].([]any)
	meta, _ := fc["metadata"].(map[string]any)
	if len(features) != 1 || meta["source"] != service.ExportSource {
		t.Fatalf("export = %v", fc)
	}

	resp = env.api.Get("/api/v1/export/all?format=csv")
	if ct := resp.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n"); len(lines) != 3 {
		t.Fatalf("csv has %d lines", len(lines))
	}

	sel = decode[SelectionBody](t, env.api.Post("/api/v1/selection/all").Body.Bytes())
	if sel.Count != 2 {
		t.Fatalf("select all = %+v", sel)
	}
	sel = decode[SelectionBody](t, env.api.Delete("/api/v1/selection").Body.Bytes())
	if sel.Count != 0 {
		t.Fatalf("clear = %+v", sel)
	}
}

func TestExportBeforeAnyQuestion(t *testing.T) {
	env := newTestEnv(t, false)
	if resp := env.api.Get("/api/v1/export/all"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.Code)
	}
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t, true)
	env.ask(t)

	resp := env.api.Get("/api/v1/statistics")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	body := decode[StatisticsBody](t, resp.Body.Bytes())
	if body.Summary.TotalBuildings != 2 || body.Summary.AverageArea != 200 || body.Summary.Districts != 1 {
		t.Fatalf("summary = %+v", body.Summary)
	}
	if body.Backend == nil || body.Backend.AreaMean != 200 {
		t.Fatalf("backend statistics = %+v", body.Backend)
	}

	if resp := newTestEnv(t, false).api.Get("/api/v1/statistics"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("without engine status %d", resp.Code)
	}
}

func TestDrawing(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.api.Post("/api/v1/map/drawing", strings.NewReader(`{"kind":"created","geometry":{"type":"Polygon",
		"coordinates":[[[13.39,52.51],[13.41,52.51],[13.41,52.53],[13.39,52.51]]]}}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	body := decode[DrawingBody](t, resp.Body.Bytes())
	if !strings.HasPrefix(body.SpatialFilter, "POLYGON ((") {
		t.Fatalf("filter = %q", body.SpatialFilter)
	}
	if m := decode[MapBody](t, env.api.Get("/api/v1/map").Body.Bytes()); !m.Drawing || m.State != "drawing" {
		t.Fatalf("map = %+v", m)
	}

	if resp := env.api.Delete("/api/v1/map/drawing"); resp.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.Code)
	}
	body = decode[DrawingBody](t, env.api.Get("/api/v1/map/drawing").Body.Bytes())
	if body.SpatialFilter != "" {
		t.Fatalf("filter after clear = %q", body.SpatialFilter)
	}

	for _, bad := range []string{
		`{"kind":"scribbled"}`,
		`{"kind":"created"}`,
		`{"kind":"created","geometry":{"type":"Point","coordinates":"x"}}`,
		`{"kind":"created","geometry":{"type":"Point","coordinates":[500000,5800000]}}`,
		`not json`,
	} {
		if resp := env.api.Post("/api/v1/map/drawing", strings.NewReader(bad)); resp.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status %d", bad, resp.Code)
		}
	}
}

func TestMapLayersAndViewport(t *testing.T) {
	env := newTestEnv(t, false)

	m := decode[MapBody](t, env.api.Put("/api/v1/map/layer", map[string]any{"key": "satellite"}).Body.Bytes())
	if m.BaseLayer.Key != "satellite" || len(m.Layers) != 2 {
		t.Fatalf("map = %+v", m)
	}
	if resp := env.api.Put("/api/v1/map/layer", map[string]any{"key": "terrain"}); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown layer status %d", resp.Code)
	}
	m = decode[MapBody](t, env.api.Post("/api/v1/map/layer/toggle").Body.Bytes())
	if m.BaseLayer.Key != "street" {
		t.Fatalf("toggled to %q", m.BaseLayer.Key)
	}

	view := map[string]any{"center": map[string]any{"lat": 52.5, "lon": 13.4}, "zoom": 15}
	if resp := env.api.Put("/api/v1/map/viewport", view); resp.Code != http.StatusNoContent {
		t.Fatalf("viewport status %d: %s", resp.Code, resp.Body.String())
	}
	if m := decode[MapBody](t, env.api.Get("/api/v1/map").Body.Bytes()); m.Viewport.Zoom != 15 {
		t.Fatalf("viewport = %+v", m.Viewport)
	}
	view["zoom"] = 3
	if resp := env.api.Put("/api/v1/map/viewport", view); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("out of range zoom status %d", resp.Code)
	}
}

func TestZoomToBuilding(t *testing.T) {
	env := newTestEnv(t, false)
	env.ask(t)

	if resp := env.api.Post("/api/v1/buildings/a/zoom"); resp.Code != http.StatusNoContent {
		t.Fatalf("status %d", resp.Code)
	}
	if resp := env.api.Post("/api/v1/buildings/ghost/zoom"); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown building status %d", resp.Code)
	}
}

func TestTiles(t *testing.T) {
	env := newTestEnv(t, false)
	env.ask(t)

	path := func(tile maptile.Tile) string {
		return fmt.Sprintf("/tiles/buildings/%d/%d/%d.mvt", tile.Z, tile.X, tile.Y)
	}

	resp := env.api.Get(path(maptile.At(zeughaus, 16)))
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("Content-Encoding") != "gzip" || resp.Body.Len() == 0 {
		t.Fatalf("headers %v, %d bytes", resp.Header(), resp.Body.Len())
	}

	if resp := env.api.Get(path(maptile.At(orb.Point{2.35, 48.85}, 16))); resp.Code != http.StatusNoContent {
		t.Fatalf("empty tile status %d", resp.Code)
	}
	if resp := env.api.Get("/tiles/buildings/16/1/abc.mvt"); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad row status %d", resp.Code)
	}
	if resp := env.api.Get("/tiles/buildings/25/1/1.mvt"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("deep zoom status %d", resp.Code)
	}
}

func TestParseDrawEventDeleted(t *testing.T) {
	ev, err := ParseDrawEvent([]byte(`{"kind":"deleted","geometry":null}`))
	if err != nil || ev.Kind != service.DrawDeleted || ev.Geometry != nil {
		t.Fatalf("event = %+v, %v", ev, err)
	}
}
