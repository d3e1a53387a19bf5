package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-alkis/internal/humastar"
	"github.com/joeblew999/plat-alkis/internal/projection"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/tiler"
)

const healthProbeTimeout = 3 * time.Second

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	body := HealthBody{Status: "ok", Version: Version, Backend: "offline"}
	if h.svc.Backend != nil {
		ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		if h.svc.Backend.Health(ctx) == nil {
			body.Backend = "online"
		}
	}
	return &struct{ Body HealthBody }{Body: body}, nil
}

func (h *APIHandler) GetState(ctx context.Context, input *struct{}) (*StateOutput, error) {
	return &StateOutput{Body: h.svc.Coordinator.Snapshot()}, nil
}

func (h *APIHandler) PostChat(ctx context.Context, input *ChatInput) (*struct{ Body ChatBody }, error) {
	coord := h.svc.Coordinator
	before := len(coord.Transcript())
	if err := coord.Send(ctx, input.Body.Question); err != nil {
		return nil, chatError(err)
	}

	snap := coord.Snapshot()
	body := ChatBody{
		Buildings:   len(snap.Buildings),
		CypherQuery: snap.CypherQuery,
		Diagnostics: snap.Diagnostics,
	}
	// the user message sits at index before, an answer right after it
	if n := len(snap.Transcript); n > before+1 {
		if last := snap.Transcript[n-1]; last.Role == service.RoleAssistant {
			body.Reply = &last
		}
	}
	return &struct{ Body ChatBody }{Body: body}, nil
}

func chatError(err error) error {
	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrBusy):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrBackendUnavailable):
		return huma.Error503ServiceUnavailable("The question-answering service is not reachable", err)
	case errors.Is(err, service.ErrQueryFailed):
		return huma.Error502BadGateway(service.FailureMessage, err)
	}
	return huma.Error500InternalServerError("question failed", err)
}

func (h *APIHandler) PutThinking(ctx context.Context, input *ThinkingInput) (*struct{}, error) {
	h.svc.Coordinator.SetShowThinking(input.Body.Show)
	return &struct{}{}, nil
}

func (h *APIHandler) GetBuildings(ctx context.Context, input *BuildingsInput) (*struct{ Body BuildingsBody }, error) {
	sel := h.svc.Coordinator.Selection()
	list := service.SortBuildings(h.svc.Coordinator.Buildings(), service.SortKey(input.Sort))

	items := make([]BuildingItem, len(list))
	for i, b := range list {
		items[i] = BuildingItem{Building: b, Selected: sel.Contains(b.ID)}
	}
	return &struct{ Body BuildingsBody }{Body: BuildingsBody{
		PageBody: humastar.Page(items, input.Offset, input.Limit),
		Selected: sel.Len(),
	}}, nil
}

func (h *APIHandler) GetBuilding(ctx context.Context, input *IDInput) (*struct{ Body BuildingBody }, error) {
	b, ok := h.svc.Coordinator.Building(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("building not found")
	}
	body := BuildingBody{BuildingItem: BuildingItem{
		Building: b,
		Selected: h.svc.Coordinator.Selection().Contains(b.ID),
	}}
	if b.HasGeometry() {
		raw, err := json.Marshal(geojson.NewGeometry(b.Geometry))
		if err != nil {
			return nil, huma.Error500InternalServerError("encoding geometry", err)
		}
		body.Geometry = raw
	}
	return &struct{ Body BuildingBody }{Body: body}, nil
}

func (h *APIHandler) ZoomBuilding(ctx context.Context, input *IDInput) (*struct{}, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	if !h.svc.Session.ZoomToBuilding(input.ID) {
		return nil, huma.Error404NotFound("building is not on the map")
	}
	return &struct{}{}, nil
}

func (h *APIHandler) selectionBody() *struct{ Body SelectionBody } {
	ids := h.svc.Coordinator.Selection().IDs()
	return &struct{ Body SelectionBody }{Body: SelectionBody{Selected: ids, Count: len(ids)}}
}

func (h *APIHandler) GetSelection(ctx context.Context, input *struct{}) (*struct{ Body SelectionBody }, error) {
	return h.selectionBody(), nil
}

func (h *APIHandler) ToggleSelection(ctx context.Context, input *IDInput) (*struct{ Body SelectionBody }, error) {
	if _, ok := h.svc.Coordinator.Building(input.ID); !ok {
		return nil, huma.Error404NotFound("building not found")
	}
	h.svc.Coordinator.ToggleSelection(input.ID)
	return h.selectionBody(), nil
}

func (h *APIHandler) SelectAll(ctx context.Context, input *struct{}) (*struct{ Body SelectionBody }, error) {
	h.svc.Coordinator.SelectAll()
	return h.selectionBody(), nil
}

func (h *APIHandler) ClearSelection(ctx context.Context, input *struct{}) (*struct{ Body SelectionBody }, error) {
	h.svc.Coordinator.ClearSelection()
	return h.selectionBody(), nil
}

func (h *APIHandler) GetStatistics(ctx context.Context, input *struct{}) (*struct{ Body StatisticsBody }, error) {
	if h.svc.Stats == nil {
		return nil, huma.Error503ServiceUnavailable("statistics engine not available")
	}
	snap := h.svc.Coordinator.Snapshot()
	summary, err := h.svc.Stats.Summarize(ctx, snap.Buildings)
	if err != nil {
		return nil, huma.Error500InternalServerError("computing statistics", err)
	}
	return &struct{ Body StatisticsBody }{Body: StatisticsBody{Summary: summary, Backend: snap.Statistics}}, nil
}

func (h *APIHandler) GetExport(ctx context.Context, input *ExportInput) (*FileOutput, error) {
	x, err := Export(h.svc, input.Scope)
	if err != nil {
		if errors.Is(err, service.ErrNothingToExport) {
			return nil, huma.Error422UnprocessableEntity("No buildings to export.")
		}
		return nil, huma.Error400BadRequest(err.Error())
	}

	if input.Format == "csv" {
		var buf bytes.Buffer
		if err := x.WriteCSV(&buf); err != nil {
			return nil, huma.Error500InternalServerError("writing csv", err)
		}
		return &FileOutput{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: attachment(x.CSVFilename()),
			Body:               buf.Bytes(),
		}, nil
	}

	data, err := json.MarshalIndent(x.Collection, "", "  ")
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding export", err)
	}
	return &FileOutput{
		ContentType:        "application/geo+json",
		ContentDisposition: attachment(x.Filename),
		Body:               data,
	}, nil
}

// Export builds the download for scope "all" or "selected" from the
// coordinator's current result.
func Export(svc *Services, scope string) (*service.Export, error) {
	list := svc.Coordinator.Buildings()
	switch scope {
	case "all":
		return svc.Exporter.ExportAll(list)
	case "selected":
		return svc.Exporter.ExportSelected(list, svc.Coordinator.Selection().Set())
	}
	return nil, fmt.Errorf("unknown export scope %q", scope)
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}

func (h *APIHandler) mapBody() (*struct{ Body MapBody }, error) {
	s := h.svc.Session
	if s == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	m := h.svc.Config.Map
	return &struct{ Body MapBody }{Body: MapBody{
		State:     s.State().String(),
		Viewport:  s.Viewport(),
		MinZoom:   m.MinZoom,
		MaxZoom:   m.MaxZoom,
		BaseLayer: s.BaseLayer(),
		Layers:    s.BaseLayers(),
		Styles:    h.svc.Config.Styles,
		Shapes:    s.ShapeCount(),
		Drawing:   s.DrawnGeometry() != nil,
	}}, nil
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, service.ErrUnknownLayer):
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error422UnprocessableEntity(err.Error())
}

func (h *APIHandler) GetMap(ctx context.Context, input *struct{}) (*struct{ Body MapBody }, error) {
	return h.mapBody()
}

func (h *APIHandler) PutLayer(ctx context.Context, input *LayerInput) (*struct{ Body MapBody }, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	if err := h.svc.Session.ApplyLayer(input.Body.Key); err != nil {
		return nil, sessionError(err)
	}
	return h.mapBody()
}

func (h *APIHandler) ToggleLayer(ctx context.Context, input *struct{}) (*struct{ Body MapBody }, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	if _, err := h.svc.Session.ToggleBaseLayer(); err != nil {
		return nil, sessionError(err)
	}
	return h.mapBody()
}

func (h *APIHandler) PutViewport(ctx context.Context, input *ViewportInput) (*struct{}, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	v, m := input.Body, h.svc.Config.Map
	if v.Zoom < m.MinZoom || v.Zoom > m.MaxZoom {
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("zoom must be between %d and %d", m.MinZoom, m.MaxZoom))
	}
	if v.Center.Lat < -90 || v.Center.Lat > 90 || v.Center.Lon < -180 || v.Center.Lon > 180 {
		return nil, huma.Error422UnprocessableEntity("center is outside the geographic range")
	}
	h.svc.Session.SetViewport(v)
	return &struct{}{}, nil
}

type DrawingBody struct {
	Geometry      json.RawMessage `json:"geometry" doc:"Drawn shapes as a GeoJSON FeatureCollection"`
	SpatialFilter string          `json:"spatialFilter,omitempty" doc:"WKT filter the next question will carry"`
}

func (h *APIHandler) drawingBody() (*struct{ Body DrawingBody }, error) {
	fc := h.svc.Session.DrawnGeometry()
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	raw, err := json.Marshal(fc)
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding drawing", err)
	}
	body := DrawingBody{Geometry: raw}
	if wkt, ok := h.svc.Coordinator.SpatialFilter(); ok {
		body.SpatialFilter = wkt
	}
	return &struct{ Body DrawingBody }{Body: body}, nil
}

func (h *APIHandler) GetDrawing(ctx context.Context, input *struct{}) (*struct{ Body DrawingBody }, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	return h.drawingBody()
}

// PostDraw receives a drawing tool event from the map widget:
// {"kind": "created|edited|deleted", "geometry": <GeoJSON geometry>}.
func (h *APIHandler) PostDraw(ctx context.Context, input *DrawInput) (*struct{ Body DrawingBody }, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	ev, err := ParseDrawEvent(input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := h.svc.Session.HandleDraw(ev); err != nil {
		return nil, sessionError(err)
	}
	return h.drawingBody()
}

// ParseDrawEvent decodes a drawing tool event.
func ParseDrawEvent(body []byte) (service.DrawEvent, error) {
	var msg struct {
		Kind     service.DrawKind `json:"kind"`
		Geometry json.RawMessage  `json:"geometry"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return service.DrawEvent{}, fmt.Errorf("invalid draw event: %w", err)
	}
	ev := service.DrawEvent{Kind: msg.Kind}
	if len(msg.Geometry) == 0 || string(msg.Geometry) == "null" {
		return ev, nil
	}
	g, err := geojson.UnmarshalGeometry(msg.Geometry)
	if err != nil {
		return service.DrawEvent{}, fmt.Errorf("invalid geometry: %w", err)
	}
	ev.Geometry = g.Geometry()
	if ev.Geometry == nil || !projection.ValidLonLat(ev.Geometry.Bound()) {
		return service.DrawEvent{}, errors.New("geometry is empty or outside the geographic range")
	}
	return ev, nil
}

func (h *APIHandler) DeleteDrawing(ctx context.Context, input *struct{}) (*struct{}, error) {
	if h.svc.Session == nil {
		return nil, huma.Error503ServiceUnavailable("map not available")
	}
	if err := h.svc.Session.ClearDrawing(); err != nil {
		return nil, sessionError(err)
	}
	return &struct{}{}, nil
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if h.svc.Tiles == nil {
		return nil, huma.Error503ServiceUnavailable("vector tiles not available")
	}
	y, err := strconv.ParseUint(strings.TrimSuffix(input.Y, ".mvt"), 10, 32)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid tile row " + input.Y)
	}

	data, err := h.svc.Tiles.Tile(maptile.New(uint32(input.X), uint32(y), maptile.Zoom(input.Z)))
	if errors.Is(err, tiler.ErrZoomOutOfRange) {
		return nil, huma.Error404NotFound("tile out of range")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding tile", err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		CacheControl:    "no-cache",
		Body:            data,
	}, nil
}
