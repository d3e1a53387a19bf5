// Package ui contains the Datastar SSE handlers behind the explorer page.
//
// The page opens one long-lived stream (GET /ui/events) that receives every
// state change as HTML patches, signals and map commands. User actions are
// short POSTs that change server state; their effects arrive on that stream.
package ui

import (
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/api"
	"github.com/joeblew999/plat-alkis/internal/humastar"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/templates"
)

// MapEvent is the browser event that carries map commands to the Leaflet glue.
const MapEvent = "alkis-map"

// DownloadEvent asks the browser to fetch an export URL.
const DownloadEvent = "alkis-download"

// Handler serves the explorer UI.
type Handler struct {
	humastar.Handler
	svc *api.Services
	bus *service.EventBus
	log *zap.Logger

	mu      sync.Mutex
	sortKey service.SortKey
}

// New creates the UI handler.
func New(svc *api.Services, bus *service.EventBus, renderer *templates.Renderer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		svc:     svc,
		bus:     bus,
		log:     log,
		sortKey: service.SortByArea,
	}
}

func (h *Handler) RegisterRoutes(humaAPI huma.API) {
	tags := huma.OperationTags("ui")
	huma.Get(humaAPI, "/ui/events", h.Events, tags)
	huma.Post(humaAPI, "/ui/chat", h.Chat, tags)
	huma.Post(humaAPI, "/ui/thinking", h.ToggleThinking, tags)
	huma.Post(humaAPI, "/ui/sort", h.Sort, tags)
	huma.Post(humaAPI, "/ui/selection/all", h.SelectAll, tags)
	huma.Post(humaAPI, "/ui/selection/clear", h.ClearSelection, tags)
	huma.Post(humaAPI, "/ui/selection/{id}", h.ToggleSelection, tags)
	huma.Post(humaAPI, "/ui/zoom/{id}", h.Zoom, tags)
	huma.Post(humaAPI, "/ui/layer/toggle", h.ToggleLayer, tags)
	huma.Post(humaAPI, "/ui/drawing/clear", h.ClearDrawing, tags)
	huma.Post(humaAPI, "/ui/export/{scope}", h.Export, tags)
}

func (h *Handler) currentSort() service.SortKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sortKey
}

func (h *Handler) setSort(k service.SortKey) {
	h.mu.Lock()
	h.sortKey = k
	h.mu.Unlock()
}
