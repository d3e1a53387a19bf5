package ui

import (
	"context"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/humastar"
	"github.com/joeblew999/plat-alkis/internal/service"
)

// Element ids of the page regions patched over the event stream.
const (
	transcriptSel = "#transcript"
	thinkingSel   = "#thinking"
	resultsSel    = "#results-header"
	buildingsSel  = "#building-list"
	statisticsSel = "#statistics"
	querySel      = "#query"
)

type thinkingView struct {
	Show  bool
	Busy  bool
	Steps []service.ThinkingStep
}

type resultsHeaderView struct {
	Total    int
	Selected int
	Sort     string
}

type buildingCardView struct {
	service.Building
	Selected bool
	Mappable bool
}

type statisticsView struct {
	Available bool
	Summary   service.Summary
	Backend   *backend.Statistics
}

type queryView struct {
	Cypher      string
	Diagnostics []service.Diagnostic
}

func (h *Handler) render(name string, data any) string {
	out, err := h.Renderer.Render(name, data)
	if err != nil {
		h.log.Warn("rendering fragment", zap.String("template", name), zap.Error(err))
	}
	return out
}

func (h *Handler) patchTranscript(sse humastar.SSE, snap service.Snapshot) {
	sse.Patch(h.render("transcript", snap.Transcript), transcriptSel)
}

func (h *Handler) patchThinking(sse humastar.SSE, snap service.Snapshot) {
	sse.Patch(h.render("thinking", thinkingView{
		Show:  snap.ShowThinking,
		Busy:  snap.Busy,
		Steps: snap.Thinking,
	}), thinkingSel)
}

func (h *Handler) patchBuildings(sse humastar.SSE, snap service.Snapshot) {
	selected := make(map[string]bool, len(snap.Selected))
	for _, id := range snap.Selected {
		selected[id] = true
	}
	sorted := service.SortBuildings(snap.Buildings, h.currentSort())
	items := make([]any, len(sorted))
	for i, b := range sorted {
		items[i] = buildingCardView{Building: b, Selected: selected[b.ID], Mappable: b.HasGeometry()}
	}

	sse.Patch(h.render("results-header", resultsHeaderView{
		Total:    len(snap.Buildings),
		Selected: len(snap.Selected),
		Sort:     string(h.currentSort()),
	}), resultsSel)
	sse.Patch(h.RenderList("building-card", items, "No buildings yet", "Ask a question to see buildings here."), buildingsSel)
	sse.Signals(map[string]any{"selectedCount": len(snap.Selected), "total": len(snap.Buildings)})
}

func (h *Handler) patchStatistics(ctx context.Context, sse humastar.SSE, snap service.Snapshot) {
	view := statisticsView{Backend: snap.Statistics}
	if h.svc.Stats != nil {
		sum, err := h.svc.Stats.Summarize(ctx, snap.Buildings)
		if err != nil {
			h.log.Warn("computing statistics", zap.Error(err))
		} else {
			view.Available, view.Summary = true, sum
		}
	}
	sse.Patch(h.render("statistics", view), statisticsSel)
	sse.Patch(h.render("query-explanation", queryView{Cypher: snap.CypherQuery, Diagnostics: snap.Diagnostics}), querySel)
}

func (h *Handler) patchDrawing(sse humastar.SSE) {
	wkt, ok := h.svc.Coordinator.SpatialFilter()
	sse.Signals(map[string]any{"hasDrawing": ok, "filter": wkt})
}

// patchAll brings a freshly connected page up to date.
func (h *Handler) patchAll(ctx context.Context, sse humastar.SSE) {
	snap := h.svc.Coordinator.Snapshot()
	h.patchTranscript(sse, snap)
	h.patchThinking(sse, snap)
	h.patchBuildings(sse, snap)
	h.patchStatistics(ctx, sse, snap)
	h.patchDrawing(sse)
	sse.Signals(map[string]any{"busy": snap.Busy, "showThinking": snap.ShowThinking})
}
