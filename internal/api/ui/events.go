package ui

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/humastar"
	"github.com/joeblew999/plat-alkis/internal/service"
)

// Events streams every state change to the page. A new stream first receives
// the full current state and a replay of the map, then live updates.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.bus.Subscribe()
		defer h.bus.Unsubscribe(ch)

		h.patchAll(ctx, sse)
		if err := h.svc.Session.Redraw(); err != nil {
			h.log.Warn("replaying map", zap.Error(err))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				h.forward(ctx, sse, ev)
			}
		}
	}), nil
}

func (h *Handler) forward(ctx context.Context, sse humastar.SSE, ev service.Event) {
	switch ev.Topic {
	case service.TopicMap:
		sse.DispatchCustomEvent(MapEvent, ev.Payload)
	case service.TopicTranscript:
		h.patchTranscript(sse, h.svc.Coordinator.Snapshot())
	case service.TopicThinking:
		h.patchThinking(sse, h.svc.Coordinator.Snapshot())
	case service.TopicBusy:
		snap := h.svc.Coordinator.Snapshot()
		sse.Signals(map[string]any{"busy": snap.Busy})
		h.patchThinking(sse, snap)
	case service.TopicResults:
		snap := h.svc.Coordinator.Snapshot()
		h.patchBuildings(sse, snap)
		h.patchStatistics(ctx, sse, snap)
	case service.TopicSelection:
		h.patchBuildings(sse, h.svc.Coordinator.Snapshot())
	case service.TopicDrawing:
		h.patchDrawing(sse)
	}
}
