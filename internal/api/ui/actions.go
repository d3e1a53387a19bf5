package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/api"
	"github.com/joeblew999/plat-alkis/internal/humastar"
	"github.com/joeblew999/plat-alkis/internal/service"
)

// IDInput addresses one building from a UI action.
type IDInput struct {
	ID string `path:"id" maxLength:"200"`
}

// ExportInput selects what the export button downloads.
type ExportInput struct {
	Scope   string `path:"scope" enum:"all,selected"`
	RawBody []byte
}

// Chat sends the question signal to the backend. The answer and its side
// effects reach the page over the event stream.
func (h *Handler) Chat(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	question := strings.TrimSpace(signals.String("question"))

	return h.Stream(func(sse humastar.SSE) {
		if question == "" {
			sse.Error("Please enter a question.")
			return
		}
		sse.Signals(map[string]any{"question": "", "error": ""})

		err := h.svc.Coordinator.Send(ctx, question)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrBusy):
			sse.Error("Please wait until the current question is answered.")
		case errors.Is(err, service.ErrBackendUnavailable):
			sse.Error("The backend is not available. Please start the API server and try again.")
		case errors.Is(err, service.ErrQueryFailed):
			// The failure reply is already in the transcript.
		default:
			h.log.Error("chat action", zap.Error(err))
			sse.Error(service.FailureMessage)
		}
	}), nil
}

func (h *Handler) ToggleThinking(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	h.svc.Coordinator.SetShowThinking(signals.Bool("showThinking"))
	return h.Stream(func(humastar.SSE) {}), nil
}

// Sort changes the order of the building list for every connected page.
func (h *Handler) Sort(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	key := service.SortKey(signals.String("sort"))
	switch key {
	case service.SortByArea, service.SortByName, service.SortByFloors:
	default:
		return nil, huma.Error422UnprocessableEntity("unknown sort key " + string(key))
	}
	h.setSort(key)

	return h.Stream(func(sse humastar.SSE) {
		h.patchBuildings(sse, h.svc.Coordinator.Snapshot())
	}), nil
}

func (h *Handler) SelectAll(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	h.svc.Coordinator.SelectAll()
	return h.Stream(func(humastar.SSE) {}), nil
}

func (h *Handler) ClearSelection(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	h.svc.Coordinator.ClearSelection()
	return h.Stream(func(humastar.SSE) {}), nil
}

func (h *Handler) ToggleSelection(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	if _, ok := h.svc.Coordinator.Building(input.ID); !ok {
		return nil, huma.Error404NotFound("building not found: " + input.ID)
	}
	h.svc.Coordinator.ToggleSelection(input.ID)
	return h.Stream(func(humastar.SSE) {}), nil
}

func (h *Handler) Zoom(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	ok := h.svc.Session.ZoomToBuilding(input.ID)
	return h.Stream(func(sse humastar.SSE) {
		if !ok {
			sse.Error("This building has no geometry to show.")
		}
	}), nil
}

func (h *Handler) ToggleLayer(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	layer, err := h.svc.Session.ToggleBaseLayer()
	if err != nil {
		return nil, huma.Error503ServiceUnavailable(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{"baseLayer": layer.Name})
	}), nil
}

func (h *Handler) ClearDrawing(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	if err := h.svc.Session.ClearDrawing(); err != nil {
		return nil, huma.Error503ServiceUnavailable(err.Error())
	}
	return h.Stream(func(humastar.SSE) {}), nil
}

// Export checks that there is something to download, then points the
// browser at the export endpoint in the chosen format.
func (h *Handler) Export(ctx context.Context, input *ExportInput) (*huma.StreamResponse, error) {
	signals, _ := humastar.ParseSignals(input.RawBody)
	format := "geojson"
	if signals.String("exportFormat") == "csv" {
		format = "csv"
	}

	export, err := api.Export(h.svc, input.Scope)
	return h.Stream(func(sse humastar.SSE) {
		switch {
		case errors.Is(err, service.ErrNothingToExport):
			sse.Error("No buildings to export.")
		case err != nil:
			sse.Error(err.Error())
		default:
			sse.DispatchCustomEvent(DownloadEvent, map[string]any{
				"url": "/api/v1/export/" + input.Scope + "?format=" + format,
			})
			sse.Success(fmt.Sprintf("Exporting %d buildings as %s.", len(export.Buildings), strings.ToUpper(format)))
		}
	}), nil
}
