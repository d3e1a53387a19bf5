// Package humastar runs Datastar server-sent event responses inside Huma
// operations.
//
// UI handlers embed [Handler], read the page signals through [SignalsInput]
// and write patches, signal updates and browser events through [SSE]:
//
//	func (h *Handler) Sort(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
//	    signals, err := input.MustParse()
//	    if err != nil {
//	        return nil, err
//	    }
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(h.RenderList("building-card", items, "No buildings yet", ""), "#building-list")
//	    }), nil
//	}
package humastar

import (
	"bytes"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-alkis/internal/templates"
)

// Handler is the embeddable base of the UI handlers.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn in a Huma streaming response backed by a Datastar event
// stream. fn runs on the request goroutine; the response ends when it returns.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			r, w := humago.Unwrap(ctx)
			fn(SSE{datastar.NewSSE(w, r)})
		},
	}
}

// RenderList renders every item with tmpl, or the "empty-state" fragment
// with title and msg when there are none.
func (h *Handler) RenderList(tmpl string, items []any, title, msg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		h.Renderer.RenderToBuffer(&buf, "empty-state", map[string]string{"Title": title, "Message": msg})
		return buf.String()
	}
	for _, item := range items {
		h.Renderer.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}

// SSE is the Datastar event generator of one response.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// Patch replaces the children of the element at selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
		datastar.WithViewTransitions(),
	)
}

// Error shows msg in the page's error line and clears any notice.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg, "success": ""})
}

// Success shows msg in the page's notice line and clears any error.
func (s SSE) Success(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"success": msg, "error": ""})
}

// Signals patches the given page signals.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals is the flat JSON object of page signals Datastar posts with every
// action. Accessors return the zero value for missing or mistyped keys.
type Signals map[string]any

// ParseSignals decodes a request body. An empty body has no signals.
func ParseSignals(body []byte) (Signals, error) {
	signals := Signals{}
	if len(bytes.TrimSpace(body)) == 0 {
		return signals, nil
	}
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

func (s Signals) String(key string) string {
	v, _ := s[key].(string)
	return v
}

func (s Signals) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// EmptyInput is the input of actions that take no parameters.
type EmptyInput struct{}

// SignalsInput is the input of actions that read page signals.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses the signals or returns a 400 error.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signals: " + err.Error())
	}
	return signals, nil
}
