package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-alkis/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/state>; rel="state"`,
		`</api/v1/map>; rel="map"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/state>; rel="state"`,
	},
	"/api/v1/state": {
		`</api/v1/chat>; rel="chat"`,
		`</api/v1/buildings>; rel="buildings"`,
		`</api/v1/selection>; rel="selection"`,
	},
	"/api/v1/chat": {
		`</api/v1/buildings>; rel="buildings"`,
		`</api/v1/statistics>; rel="statistics"`,
	},
	"/api/v1/buildings": {
		`</api/v1/selection>; rel="selection"`,
		`</api/v1/statistics>; rel="statistics"`,
		`</api/v1/export/all>; rel="export"`,
	},
	"/api/v1/buildings/{id}": {
		`</api/v1/buildings>; rel="collection"`,
	},
	"/api/v1/selection": {
		`</api/v1/buildings>; rel="buildings"`,
		`</api/v1/export/selected>; rel="export"`,
	},
	"/api/v1/map": {
		`</api/v1/map/drawing>; rel="drawing"`,
		`</api/v1/map/layer>; rel="layer"`,
	},
	"/api/v1/map/drawing": {
		`</api/v1/map>; rel="map"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		if p, ok := v.(humastar.Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{id}") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		return v, nil
	}
}
