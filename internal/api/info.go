package api

import (
	"context"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
)

// Version is the API version reported by /health and /api/v1/info.
const Version = "1.0.0"

type InfoHandler struct {
	backendURL string
	zone       int
	stream     bool
	statsOK    bool
}

func NewInfoHandler(backendURL string, zone int, stream, statsOK bool) *InfoHandler {
	return &InfoHandler{backendURL: backendURL, zone: zone, stream: stream, statsOK: statsOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	BackendURL string   `json:"backend_url" doc:"Question-answering service URL"`
	Projection string   `json:"projection" doc:"Projected frame of the building data" example:"EPSG:25833"`
	Streaming  bool     `json:"streaming" doc:"Whether answers are streamed"`
	Statistics bool     `json:"statistics" doc:"Whether the statistics engine is available"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"chat", "spatial-filter", "selection", "export", "vector-tiles"}
	if h.stream {
		features = append(features, "streaming")
	}
	if h.statsOK {
		features = append(features, "statistics")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:       "plat-alkis",
		Version:    Version,
		BackendURL: h.backendURL,
		Projection: epsg(h.zone),
		Streaming:  h.stream,
		Statistics: h.statsOK,
		Features:   features,
	}}, nil
}

// epsg names the ETRS89 / UTM code of zone.
func epsg(zone int) string {
	return "EPSG:" + strconv.Itoa(25800+zone)
}
