// Package api defines the Huma API routes and handlers.
package api

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/humastar"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/tiler"
)

// Services holds the service dependencies for API handlers. Stats and Tiles
// may be nil; their routes then answer 503.
type Services struct {
	Backend     service.Backend
	Coordinator *service.Coordinator
	Session     *service.MapSession
	Exporter    *service.Exporter
	Stats       *service.Stats
	Tiles       *tiler.Tiler
	Config      config.Config
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Building ID" example:"DEBE00YYT0000001"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
	Backend string `json:"backend" doc:"Question-answering service status" enum:"online,offline"`
}

type StateOutput struct {
	Body service.Snapshot
}

type ChatInput struct {
	Body struct {
		Question string `json:"question" minLength:"1" maxLength:"2000" doc:"Natural-language question" example:"Show me the largest buildings in Mitte"`
	}
}

type ChatBody struct {
	Reply       *service.Message     `json:"reply,omitempty" doc:"Assistant reply, absent when the answer was empty"`
	Buildings   int                  `json:"buildings" doc:"Number of buildings in the new result"`
	CypherQuery string               `json:"cypherQuery,omitempty" doc:"Graph query generated by the backend"`
	Diagnostics []service.Diagnostic `json:"diagnostics,omitempty" doc:"Building records that were dropped"`
}

type ThinkingInput struct {
	Body struct {
		Show bool `json:"show" doc:"Show progress notifications in the UI"`
	}
}

type BuildingItem struct {
	service.Building
	Selected bool `json:"selected" doc:"Whether the building is selected"`
}

type BuildingsInput struct {
	Sort   string `query:"sort" enum:"area,name,floors" default:"area" doc:"Sort order"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Index of the first building"`
	Limit  int    `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}

type BuildingsBody struct {
	humastar.PageBody[BuildingItem]
	Selected int `json:"selected" doc:"Number of selected buildings"`
}

type BuildingBody struct {
	BuildingItem
	Geometry json.RawMessage `json:"geometry,omitempty" doc:"GeoJSON geometry in geographic coordinates"`
}

type SelectionBody struct {
	Selected []string `json:"selected" doc:"Selected building IDs"`
	Count    int      `json:"count"`
}

type StatisticsBody struct {
	Summary service.Summary     `json:"summary" doc:"Statistics derived from the building list"`
	Backend *backend.Statistics `json:"backend,omitempty" doc:"Aggregates reported by the backend"`
}

type ExportInput struct {
	Scope  string `path:"scope" enum:"all,selected" doc:"Which buildings to export"`
	Format string `query:"format" enum:"geojson,csv" default:"geojson" doc:"File format"`
}

type FileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

type MapBody struct {
	State     string             `json:"state" enum:"uninitialized,idle,drawing"`
	Viewport  service.Viewport   `json:"viewport"`
	MinZoom   int                `json:"minZoom"`
	MaxZoom   int                `json:"maxZoom"`
	BaseLayer config.BaseLayer   `json:"baseLayer"`
	Layers    []config.BaseLayer `json:"layers"`
	Styles    config.Styles      `json:"styles"`
	Shapes    int                `json:"shapes" doc:"Number of building shapes on the map"`
	Drawing   bool               `json:"drawing" doc:"Whether a filter shape is drawn"`
}

type LayerInput struct {
	Body struct {
		Key string `json:"key" doc:"Base layer key" example:"satellite"`
	}
}

type ViewportInput struct {
	Body service.Viewport
}

type DrawInput struct {
	RawBody []byte
}

type TileInput struct {
	Z int    `path:"z" minimum:"0" maximum:"20"`
	X int    `path:"x" minimum:"0"`
	Y string `path:"y" doc:"Tile row, optionally with .mvt suffix" example:"5374.mvt"`
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	CacheControl    string `header:"Cache-Control"`
	Body            []byte
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterChat registers the question and transcript routes.
func (h *APIHandler) RegisterChat(api huma.API) {
	huma.Get(api, "/api/v1/state", h.GetState, huma.OperationTags("chat"))
	huma.Post(api, "/api/v1/chat", h.PostChat, huma.OperationTags("chat"))
	huma.Put(api, "/api/v1/thinking", h.PutThinking, huma.OperationTags("chat"))
}

// RegisterBuildings registers building list routes.
func (h *APIHandler) RegisterBuildings(api huma.API) {
	huma.Get(api, "/api/v1/buildings", h.GetBuildings, huma.OperationTags("buildings"))
	huma.Get(api, "/api/v1/buildings/{id}", h.GetBuilding, huma.OperationTags("buildings"))
	huma.Post(api, "/api/v1/buildings/{id}/zoom", h.ZoomBuilding, huma.OperationTags("buildings", "map"))
}

// RegisterSelection registers selection routes.
func (h *APIHandler) RegisterSelection(api huma.API) {
	huma.Get(api, "/api/v1/selection", h.GetSelection, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/selection/all", h.SelectAll, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/selection/{id}", h.ToggleSelection, huma.OperationTags("selection"))
	huma.Delete(api, "/api/v1/selection", h.ClearSelection, huma.OperationTags("selection"))
}

// RegisterStatistics registers the statistics route.
func (h *APIHandler) RegisterStatistics(api huma.API) {
	huma.Get(api, "/api/v1/statistics", h.GetStatistics, huma.OperationTags("buildings"))
}

// RegisterExport registers the download route.
func (h *APIHandler) RegisterExport(api huma.API) {
	huma.Get(api, "/api/v1/export/{scope}", h.GetExport, huma.OperationTags("export"))
}

// RegisterMap registers map session routes.
func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Get(api, "/api/v1/map", h.GetMap, huma.OperationTags("map"))
	huma.Put(api, "/api/v1/map/layer", h.PutLayer, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/layer/toggle", h.ToggleLayer, huma.OperationTags("map"))
	huma.Put(api, "/api/v1/map/viewport", h.PutViewport, huma.OperationTags("map"))
	huma.Get(api, "/api/v1/map/drawing", h.GetDrawing, huma.OperationTags("map"))
	huma.Post(api, "/api/v1/map/drawing", h.PostDraw, huma.OperationTags("map"))
	huma.Delete(api, "/api/v1/map/drawing", h.DeleteDrawing, huma.OperationTags("map"))
}

// RegisterTiles registers the vector tile route.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/tiles/buildings/{z}/{x}/{y}", h.GetTile, huma.OperationTags("tiles"))
}
