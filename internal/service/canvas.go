package service

import (
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-alkis/internal/config"
)

// Shape is a building polygon as drawn on the map.
type Shape struct {
	ID       string
	Geometry orb.Geometry
	Style    config.Style
	Popup    string
}

// Canvas is the map widget. Implementations only draw; MapSession decides
// what to draw.
type Canvas interface {
	// AddShape draws s, replacing a shape with the same id.
	AddShape(s Shape)
	RemoveShape(id string)
	FitBounds(b orb.Bound, padding int)
	// SetBaseLayer detaches the current base layer and attaches l.
	SetBaseLayer(l config.BaseLayer)
	// ShowDrawing replaces the drawn shapes with g. nil clears them.
	ShowDrawing(g orb.Geometry)
}

// Batcher is implemented by canvases that deliver a group of calls as one
// update. MapSession runs every multi-call change inside Batch.
type Batcher interface {
	Batch(fn func())
}

// Map command ops as sent to the browser.
const (
	OpAddShape     = "add-shape"
	OpRemoveShape  = "remove-shape"
	OpFitBounds    = "fit-bounds"
	OpSetBaseLayer = "set-base-layer"
	OpShowDrawing  = "show-drawing"
)

// MapCommand is the wire form of one Canvas call.
type MapCommand struct {
	Op       string            `json:"op"`
	ID       string            `json:"id,omitempty"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
	Style    *config.Style     `json:"style,omitempty"`
	Popup    string            `json:"popup,omitempty"`
	Bounds   *[2][2]float64    `json:"bounds,omitempty"` // [[south, west], [north, east]]
	Padding  int               `json:"padding,omitempty"`
	Layer    *config.BaseLayer `json:"layer,omitempty"`
}

// BusCanvas publishes map commands on the bus as []MapCommand payloads, one
// event per call or per batch. The UI event stream forwards them to the
// Leaflet widget in the browser.
type BusCanvas struct {
	bus *EventBus

	mu       sync.Mutex
	batching bool
	pending  []MapCommand
}

// NewBusCanvas creates a canvas that publishes on bus.
func NewBusCanvas(bus *EventBus) *BusCanvas {
	return &BusCanvas{bus: bus}
}

// Batch collects the commands of every call fn makes and publishes them as a
// single event, so a full render costs one bus slot regardless of its size.
func (c *BusCanvas) Batch(fn func()) {
	c.mu.Lock()
	c.batching = true
	c.mu.Unlock()

	fn()

	c.mu.Lock()
	cmds := c.pending
	c.pending, c.batching = nil, false
	c.mu.Unlock()

	if len(cmds) > 0 {
		c.bus.Publish(Event{Topic: TopicMap, Action: "batch", Payload: cmds})
	}
}

func (c *BusCanvas) publish(cmd MapCommand) {
	c.mu.Lock()
	if c.batching {
		c.pending = append(c.pending, cmd)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.bus.Publish(Event{Topic: TopicMap, Action: cmd.Op, ID: cmd.ID, Payload: []MapCommand{cmd}})
}

func (c *BusCanvas) AddShape(s Shape) {
	style := s.Style
	c.publish(MapCommand{
		Op:       OpAddShape,
		ID:       s.ID,
		Geometry: geojson.NewGeometry(s.Geometry),
		Style:    &style,
		Popup:    s.Popup,
	})
}

func (c *BusCanvas) RemoveShape(id string) {
	c.publish(MapCommand{Op: OpRemoveShape, ID: id})
}

func (c *BusCanvas) FitBounds(b orb.Bound, padding int) {
	bounds := [2][2]float64{{b.Min.Lat(), b.Min.Lon()}, {b.Max.Lat(), b.Max.Lon()}}
	c.publish(MapCommand{Op: OpFitBounds, Bounds: &bounds, Padding: padding})
}

func (c *BusCanvas) SetBaseLayer(l config.BaseLayer) {
	c.publish(MapCommand{Op: OpSetBaseLayer, ID: l.Key, Layer: &l})
}

func (c *BusCanvas) ShowDrawing(g orb.Geometry) {
	cmd := MapCommand{Op: OpShowDrawing}
	if g != nil {
		cmd.Geometry = geojson.NewGeometry(g)
	}
	c.publish(cmd)
}

// NopCanvas draws nothing. It backs sessions without a browser, such as the
// ask command.
type NopCanvas struct{}

func (NopCanvas) AddShape(Shape)                {}
func (NopCanvas) RemoveShape(string)            {}
func (NopCanvas) FitBounds(orb.Bound, int)      {}
func (NopCanvas) SetBaseLayer(config.BaseLayer) {}
func (NopCanvas) ShowDrawing(orb.Geometry)      {}
