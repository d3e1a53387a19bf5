package service

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/config"
)

var (
	// ErrSessionClosed is returned by operations on a session that is not open.
	ErrSessionClosed = errors.New("map session is not open")
	// ErrUnknownLayer is returned by ApplyLayer for a key that is not configured.
	ErrUnknownLayer = errors.New("unknown base layer")
)

// SessionState is the lifecycle state of a MapSession.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateIdle
	StateDrawing
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrawing:
		return "drawing"
	default:
		return "uninitialized"
	}
}

// DrawKind is the kind of a drawing tool event.
type DrawKind string

const (
	DrawCreated DrawKind = "created"
	DrawEdited  DrawKind = "edited"
	DrawDeleted DrawKind = "deleted"
)

// DrawEvent is emitted by the widget's drawing tool. Geometry is in the
// geographic frame and is ignored for deletes.
type DrawEvent struct {
	Kind     DrawKind
	Geometry orb.Geometry
}

// Viewport is the map's view as last set by a fit or reported by the browser.
type Viewport struct {
	Center LatLon `json:"center"`
	Zoom   int    `json:"zoom"`
}

type renderedShape struct {
	Shape
	bound orb.Bound
}

// MapSession owns the map widget: the rendered building shapes keyed by
// building id, the single drawn filter shape and the active base layer.
type MapSession struct {
	canvas Canvas
	cfg    config.Config
	log    *zap.Logger

	mu        sync.Mutex
	state     SessionState
	shapes    map[string]renderedShape
	fitted    bool
	viewport  Viewport
	drawn     *geojson.Feature
	layer     int
	listeners []func(*geojson.FeatureCollection)
}

// NewMapSession creates a session drawing on canvas. It is unusable until Open.
func NewMapSession(canvas Canvas, cfg config.Config, log *zap.Logger) *MapSession {
	if log == nil {
		log = zap.NewNop()
	}
	return &MapSession{
		canvas: canvas,
		cfg:    cfg,
		log:    log,
		shapes: make(map[string]renderedShape),
	}
}

// Open initializes the widget: initial view and the first base layer.
// Opening an open session is a no-op.
func (s *MapSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return nil
	}
	if len(s.cfg.BaseLayers) == 0 {
		return fmt.Errorf("%w: none configured", ErrUnknownLayer)
	}
	s.state = StateIdle
	s.viewport = Viewport{
		Center: LatLon{Lat: s.cfg.Map.Center[0], Lon: s.cfg.Map.Center[1]},
		Zoom:   s.cfg.Map.Zoom,
	}
	s.layer = 0
	s.canvas.SetBaseLayer(s.cfg.BaseLayers[0])
	s.log.Debug("map session opened", zap.String("layer", s.cfg.BaseLayers[0].Key))
	return nil
}

// Close removes all shapes and returns the session to the uninitialized state.
func (s *MapSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return nil
	}
	s.batch(func() {
		for id := range s.shapes {
			s.canvas.RemoveShape(id)
		}
		if s.drawn != nil {
			s.canvas.ShowDrawing(nil)
		}
	})
	clear(s.shapes)
	s.drawn = nil
	s.fitted = false
	s.state = StateUninitialized
	return nil
}

// State returns the lifecycle state.
func (s *MapSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Viewport returns the current view.
func (s *MapSession) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// SetViewport records a view reported by the browser after the user panned or zoomed.
func (s *MapSession) SetViewport(v Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = v
}

// Render replaces all building shapes with one shape per building that has
// geometry, styled by selection. The first render that draws anything fits the
// viewport to all shapes; later renders leave the view alone.
func (s *MapSession) Render(buildings []Building, selected map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return ErrSessionClosed
	}

	s.batch(func() { s.renderLocked(buildings, selected) })
	return nil
}

func (s *MapSession) renderLocked(buildings []Building, selected map[string]bool) {
	for id := range s.shapes {
		s.canvas.RemoveShape(id)
	}
	clear(s.shapes)

	var union orb.Bound
	for _, b := range buildings {
		if !b.HasGeometry() {
			continue
		}
		sel := selected[b.ID]
		style := s.cfg.Styles.Unselected
		if sel {
			style = s.cfg.Styles.Selected
		}
		shape := Shape{ID: b.ID, Geometry: b.Geometry, Style: style, Popup: popup(b)}
		s.canvas.AddShape(shape)

		bound := b.Geometry.Bound()
		if len(s.shapes) == 0 {
			union = bound
		} else {
			union = union.Union(bound)
		}
		s.shapes[b.ID] = renderedShape{Shape: shape, bound: bound}
	}

	if !s.fitted && len(s.shapes) > 0 {
		s.fit(union)
		s.fitted = true
	}
}

// batch runs fn as one canvas update when the canvas supports it.
func (s *MapSession) batch(fn func()) {
	if b, ok := s.canvas.(Batcher); ok {
		b.Batch(fn)
		return
	}
	fn()
}

// ZoomToBuilding fits the view to the shape of id and reports whether it
// exists. Unknown ids are ignored.
func (s *MapSession) ZoomToBuilding(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, ok := s.shapes[id]
	if !ok || s.state == StateUninitialized {
		return false
	}
	s.fit(shape.bound)
	return true
}

// Redraw replays the current map onto the canvas: base layer, building
// shapes and the drawn shape. A browser that connects late uses it to catch up.
func (s *MapSession) Redraw() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return ErrSessionClosed
	}
	ids := make([]string, 0, len(s.shapes))
	for id := range s.shapes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	s.batch(func() {
		s.canvas.SetBaseLayer(s.cfg.BaseLayers[s.layer])
		for _, id := range ids {
			s.canvas.AddShape(s.shapes[id].Shape)
		}
		if s.drawn != nil {
			s.canvas.ShowDrawing(s.drawn.Geometry)
		}
	})
	return nil
}

// ShapeCount returns the number of rendered shapes.
func (s *MapSession) ShapeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shapes)
}

// OnDrawingChange registers fn to be called with the drawn collection after
// every drawing event, or with nil when nothing is drawn.
func (s *MapSession) OnDrawingChange(fn func(*geojson.FeatureCollection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// HandleDraw applies a drawing tool event. A created shape replaces any
// previous one so at most one shape is ever active.
func (s *MapSession) HandleDraw(ev DrawEvent) error {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	switch ev.Kind {
	case DrawCreated, DrawEdited:
		if ev.Geometry == nil {
			s.mu.Unlock()
			return fmt.Errorf("%s event without geometry", ev.Kind)
		}
		s.drawn = geojson.NewFeature(orb.Clone(ev.Geometry))
		s.state = StateDrawing
		if ev.Kind == DrawCreated {
			s.canvas.ShowDrawing(ev.Geometry)
		}
	case DrawDeleted:
		s.drawn = nil
		s.state = StateIdle
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown draw event %q", ev.Kind)
	}

	fc, listeners := s.drawingLocked(), s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(fc)
	}
	return nil
}

// ClearDrawing removes the drawn shape.
func (s *MapSession) ClearDrawing() error {
	s.mu.Lock()
	if s.state == StateUninitialized {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.drawn = nil
	s.state = StateIdle
	s.canvas.ShowDrawing(nil)
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

// DrawnGeometry returns a copy of the drawn shape as a collection, or nil.
func (s *MapSession) DrawnGeometry() *geojson.FeatureCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawingLocked()
}

func (s *MapSession) drawingLocked() *geojson.FeatureCollection {
	if s.drawn == nil {
		return nil
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Clone(s.drawn.Geometry)))
	return fc
}

// BaseLayer returns the active base layer.
func (s *MapSession) BaseLayer() config.BaseLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.BaseLayers[s.layer]
}

// BaseLayers returns the configured base layers.
func (s *MapSession) BaseLayers() []config.BaseLayer {
	return s.cfg.BaseLayers
}

// ApplyLayer switches to the base layer with key.
func (s *MapSession) ApplyLayer(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return ErrSessionClosed
	}
	for i, l := range s.cfg.BaseLayers {
		if l.Key == key {
			s.setLayerLocked(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownLayer, key)
}

// ToggleBaseLayer switches to the next base layer and returns it.
func (s *MapSession) ToggleBaseLayer() (config.BaseLayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUninitialized {
		return config.BaseLayer{}, ErrSessionClosed
	}
	s.setLayerLocked((s.layer + 1) % len(s.cfg.BaseLayers))
	return s.cfg.BaseLayers[s.layer], nil
}

func (s *MapSession) setLayerLocked(i int) {
	if i == s.layer {
		return
	}
	s.layer = i
	s.canvas.SetBaseLayer(s.cfg.BaseLayers[i])
}

func (s *MapSession) fit(b orb.Bound) {
	pad := s.cfg.Map.FitPadding
	s.canvas.FitBounds(b, pad)
	s.viewport = fitViewport(b, s.cfg.Map, pad)
}

const earthCircumference = 2 * math.Pi * 6378137

// fitViewport computes the largest Web Mercator zoom at which b fits into the
// configured viewport size minus padding, clamped to the zoom range.
func fitViewport(b orb.Bound, m config.Map, pad int) Viewport {
	lo := project.WGS84.ToMercator(b.Min)
	hi := project.WGS84.ToMercator(b.Max)
	center := project.Mercator.ToWGS84(orb.Point{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2})

	zoom := m.MaxZoom
	w := float64(max(m.Width-2*pad, 1))
	h := float64(max(m.Height-2*pad, 1))
	dx, dy := hi[0]-lo[0], hi[1]-lo[1]
	if dx > 0 || dy > 0 {
		scale := math.Inf(1)
		if dx > 0 {
			scale = w * earthCircumference / (256 * dx)
		}
		if dy > 0 {
			scale = math.Min(scale, h*earthCircumference/(256*dy))
		}
		zoom = int(math.Floor(math.Log2(scale)))
	}
	zoom = min(max(zoom, m.MinZoom), m.MaxZoom)

	return Viewport{Center: LatLon{Lat: center.Lat(), Lon: center.Lon()}, Zoom: zoom}
}

func popup(b Building) string {
	var sb strings.Builder
	sb.WriteString(b.Name)
	if b.Area > 0 {
		sb.WriteString("\nArea: " + FormatArea(b.Area))
	}
	if b.Floors > 0 {
		sb.WriteString("\n" + FormatFloors(b.Floors))
	}
	return sb.String()
}
