package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/metrics"
	"github.com/joeblew999/plat-alkis/internal/spatialfilter"
	"github.com/joeblew999/plat-alkis/internal/tiler"
)

const (
	// WelcomeMessage seeds the transcript.
	WelcomeMessage = "Welcome to AX_Ploration. Ask questions about ALKIS building data in Berlin."
	// FailureMessage is the assistant reply shown for any failed request.
	FailureMessage = "Sorry, I encountered an error. Please make sure the backend is running and try again."

	DefaultQueryTimeout = 2 * time.Minute
)

var (
	// ErrBusy is returned by Send while another question is in flight.
	ErrBusy = errors.New("a question is already being answered")
	// ErrBackendUnavailable is returned when the health probe fails.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEmptyQuestion is returned for blank input.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrQueryFailed wraps request and payload failures.
	ErrQueryFailed = errors.New("query failed")
)

// Backend is the question-answering service.
type Backend interface {
	Health(ctx context.Context) error
	Query(ctx context.Context, req backend.Request) (*backend.Response, error)
	Stream(ctx context.Context, req backend.Request, fn func(backend.Event) error) error
}

// CoordinatorConfig tunes Send.
type CoordinatorConfig struct {
	Stream  bool
	Timeout time.Duration // 0 uses DefaultQueryTimeout, negative disables
}

// Coordinator owns the chat transcript and the current result: it sends
// questions to the backend with the drawn spatial filter and fans the answer
// out to the map, the selection and the views.
type Coordinator struct {
	backend   Backend
	parser    *Parser
	encoder   *spatialfilter.Encoder
	session   *MapSession
	selection *Selection
	tiles     *tiler.Tiler
	bus       *EventBus
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       CoordinatorConfig

	// renderMu orders map and tile renders so the last one reflects the
	// latest list and selection.
	renderMu sync.Mutex

	mu           sync.RWMutex
	pending      bool // a Send has been accepted and not finished
	busy         bool
	transcript   []Message
	thinking     []ThinkingStep
	showThinking bool
	buildings    []Building
	cypher       string
	stats        *backend.Statistics
	diagnostics  []Diagnostic
}

// CoordinatorDeps are the collaborators of a Coordinator. Session, Tiles, Bus
// and Metrics may be nil.
type CoordinatorDeps struct {
	Backend   Backend
	Parser    *Parser
	Encoder   *spatialfilter.Encoder
	Session   *MapSession
	Selection *Selection
	Tiles     *tiler.Tiler
	Bus       *EventBus
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// NewCoordinator creates a coordinator with a transcript holding the welcome message.
func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig) *Coordinator {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultQueryTimeout
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		backend:   deps.Backend,
		parser:    deps.Parser,
		encoder:   deps.Encoder,
		session:   deps.Session,
		selection: deps.Selection,
		tiles:     deps.Tiles,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		log:       log,
		cfg:       cfg,
	}
	c.transcript = []Message{newMessage(RoleAssistant, WelcomeMessage, false)}
	if c.session != nil {
		c.session.OnDrawingChange(func(fc *geojson.FeatureCollection) {
			c.publish(Event{Topic: TopicDrawing, Action: "changed", Payload: fc})
		})
	}
	return c
}

func newMessage(role Role, content string, isErr bool) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		Error:   isErr,
		Time:    time.Now(),
	}
}

// Send asks the backend a question.
//
// The user message is appended right away. The backend's health is probed
// before the coordinator turns busy; if the probe fails Send returns
// ErrBackendUnavailable and nothing else changes. Otherwise the question is
// sent with the current drawing as spatial filter and the answer replaces the
// building list. Request failures add one generic assistant message and return
// an error wrapping ErrQueryFailed. Busy is always cleared before Send returns.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyQuestion
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		c.metrics.Query(metrics.OutcomeRejected)
		return ErrBusy
	}
	c.pending = true
	user := c.appendLocked(newMessage(RoleUser, text, false))
	c.mu.Unlock()
	c.publish(Event{Topic: TopicTranscript, Action: "added", ID: user.ID, Payload: user})

	defer func() {
		c.mu.Lock()
		c.pending = false
		c.mu.Unlock()
	}()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.backend.Health(ctx)
	c.metrics.ObserveBackend("health", time.Since(start))
	if err != nil {
		c.log.Warn("backend health check failed, question not sent", zap.Error(err))
		c.metrics.Query(metrics.OutcomeUnavailable)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	c.setBusy(true)
	defer c.setBusy(false)

	req := backend.Request{Query: text, Stream: c.cfg.Stream}
	if wkt, ok := c.SpatialFilter(); ok {
		req.SpatialFilter = wkt
	}
	c.log.Info("sending question",
		zap.String("query", text),
		zap.Bool("stream", req.Stream),
		zap.Bool("spatial_filter", req.SpatialFilter != ""),
	)

	if err := c.ask(ctx, req); err != nil {
		c.log.Error("question failed", zap.Error(err))
		c.metrics.Query(metrics.OutcomeFailed)
		c.addAssistant(FailureMessage, true)
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	c.metrics.Query(metrics.OutcomeOK)
	return nil
}

// SpatialFilter returns the WKT filter the next question would carry, if any.
func (c *Coordinator) SpatialFilter() (string, bool) {
	if c.session == nil || c.encoder == nil {
		return "", false
	}
	return c.encoder.FromDrawing(c.session.DrawnGeometry())
}

func (c *Coordinator) ask(ctx context.Context, req backend.Request) error {
	c.mu.Lock()
	c.thinking = nil
	c.mu.Unlock()

	start := time.Now()
	if !req.Stream {
		resp, err := c.backend.Query(ctx, req)
		c.metrics.ObserveBackend("query", time.Since(start))
		if err != nil {
			return err
		}
		return c.apply(resp)
	}

	var final *backend.Response
	err := c.backend.Stream(ctx, req, func(ev backend.Event) error {
		switch ev := ev.(type) {
		case backend.Thinking:
			c.addThinking(ThinkingStep{Node: ev.Node, Content: ev.Content})
		case backend.Final:
			final = ev.Response
		case backend.Failure:
			return &backend.RemoteError{Reason: ev.Reason}
		}
		return nil
	})
	c.metrics.ObserveBackend("stream", time.Since(start))
	if err != nil {
		return err
	}
	if final == nil {
		return backend.ErrIncompleteStream
	}
	return c.apply(final)
}

// apply publishes a complete answer.
func (c *Coordinator) apply(resp *backend.Response) error {
	records, stats, err := resp.Unpack()
	if err != nil {
		return fmt.Errorf("malformed results: %w", err)
	}
	buildings, diags := c.parser.Parse(records)
	c.metrics.RecordsDropped(len(diags))

	ids := make([]string, len(buildings))
	for i, b := range buildings {
		ids[i] = b.ID
	}
	c.selection.Reset(ids)

	c.mu.Lock()
	c.buildings = buildings
	c.cypher = resp.CypherQuery
	c.stats = stats
	c.diagnostics = diags
	c.mu.Unlock()

	c.render()
	c.log.Info("results published",
		zap.Int("buildings", len(buildings)),
		zap.Int("dropped", len(diags)),
	)
	c.publish(Event{Topic: TopicResults, Action: "replaced"})

	if resp.FinalAnswer != "" {
		c.addAssistant(resp.FinalAnswer, false)
	}
	return nil
}

// render redraws the map and the vector tiles from the current list and selection.
func (c *Coordinator) render() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.RLock()
	buildings := c.buildings
	c.mu.RUnlock()
	selected := c.selection.Set()

	if c.session != nil {
		if err := c.session.Render(buildings, selected); err != nil {
			c.log.Debug("map not rendered", zap.Error(err))
		}
	}
	if c.tiles != nil {
		features := make([]tiler.Feature, 0, len(buildings))
		for _, b := range buildings {
			if b.HasGeometry() {
				features = append(features, tiler.Feature{ID: b.ID, Name: b.Name, Geometry: b.Geometry, Selected: selected[b.ID]})
			}
		}
		c.tiles.SetFeatures(features)
	}
}

// ToggleSelection flips the selection of id and restyles the map.
func (c *Coordinator) ToggleSelection(id string) bool {
	on := c.selection.Toggle(id)
	c.selectionChanged()
	return on
}

// SelectAll selects every building of the current list.
func (c *Coordinator) SelectAll() {
	c.selection.SelectAll()
	c.selectionChanged()
}

// ClearSelection deselects everything.
func (c *Coordinator) ClearSelection() {
	c.selection.Clear()
	c.selectionChanged()
}

func (c *Coordinator) selectionChanged() {
	c.render()
	c.publish(Event{Topic: TopicSelection, Action: "changed"})
}

// SetShowThinking toggles whether the UI shows progress notifications.
func (c *Coordinator) SetShowThinking(on bool) {
	c.mu.Lock()
	c.showThinking = on
	c.mu.Unlock()
	c.publish(Event{Topic: TopicThinking, Action: "toggled"})
}

func (c *Coordinator) addThinking(step ThinkingStep) {
	c.mu.Lock()
	c.thinking = append(c.thinking, step)
	c.mu.Unlock()
	c.metrics.Thinking()
	c.publish(Event{Topic: TopicThinking, Action: "added", Payload: step})
}

func (c *Coordinator) addAssistant(content string, isErr bool) {
	c.mu.Lock()
	m := c.appendLocked(newMessage(RoleAssistant, content, isErr))
	c.mu.Unlock()
	c.publish(Event{Topic: TopicTranscript, Action: "added", ID: m.ID, Payload: m})
}

func (c *Coordinator) appendLocked(m Message) Message {
	c.transcript = append(c.transcript, m)
	return m
}

func (c *Coordinator) setBusy(on bool) {
	c.mu.Lock()
	c.busy = on
	c.mu.Unlock()
	c.publish(Event{Topic: TopicBusy, Payload: on})
}

func (c *Coordinator) publish(e Event) {
	c.bus.Publish(e)
}

// Busy reports whether a question is being answered.
func (c *Coordinator) Busy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.busy
}

// Transcript returns a copy of the transcript.
func (c *Coordinator) Transcript() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.transcript)
}

// Buildings returns the current building list in backend order.
func (c *Coordinator) Buildings() []Building {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.buildings)
}

// Building returns the building with id.
func (c *Coordinator) Building(id string) (Building, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.buildings {
		if b.ID == id {
			return b, true
		}
	}
	return Building{}, false
}

// Selection returns the selection store.
func (c *Coordinator) Selection() *Selection {
	return c.selection
}

// Session returns the map session, which may be nil.
func (c *Coordinator) Session() *MapSession {
	return c.session
}

// Snapshot is a consistent copy of the coordinator state for rendering.
type Snapshot struct {
	Busy         bool                `json:"busy"`
	Transcript   []Message           `json:"transcript"`
	Thinking     []ThinkingStep      `json:"thinking"`
	ShowThinking bool                `json:"showThinking"`
	Buildings    []Building          `json:"buildings"`
	Selected     []string            `json:"selected"`
	CypherQuery  string              `json:"cypherQuery,omitempty"`
	Statistics   *backend.Statistics `json:"statistics,omitempty"`
	Diagnostics  []Diagnostic        `json:"diagnostics,omitempty"`
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	s := Snapshot{
		Busy:         c.busy,
		Transcript:   slices.Clone(c.transcript),
		Thinking:     slices.Clone(c.thinking),
		ShowThinking: c.showThinking,
		Buildings:    slices.Clone(c.buildings),
		CypherQuery:  c.cypher,
		Statistics:   c.stats,
		Diagnostics:  slices.Clone(c.diagnostics),
	}
	c.mu.RUnlock()
	s.Selected = c.selection.IDs()
	return s
}
