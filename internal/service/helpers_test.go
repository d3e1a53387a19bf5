package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/projection"
)

func transformer(t *testing.T) *projection.Transformer {
	t.Helper()
	tr, err := projection.New(projection.DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// squareJSON returns a projected-frame polygon of about 20 m around lon/lat,
// encoded as GeoJSON text.
func squareJSON(t *testing.T, tr *projection.Transformer, lon, lat float64) string {
	t.Helper()
	c := tr.ToProjected(orb.Point{lon, lat})
	const d = 10
	poly := orb.Polygon{{
		{c[0] - d, c[1] - d}, {c[0] + d, c[1] - d}, {c[0] + d, c[1] + d}, {c[0] - d, c[1] + d}, {c[0] - d, c[1] - d},
	}}
	data, err := json.Marshal(geojson.NewGeometry(poly))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// record builds a raw backend building record.
func record(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type canvasCall struct {
	Op string
	ID string
}

// recordingCanvas records every call.
type recordingCanvas struct {
	mu      sync.Mutex
	calls   []canvasCall
	shapes  map[string]Shape
	fits    []orb.Bound
	layers  []string
	drawing orb.Geometry
}

func newRecordingCanvas() *recordingCanvas {
	return &recordingCanvas{shapes: make(map[string]Shape)}
}

func (c *recordingCanvas) record(op, id string) {
	c.calls = append(c.calls, canvasCall{op, id})
}

func (c *recordingCanvas) AddShape(s Shape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpAddShape, s.ID)
	c.shapes[s.ID] = s
}

func (c *recordingCanvas) RemoveShape(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpRemoveShape, id)
	delete(c.shapes, id)
}

func (c *recordingCanvas) FitBounds(b orb.Bound, padding int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpFitBounds, "")
	c.fits = append(c.fits, b)
}

func (c *recordingCanvas) SetBaseLayer(l config.BaseLayer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpSetBaseLayer, l.Key)
	c.layers = append(c.layers, l.Key)
}

func (c *recordingCanvas) ShowDrawing(g orb.Geometry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(OpShowDrawing, "")
	c.drawing = g
}

func (c *recordingCanvas) fitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fits)
}

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	mu        sync.Mutex
	healthErr error
	response  *backend.Response
	queryErr  error
	events    []backend.Event
	requests  []backend.Request

	// block, when set, is waited on inside Query/Stream.
	block chan struct{}
	// sawBusy records Busy() observed while the request was in flight.
	sawBusy func() bool
	busy    []bool
}

func (f *fakeBackend) Health(ctx context.Context) error {
	return f.healthErr
}

func (f *fakeBackend) enter(req backend.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.sawBusy != nil {
		f.busy = append(f.busy, f.sawBusy())
	}
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (f *fakeBackend) Query(ctx context.Context, req backend.Request) (*backend.Response, error) {
	f.enter(req)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.response, nil
}

func (f *fakeBackend) Stream(ctx context.Context, req backend.Request, fn func(backend.Event) error) error {
	f.enter(req)
	if f.queryErr != nil {
		return f.queryErr
	}
	for _, ev := range f.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// wrapped builds a response in the [{buildings, statistics}] shape.
func wrapped(t *testing.T, answer string, records ...json.RawMessage) *backend.Response {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"buildings":  records,
		"statistics": map[string]any{"building_count": len(records)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &backend.Response{
		FinalAnswer: answer,
		CypherQuery: fmt.Sprintf("MATCH (b:Building) RETURN b LIMIT %d", len(records)),
		Results:     []json.RawMessage{data},
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
