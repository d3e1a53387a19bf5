package service

import (
	"fmt"
	"testing"

	"github.com/joeblew999/plat-alkis/internal/config"
)

func manyBuildings(n int) []Building {
	out := make([]Building, n)
	for i := range out {
		out[i] = Building{
			ID:       fmt.Sprintf("b%03d", i),
			Geometry: squareAt(13.30+float64(i%10)*0.01, 52.45+float64(i/10)*0.01),
		}
	}
	return out
}

func countOps(cmds []MapCommand, op string) int {
	n := 0
	for _, c := range cmds {
		if c.Op == op {
			n++
		}
	}
	return n
}

// TestBusCanvasLargeRender renders more buildings than a subscriber buffers
// and reads nothing until the render is done. Every shape and the fit must
// still arrive.
func TestBusCanvasLargeRender(t *testing.T) {
	bus := NewEventBus()
	s := NewMapSession(NewBusCanvas(bus), config.Default(), nil)
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	<-ch // base layer

	buildings := manyBuildings(100)
	if err := s.Render(buildings, map[string]bool{"b007": true}); err != nil {
		t.Fatal(err)
	}
	if len(ch) != 1 {
		t.Fatalf("render published %d events, want 1", len(ch))
	}
	ev := <-ch
	cmds, ok := ev.Payload.([]MapCommand)
	if !ok || ev.Topic != TopicMap {
		t.Fatalf("event = %+v", ev)
	}
	if n := countOps(cmds, OpAddShape); n != 100 {
		t.Errorf("add-shape = %d, want 100", n)
	}
	if n := countOps(cmds, OpFitBounds); n != 1 {
		t.Errorf("fit-bounds = %d, want 1", n)
	}
	if cmds[len(cmds)-1].Op != OpFitBounds {
		t.Errorf("last command = %s, want fit after all shapes", cmds[len(cmds)-1].Op)
	}

	if err := s.Redraw(); err != nil {
		t.Fatal(err)
	}
	ev = <-ch
	cmds = ev.Payload.([]MapCommand)
	if n := countOps(cmds, OpAddShape); n != 100 {
		t.Errorf("redraw add-shape = %d, want 100", n)
	}
	if cmds[0].Op != OpSetBaseLayer {
		t.Errorf("redraw starts with %s", cmds[0].Op)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	ev = <-ch
	if n := countOps(ev.Payload.([]MapCommand), OpRemoveShape); n != 100 {
		t.Errorf("close remove-shape = %d, want 100", n)
	}
}

func TestBusCanvasSingleCall(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	c := NewBusCanvas(bus)
	c.RemoveShape("x")
	c.Batch(func() {})

	if len(ch) != 1 {
		t.Fatalf("events = %d, want 1 (empty batch publishes nothing)", len(ch))
	}
	ev := <-ch
	cmds := ev.Payload.([]MapCommand)
	if len(cmds) != 1 || cmds[0].Op != OpRemoveShape || ev.ID != "x" {
		t.Fatalf("event = %+v", ev)
	}
}
