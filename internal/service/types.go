// Package service holds the client state of the ALKIS building explorer: the
// current building list, the selection, the map session and the chat
// transcript, plus the operations the HTTP layer invokes on them.
package service

import (
	"time"

	"github.com/paulmach/orb"
)

// Building is a processed building record. Geometry, when present, is in the
// geographic frame with [lon, lat] ordinate order.
type Building struct {
	ID       string       `json:"id" doc:"Building identifier" example:"DEBE00YYT0000001"`
	Name     string       `json:"name" doc:"Display name" example:"Unter den Linden 6"`
	Geometry orb.Geometry `json:"-"`
	Area     float64      `json:"area" doc:"Footprint area in square meters, 0 when unknown" example:"2150.5"`
	Floors   int          `json:"floors" doc:"Floors above ground, 0 when unknown" example:"5"`
	Centroid *LatLon      `json:"centroid,omitempty" doc:"Centroid in geographic coordinates"`
	District string       `json:"district,omitempty" doc:"District label" example:"Mitte"`
}

// HasGeometry reports whether the building can be drawn.
func (b Building) HasGeometry() bool {
	return b.Geometry != nil
}

// LatLon is a geographic position.
type LatLon struct {
	Lat float64 `json:"lat" example:"52.5178"`
	Lon float64 `json:"lon" example:"13.3937"`
}

// Diagnostic describes a building record that was dropped.
type Diagnostic struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role" enum:"user,assistant"`
	Content string    `json:"content"`
	Error   bool      `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// ThinkingStep is an intermediate progress notification of the current query.
type ThinkingStep struct {
	Node    string `json:"node,omitempty"`
	Content string `json:"content"`
}
