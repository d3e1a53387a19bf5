// Package backend is the client for the ALKIS question-answering service.
//
// The service turns a natural-language question into a graph query, runs it and
// answers with building records, the generated query and aggregate statistics.
// It answers either with one JSON document or with a stream of server-sent
// events; both shapes are surfaced through the Event sum type.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the body of POST /query.
type Request struct {
	Query         string `json:"query"`
	Stream        bool   `json:"stream"`
	SpatialFilter string `json:"spatial_filter,omitempty"`
}

// Response is a complete answer.
type Response struct {
	FinalAnswer string            `json:"final_answer"`
	CypherQuery string            `json:"cypher_query"`
	Results     []json.RawMessage `json:"results"`
	Error       string            `json:"error,omitempty"`
}

// Statistics is the aggregate record computed by the backend.
type Statistics struct {
	AreaMin         float64 `json:"area_min,omitempty"`
	AreaMean        float64 `json:"area_mean,omitempty"`
	AreaMax         float64 `json:"area_max,omitempty"`
	FloorsAboveMin  float64 `json:"floors_above_min,omitempty"`
	FloorsAboveMean float64 `json:"floors_above_mean,omitempty"`
	FloorsAboveMax  float64 `json:"floors_above_max,omitempty"`
	HouseNumberMin  int     `json:"house_number_min,omitempty"`
	HouseNumberMax  int     `json:"house_number_max,omitempty"`
	BuildingCount   int     `json:"building_count"`
}

// Unpack flattens the results array into raw building records and the first
// statistics record found. Results come either wrapped as
// [{"buildings": [...], "statistics": {...}}] or as a bare list of buildings.
// Building records stay raw so a single bad record can be dropped later without
// failing the batch.
func (r *Response) Unpack() ([]json.RawMessage, *Statistics, error) {
	var (
		buildings []json.RawMessage
		stats     *Statistics
	)
	for i, raw := range r.Results {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			// not an object; keep it as a record so the parser reports it
			buildings = append(buildings, raw)
			continue
		}
		list, wrapped := probe["buildings"]
		if !wrapped {
			buildings = append(buildings, raw)
			continue
		}
		var records []json.RawMessage
		if err := json.Unmarshal(list, &records); err != nil {
			return nil, nil, fmt.Errorf("results[%d].buildings: %w", i, err)
		}
		buildings = append(buildings, records...)

		if s, ok := probe["statistics"]; ok && stats == nil {
			var st Statistics
			if err := json.Unmarshal(s, &st); err == nil {
				stats = &st
			}
		}
	}
	return buildings, stats, nil
}

// Event is one item of a query answer: Thinking, Final or Failure.
type Event interface {
	isEvent()
}

// Thinking is an intermediate progress notification.
type Thinking struct {
	Node    string
	Content string
}

// Final carries the complete answer and ends the stream.
type Final struct {
	Response *Response
}

// Failure is a backend-reported error and ends the stream.
type Failure struct {
	Reason string
}

func (Thinking) isEvent() {}
func (Final) isEvent()    {}
func (Failure) isEvent()  {}

var (
	// ErrUnavailable means the health probe failed.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrIncompleteStream means the stream ended without a final or error chunk.
	ErrIncompleteStream = errors.New("stream ended without final answer")
)

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// RemoteError is a failure the backend reported inside a successful response.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	return "backend error: " + e.Reason
}
