package backend

import (
	"encoding/json"
	"fmt"
)

// chunk is one data frame of the streaming answer.
type chunk struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	Node    string      `json:"node,omitempty"`
	State   *chunkState `json:"state,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type chunkState struct {
	FinalAnswer string            `json:"final_answer"`
	CypherQuery string            `json:"cypher_query"`
	Results     []json.RawMessage `json:"results"`
	Messages    []any             `json:"messages"`
}

// chunkDecoder turns frames into events. Intermediate step states carry the
// generated query and results while the final frame may omit them, so the
// last non-empty values seen are kept and used to complete the final answer.
type chunkDecoder struct {
	cypher  string
	results []json.RawMessage
}

func (d *chunkDecoder) decode(data []byte) ([]Event, bool, error) {
	var c chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, fmt.Errorf("decoding stream chunk: %w", err)
	}

	switch c.Type {
	case "message":
		return []Event{Thinking{Content: c.Content}}, false, nil

	case "step":
		if c.State == nil {
			return nil, false, nil
		}
		d.remember(c.State)
		events := make([]Event, 0, len(c.State.Messages))
		for _, m := range c.State.Messages {
			text, ok := m.(string)
			if !ok {
				text = fmt.Sprint(m)
			}
			events = append(events, Thinking{Node: c.Node, Content: text})
		}
		return events, false, nil

	case "final":
		resp := &Response{CypherQuery: d.cypher, Results: d.results}
		if c.State != nil {
			resp.FinalAnswer = c.State.FinalAnswer
			if c.State.CypherQuery != "" {
				resp.CypherQuery = c.State.CypherQuery
			}
			if len(c.State.Results) > 0 {
				resp.Results = c.State.Results
			}
		}
		return []Event{Final{Response: resp}}, true, nil

	case "error":
		reason := c.Error
		if reason == "" {
			reason = "unknown error"
		}
		return []Event{Failure{Reason: reason}}, true, nil
	}

	// "init" and unknown chunk types carry nothing for the client
	return nil, false, nil
}

func (d *chunkDecoder) remember(s *chunkState) {
	if s.CypherQuery != "" {
		d.cypher = s.CypherQuery
	}
	if len(s.Results) > 0 {
		d.results = s.Results
	}
}
