package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the question-answering service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the service at baseURL (e.g. http://localhost:8000/api).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type statusBody struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// Health probes the API root ("online") and the database check ("healthy").
// Any other answer, or a transport error, wraps ErrUnavailable.
func (c *Client) Health(ctx context.Context) error {
	var root statusBody
	if err := c.getJSON(ctx, "/", &root); err != nil {
		return fmt.Errorf("%w: api: %v", ErrUnavailable, err)
	}
	if root.Status != "online" {
		return fmt.Errorf("%w: api status %q", ErrUnavailable, root.Status)
	}

	var db statusBody
	if err := c.getJSON(ctx, "/health", &db); err != nil {
		return fmt.Errorf("%w: database: %v", ErrUnavailable, err)
	}
	if db.Status != "healthy" {
		return fmt.Errorf("%w: database status %q", ErrUnavailable, db.Status)
	}
	return nil
}

// Query sends a non-streaming request and returns the complete answer.
func (c *Client) Query(ctx context.Context, req Request) (*Response, error) {
	req.Stream = false
	resp, err := c.post(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Error != "" && out.FinalAnswer == "" && len(out.Results) == 0 {
		return nil, &RemoteError{Reason: out.Error}
	}
	return &out, nil
}

// Stream sends a streaming request and calls fn for every event in arrival
// order. Each event is handled before the next chunk is read. Stream returns
// after a Final or Failure event, when fn returns an error, or when the
// connection fails.
func (c *Client) Stream(ctx context.Context, req Request, fn func(Event) error) error {
	req.Stream = true
	resp, err := c.post(ctx, req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := &chunkDecoder{}
	return readEvents(resp.Body, func(data []byte) (bool, error) {
		events, done, err := dec.decode(data)
		if err != nil {
			return false, err
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return false, err
			}
		}
		return done, nil
	})
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(ctx context.Context, body Request, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// readEvents splits a text/event-stream body into event payloads. Multiple
// data lines of one event are joined with newlines. handle reports whether the
// stream is finished.
func readEvents(r io.Reader, handle func([]byte) (bool, error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var data bytes.Buffer
	flush := func() (bool, error) {
		if data.Len() == 0 {
			return false, nil
		}
		payload := bytes.Clone(data.Bytes())
		data.Reset()
		return handle(payload)
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			done, err := flush()
			if err != nil || done {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keep-alive
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(strings.TrimPrefix(value, " "))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	done, err := flush()
	if err != nil {
		return err
	}
	if !done {
		return ErrIncompleteStream
	}
	return nil
}
