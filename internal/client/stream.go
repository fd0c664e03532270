package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// StreamEvent is one server-sent event.
type StreamEvent struct {
	ID    string
	Topic string
	Data  []byte
}

// StreamFilter narrows an event stream. Empty fields match everything.
type StreamFilter struct {
	Topics      []string
	WorkbookID  string
	LastEventID string
}

// StreamEvents connects to the SSE endpoint and calls fn for each event
// until ctx is cancelled, the server closes the stream, or fn returns an
// error. A nil return after cancellation is not an error.
func (c *HTTPClient) StreamEvents(ctx context.Context, f StreamFilter, fn func(StreamEvent) error) error {
	q := url.Values{}
	if len(f.Topics) > 0 {
		q.Set("topics", strings.Join(f.Topics, ","))
	}
	if f.WorkbookID != "" {
		q.Set("workbook", f.WorkbookID)
	}
	path := "/v1/events/stream"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if f.LastEventID != "" {
		req.Header.Set("Last-Event-ID", f.LastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	err = readSSE(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE parses an event stream. Comment lines (keepalives) are skipped.
func readSSE(r io.Reader, fn func(StreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	var current StreamEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			current.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			current.Topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			current.Data = append(current.Data, strings.TrimPrefix(line, "data:")...)
		case line == "":
			// Empty line ends an event block.
			if current.Topic != "" || len(current.Data) > 0 {
				if err := fn(current); err != nil {
					return err
				}
			}
			current = StreamEvent{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}
