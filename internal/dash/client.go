package dash

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jobfit-sh/jobfit/internal/notify"
)

// Client talks to a running jobfit daemon over its HTTP API.
type Client struct {
	http *resty.Client
	// stream has no timeout: the SSE feed stays open for the whole
	// dashboard session.
	stream *resty.Client
}

// NewClient creates a client for the daemon at baseURL, e.g.
// "http://127.0.0.1:8765".
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		http:   resty.New().SetBaseURL(base).SetTimeout(10 * time.Second),
		stream: resty.New().SetBaseURL(base),
	}
}

// QueueStats mirrors the daemon's queue snapshot.
type QueueStats struct {
	Queued       int    `json:"queued"`
	InFlight     string `json:"in_flight"`
	Attempts     int    `json:"attempts"`
	NextProvider string `json:"next_provider"`
}

// ProviderStatus mirrors one entry of the daemon's provider list.
type ProviderStatus struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Configured bool   `json:"configured"`
	Active     bool   `json:"active"`
	Local      bool   `json:"local"`
}

// Overview is the provider list plus queue snapshot.
type Overview struct {
	Providers []ProviderStatus `json:"providers"`
	Queue     QueueStats       `json:"queue"`
}

// Overview fetches provider and queue state.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/providers")
	if err != nil {
		return nil, fmt.Errorf("fetching providers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("daemon returned HTTP %d", resp.StatusCode())
	}
	return &out, nil
}

// Recent fetches the latest stored event per cache key.
func (c *Client) Recent(ctx context.Context) ([]notify.Event, error) {
	var out struct {
		Events []notify.Event `json:"events"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/notifications")
	if err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("daemon returned HTTP %d", resp.StatusCode())
	}
	return out.Events, nil
}

// StreamEvents opens the daemon's SSE feed and delivers parsed events on
// the returned channel until ctx is cancelled or the stream breaks. The
// channel is closed either way; a stream error is delivered on the second
// channel before closing.
func (c *Client) StreamEvents(ctx context.Context) (<-chan notify.Event, <-chan error) {
	events := make(chan notify.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		resp, err := c.stream.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			Get("/api/events")
		if err != nil {
			errs <- fmt.Errorf("connecting to event stream: %w", err)
			return
		}
		body := resp.RawBody()
		defer body.Close()
		if resp.IsError() {
			errs <- fmt.Errorf("daemon returned HTTP %d", resp.StatusCode())
			return
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				// Blank line dispatches the accumulated event.
				if data.Len() > 0 {
					if e, err := parseEvent(data.String()); err == nil {
						select {
						case events <- e:
						case <-ctx.Done():
							return
						}
					}
					data.Reset()
				}
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			default:
				// event: names and ": ping" heartbeats carry no payload
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("event stream broke: %w", err)
		}
	}()

	return events, errs
}

func parseEvent(data string) (notify.Event, error) {
	var e notify.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return notify.Event{}, err
	}
	return e, e.Validate()
}
