// Package fitbitclient is the client-side integration for the sync server.
// It is the sole surface a UI needs: connect, disconnect, connection status,
// and a background-refreshed health summary.
package fitbitclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	defaultPollInterval = 5 * time.Minute
	defaultHTTPTimeout  = 15 * time.Second
)

// ErrNotConnected is reported when the user has no provider connection.
var ErrNotConnected = errors.New("fitbitclient: not connected")

// Summary mirrors the server's normalized health summary.
type Summary struct {
	Steps         int       `json:"steps"`
	Calories      int       `json:"calories"`
	Distance      float64   `json:"distance"`
	ActiveMinutes int       `json:"activeMinutes"`
	HeartRate     *int      `json:"heartRate"`
	SleepDuration *float64  `json:"sleepDuration"`
	Workouts      int       `json:"workouts"`
	LastSynced    time.Time `json:"lastSynced"`
}

// Snapshot is the hook's observable state. Stats survive failed refreshes:
// staleness is indicated by Stale and LastSynced, never by blanking data.
type Snapshot struct {
	Connected  bool
	Loading    bool
	Stats      *Summary
	LastSynced time.Time
	Stale      bool
	Err        error
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// WithOnUpdate registers a callback invoked after every snapshot change.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(c *Client) { c.onUpdate = fn }
}

// Client polls the sync server and caches the latest summary.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	interval   time.Duration
	onUpdate   func(Snapshot)

	mu      sync.Mutex
	snap    Snapshot
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(baseURL, apiToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		interval:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start checks the connection once, fetches immediately when connected, and
// then refreshes in the background until Close or ctx cancellation. The
// polling goroutine is bound to the client's lifetime so no update can fire
// after teardown.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("fitbitclient: already started")
	}
	c.started = true
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	connected, err := c.CheckConnection(ctx)
	if err != nil {
		c.setSnapshot(func(s *Snapshot) { s.Err = err })
	} else if connected {
		_ = c.Fetch(ctx)
	}

	go c.poll(pollCtx)
	return nil
}

// Close stops the background refresh and waits for it to exit.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.started = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Client) poll(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Snapshot().Connected {
				_ = c.Fetch(ctx)
			} else if connected, err := c.CheckConnection(ctx); err == nil && connected {
				_ = c.Fetch(ctx)
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Client) setSnapshot(mutate func(*Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	snap := c.snap
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snap)
	}
}

// ConnectURL asks the server for a provider consent URL. popup selects the
// postMessage callback variant.
func (c *Client) ConnectURL(ctx context.Context, popup bool) (string, error) {
	path := "/v1/fitbit/connect"
	if popup {
		path += "?popup=1"
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// CheckConnection queries the server connection status.
func (c *Client) CheckConnection(ctx context.Context) (bool, error) {
	var out struct {
		Connected bool `json:"connected"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/fitbit/status", nil, &out); err != nil {
		return false, err
	}

	c.setSnapshot(func(s *Snapshot) {
		s.Connected = out.Connected
		if !out.Connected {
			s.Stats = nil
		}
	})
	return out.Connected, nil
}

// Disconnect removes the provider connection and clears cached stats.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/fitbit/connection", nil, nil); err != nil {
		return err
	}

	c.setSnapshot(func(s *Snapshot) {
		s.Connected = false
		s.Stats = nil
		s.Stale = false
		s.LastSynced = time.Time{}
		s.Err = nil
	})
	return nil
}

// Fetch requests today's summary. A rate-limited response keeps the previous
// stats and marks them stale; only a success replaces them.
func (c *Client) Fetch(ctx context.Context) error {
	c.setSnapshot(func(s *Snapshot) {
		// Loading shows only when there is nothing to display yet.
		s.Loading = s.Stats == nil
	})

	var summary Summary
	err := c.doJSON(ctx, http.MethodPost, "/v1/fitbit/summary", map[string]string{}, &summary)

	if err != nil {
		c.setSnapshot(func(s *Snapshot) {
			s.Loading = false
			var reqErr *RequestError
			switch {
			case errors.As(err, &reqErr) && reqErr.Code == "UPSTREAM_RATE_LIMITED":
				// Keep showing what we have; it will refresh on a later poll.
				s.Stale = true
				s.Err = nil
			case errors.As(err, &reqErr) && reqErr.Code == "NOT_CONNECTED":
				s.Connected = false
				s.Stats = nil
				s.Err = nil
			default:
				s.Err = err
			}
		})
		return err
	}

	c.setSnapshot(func(s *Snapshot) {
		s.Connected = true
		s.Loading = false
		s.Stats = &summary
		s.LastSynced = summary.LastSynced
		s.Stale = false
		s.Err = nil
	})
	return nil
}

// RequestError is a non-2xx server response.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("fitbitclient: server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, dest any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload errorPayload
		_ = json.Unmarshal(data, &payload)
		return &RequestError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
	}

	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
