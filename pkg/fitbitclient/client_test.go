package fitbitclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer simulates the sync server's API with switchable behavior.
type fakeServer struct {
	mu           sync.Mutex
	connected    bool
	summaryCode  int
	summaryBody  string
	summaryCalls int
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/fitbit/status", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]bool{"connected": connected})
	})
	mux.HandleFunc("GET /v1/fitbit/connect", func(w http.ResponseWriter, r *http.Request) {
		url := "https://provider.test/authorize?state=abc"
		if r.URL.Query().Get("popup") == "1" {
			url += "&popup=1"
		}
		json.NewEncoder(w).Encode(map[string]string{"url": url})
	})
	mux.HandleFunc("DELETE /v1/fitbit/connection", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	mux.HandleFunc("POST /v1/fitbit/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid token","code":"UNAUTHORIZED"}`))
			return
		}
		s.mu.Lock()
		code := s.summaryCode
		body := s.summaryBody
		s.summaryCalls++
		s.mu.Unlock()
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		w.Write([]byte(body))
	})
	return mux
}

func (s *fakeServer) setSummary(code int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryCode = code
	s.summaryBody = body
}

func (s *fakeServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryCalls
}

const okSummary = `{"steps":9000,"calories":2100,"distance":6.5,"activeMinutes":40,"heartRate":60,"sleepDuration":7.0,"workouts":1,"lastSynced":"2026-08-30T12:00:00Z"}`

func newTestClient(t *testing.T, srv *fakeServer, opts ...Option) *Client {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return New(ts.URL, "token-1", opts...)
}

func TestClient_StartAndClose(t *testing.T) {
	t.Run("connected start fetches immediately", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		srv.setSummary(http.StatusOK, okSummary)
		client := newTestClient(t, srv, WithPollInterval(time.Hour))

		require.NoError(t, client.Start(context.Background()))
		defer client.Close()

		snap := client.Snapshot()
		assert.True(t, snap.Connected)
		require.NotNil(t, snap.Stats)
		assert.Equal(t, 9000, snap.Stats.Steps)
		assert.False(t, snap.Loading)
		assert.False(t, snap.Stale)
		assert.Equal(t, 1, srv.calls())
	})

	t.Run("disconnected start makes no summary call", func(t *testing.T) {
		srv := &fakeServer{connected: false}
		client := newTestClient(t, srv, WithPollInterval(time.Hour))

		require.NoError(t, client.Start(context.Background()))
		defer client.Close()

		snap := client.Snapshot()
		assert.False(t, snap.Connected)
		assert.Nil(t, snap.Stats)
		assert.Zero(t, srv.calls())
	})

	t.Run("double start is rejected", func(t *testing.T) {
		srv := &fakeServer{}
		client := newTestClient(t, srv, WithPollInterval(time.Hour))

		require.NoError(t, client.Start(context.Background()))
		defer client.Close()
		assert.Error(t, client.Start(context.Background()))
	})

	t.Run("close stops polling", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		srv.setSummary(http.StatusOK, okSummary)
		client := newTestClient(t, srv, WithPollInterval(10*time.Millisecond))

		require.NoError(t, client.Start(context.Background()))
		require.Eventually(t, func() bool { return srv.calls() >= 2 }, time.Second, 5*time.Millisecond)
		client.Close()

		settled := srv.calls()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, settled, srv.calls())
	})
}

func TestClient_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limit keeps the previous stats and marks them stale", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		srv.setSummary(http.StatusOK, okSummary)
		client := newTestClient(t, srv)

		require.NoError(t, client.Fetch(ctx))
		require.NotNil(t, client.Snapshot().Stats)

		srv.setSummary(http.StatusTooManyRequests, `{"error":"Provider rate limit reached","code":"UPSTREAM_RATE_LIMITED"}`)
		err := client.Fetch(ctx)
		require.Error(t, err)

		snap := client.Snapshot()
		require.NotNil(t, snap.Stats)
		assert.Equal(t, 9000, snap.Stats.Steps)
		assert.True(t, snap.Stale)
		assert.NoError(t, snap.Err)
		assert.True(t, snap.Connected)
	})

	t.Run("success after a stale fetch clears the flag", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		client := newTestClient(t, srv)

		srv.setSummary(http.StatusTooManyRequests, `{"error":"limited","code":"UPSTREAM_RATE_LIMITED"}`)
		_ = client.Fetch(ctx)
		srv.setSummary(http.StatusOK, okSummary)
		require.NoError(t, client.Fetch(ctx))

		snap := client.Snapshot()
		assert.False(t, snap.Stale)
		assert.Equal(t, "2026-08-30T12:00:00Z", snap.LastSynced.Format(time.RFC3339))
	})

	t.Run("not connected clears cached stats", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		srv.setSummary(http.StatusOK, okSummary)
		client := newTestClient(t, srv)

		require.NoError(t, client.Fetch(ctx))
		srv.setSummary(http.StatusBadRequest, `{"error":"Fitbit account is not connected","code":"NOT_CONNECTED"}`)
		_ = client.Fetch(ctx)

		snap := client.Snapshot()
		assert.False(t, snap.Connected)
		assert.Nil(t, snap.Stats)
		assert.NoError(t, snap.Err)
	})

	t.Run("other failures surface the error but keep stats", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		srv.setSummary(http.StatusOK, okSummary)
		client := newTestClient(t, srv)

		require.NoError(t, client.Fetch(ctx))
		srv.setSummary(http.StatusBadGateway, `{"error":"Provider request failed","code":"UPSTREAM_ERROR"}`)
		err := client.Fetch(ctx)
		require.Error(t, err)

		snap := client.Snapshot()
		require.NotNil(t, snap.Stats)
		assert.Error(t, snap.Err)

		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusBadGateway, reqErr.Status)
		assert.Equal(t, "UPSTREAM_ERROR", reqErr.Code)
	})

	t.Run("loading shows only on the first fetch", func(t *testing.T) {
		srv := &fakeServer{connected: true}
		srv.setSummary(http.StatusOK, okSummary)

		var sawLoading bool
		client := newTestClient(t, srv, WithOnUpdate(func(s Snapshot) {
			if s.Loading {
				sawLoading = true
			}
		}))

		require.NoError(t, client.Fetch(context.Background()))
		assert.True(t, sawLoading)

		sawLoading = false
		require.NoError(t, client.Fetch(context.Background()))
		assert.False(t, sawLoading)
	})
}

func TestClient_ConnectURL(t *testing.T) {
	ctx := context.Background()
	srv := &fakeServer{}
	client := newTestClient(t, srv)

	url, err := client.ConnectURL(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "https://provider.test/authorize?state=abc", url)

	popupURL, err := client.ConnectURL(ctx, true)
	require.NoError(t, err)
	assert.Contains(t, popupURL, "popup=1")
}

func TestClient_Disconnect(t *testing.T) {
	ctx := context.Background()
	srv := &fakeServer{connected: true}
	srv.setSummary(http.StatusOK, okSummary)
	client := newTestClient(t, srv)

	require.NoError(t, client.Fetch(ctx))
	require.NotNil(t, client.Snapshot().Stats)

	require.NoError(t, client.Disconnect(ctx))

	snap := client.Snapshot()
	assert.False(t, snap.Connected)
	assert.Nil(t, snap.Stats)
	assert.True(t, snap.LastSynced.IsZero())
}
