package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/sync-server-go/internal/fitbit"
	"github.com/pulsefit/sync-server-go/internal/model"
	"github.com/pulsefit/sync-server-go/internal/service"
)

// stubLocker always grants the refresh lease.
type stubLocker struct{}

func (stubLocker) Acquire(ctx context.Context, userID string) (string, bool, error) {
	return "lease", true, nil
}

func (stubLocker) Release(ctx context.Context, userID, lease string) {}

// stubSyncLogRepo is an in-memory sync log.
type stubSyncLogRepo struct {
	mu      sync.Mutex
	entries []model.SyncLogEntry
}

func (r *stubSyncLogRepo) Create(ctx context.Context, params model.CreateSyncLogParams) (*model.SyncLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := model.SyncLogEntry{
		ID:        "log-1",
		UserID:    params.UserID,
		Date:      params.Date,
		Outcome:   params.Outcome,
		Detail:    params.Detail,
		CreatedAt: time.Now(),
	}
	r.entries = append(r.entries, entry)
	return &entry, nil
}

func (r *stubSyncLogRepo) FindByUserID(ctx context.Context, userID string, limit int) ([]model.SyncLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SyncLogEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubSyncLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func activeDayProvider() *stubProvider {
	provider := &stubProvider{configured: true}
	provider.activityResp = &fitbit.ActivityResponse{}
	provider.activityResp.Summary.Steps = 10250
	provider.activityResp.Summary.CaloriesOut = 2300
	provider.activityResp.Summary.ActivityCalories = 900
	provider.activityResp.Summary.FairlyActiveMinutes = 35
	provider.activityResp.Summary.VeryActiveMinutes = 15

	provider.heartResp = &fitbit.HeartResponse{}
	provider.sleepResp = &fitbit.SleepResponse{}
	provider.sleepResp.Summary.TotalMinutesAsleep = 450
	return provider
}

func newHealthFixture(provider *stubProvider, tokenRepo *stubTokenRepo) (*HealthHandler, *stubSyncLogRepo) {
	cfg := handlerTestConfig()
	tokens := service.NewTokenService(cfg, provider, tokenRepo, stubLocker{})
	syncRepo := &stubSyncLogRepo{}
	healthSvc := service.NewHealthService(provider, tokens, syncRepo)
	return NewHealthHandler(healthSvc), syncRepo
}

func connectedTokenRepo(t *testing.T) *stubTokenRepo {
	t.Helper()
	tokenRepo := newStubTokenRepo()
	_, err := tokenRepo.Upsert(context.Background(), model.UpsertTokenParams{
		UserID:       "user-1",
		Provider:     model.ProviderFitbit,
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return tokenRepo
}

func TestHealthHandler_Summary(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		h, _ := newHealthFixture(activeDayProvider(), newStubTokenRepo())

		req := httptest.NewRequest(http.MethodPost, "/v1/fitbit/summary", nil)
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("returns the normalized summary", func(t *testing.T) {
		h, syncRepo := newHealthFixture(activeDayProvider(), connectedTokenRepo(t))

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", strings.NewReader(`{"date":"2026-08-30"}`))
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body model.HealthSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 10250, body.Steps)
		assert.Equal(t, 2300, body.Calories)
		assert.Equal(t, 50, body.ActiveMinutes)
		assert.Nil(t, body.HeartRate)
		require.NotNil(t, body.SleepDuration)
		assert.InDelta(t, 7.5, *body.SleepDuration, 0.001)
		assert.Equal(t, 1, body.Workouts)

		require.Len(t, syncRepo.entries, 1)
		assert.Equal(t, model.SyncOutcomeOK, syncRepo.entries[0].Outcome)
	})

	t.Run("empty body defaults to today", func(t *testing.T) {
		h, _ := newHealthFixture(activeDayProvider(), connectedTokenRepo(t))

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", nil)
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed JSON is a validation error", func(t *testing.T) {
		h, _ := newHealthFixture(activeDayProvider(), connectedTokenRepo(t))

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", strings.NewReader(`{"date":`))
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not connected maps to 400 with the lifecycle code", func(t *testing.T) {
		h, _ := newHealthFixture(activeDayProvider(), newStubTokenRepo())

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", nil)
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "NOT_CONNECTED", body["code"])
	})

	t.Run("provider rate limit maps to 429", func(t *testing.T) {
		provider := activeDayProvider()
		provider.heartErr = fitbit.ErrRateLimited
		provider.heartResp = nil
		h, _ := newHealthFixture(provider, connectedTokenRepo(t))

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", nil)
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "UPSTREAM_RATE_LIMITED", body["code"])
	})

	t.Run("upstream failure maps to 502", func(t *testing.T) {
		provider := activeDayProvider()
		provider.sleepErr = &fitbit.APIError{Endpoint: "sleep", Status: 500}
		provider.sleepResp = nil
		h, _ := newHealthFixture(provider, connectedTokenRepo(t))

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", nil)
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("dead refresh token maps to 401", func(t *testing.T) {
		provider := activeDayProvider()
		tokenRepo := newStubTokenRepo()
		_, err := tokenRepo.Upsert(context.Background(), model.UpsertTokenParams{
			UserID:       "user-1",
			Provider:     model.ProviderFitbit,
			AccessToken:  "at",
			RefreshToken: "rt-dead",
			ExpiresAt:    time.Now().Add(-time.Minute),
		})
		require.NoError(t, err)
		h, _ := newHealthFixture(provider, tokenRepo)

		req := authedRequest(http.MethodPost, "/v1/fitbit/summary", nil)
		rec := httptest.NewRecorder()
		h.Summary(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "REFRESH_TOKEN_INVALID", body["code"])
	})
}

func TestHealthHandler_RecentSyncs(t *testing.T) {
	t.Run("lists the user's sync attempts", func(t *testing.T) {
		h, syncRepo := newHealthFixture(activeDayProvider(), connectedTokenRepo(t))
		_, err := syncRepo.Create(context.Background(), model.CreateSyncLogParams{
			UserID:  "user-1",
			Date:    "2026-08-30",
			Outcome: model.SyncOutcomeOK,
		})
		require.NoError(t, err)

		req := authedRequest(http.MethodGet, "/v1/fitbit/syncs?limit=10", nil)
		rec := httptest.NewRecorder()
		h.RecentSyncs(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Syncs []model.SyncLogEntry `json:"syncs"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Syncs, 1)
		assert.Equal(t, "2026-08-30", body.Syncs[0].Date)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		h, _ := newHealthFixture(activeDayProvider(), connectedTokenRepo(t))

		req := authedRequest(http.MethodGet, "/v1/fitbit/syncs?limit=ten", nil)
		rec := httptest.NewRecorder()
		h.RecentSyncs(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
