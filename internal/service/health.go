package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/audit"
	apperrors "github.com/pulsefit/sync-server-go/internal/errors"
	"github.com/pulsefit/sync-server-go/internal/fitbit"
	"github.com/pulsefit/sync-server-go/internal/model"
	"github.com/pulsefit/sync-server-go/internal/repository"
)

const dateLayout = "2006-01-02"

// HealthService aggregates one day of provider data into a HealthSummary.
type HealthService struct {
	provider ProviderClient
	tokens   *TokenService
	syncRepo repository.SyncLogRepository

	now func() time.Time
}

func NewHealthService(
	provider ProviderClient,
	tokens *TokenService,
	syncRepo repository.SyncLogRepository,
) *HealthService {
	return &HealthService{
		provider: provider,
		tokens:   tokens,
		syncRepo: syncRepo,
		now:      time.Now,
	}
}

// Summary fetches and normalizes the activity, heart-rate, and sleep
// documents for a date (defaulting to today). The three provider calls run
// concurrently and are joined before normalization; if any one fails the
// whole fetch fails, so a partial summary is never returned.
func (s *HealthService) Summary(ctx context.Context, userID, date string) (*model.HealthSummary, error) {
	if date == "" {
		date = s.now().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, apperrors.InvalidInput("date", "expected YYYY-MM-DD")
	}

	accessToken, err := s.tokens.EnsureAccessToken(ctx, userID)
	if err != nil {
		s.recordOutcome(ctx, userID, date, err)
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		activity *fitbit.ActivityResponse
		heart    *fitbit.HeartResponse
		sleep    *fitbit.SleepResponse
		errs     [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		activity, errs[0] = s.provider.DailyActivity(ctx, accessToken, date)
	}()
	go func() {
		defer wg.Done()
		heart, errs[1] = s.provider.HeartRate(ctx, accessToken, date)
	}()
	go func() {
		defer wg.Done()
		sleep, errs[2] = s.provider.Sleep(ctx, accessToken, date)
	}()
	wg.Wait()

	if err := s.joinFetchErrors(errs[:]); err != nil {
		s.recordOutcome(ctx, userID, date, err)
		return nil, err
	}

	summary := normalize(activity, heart, sleep, s.now())
	s.recordOutcome(ctx, userID, date, nil)

	log.Debug().Str("userId", userID).Str("date", date).Int("steps", summary.Steps).Msg("health summary fetched")

	return summary, nil
}

// joinFetchErrors maps the fan-out results to the error taxonomy. A provider
// 429 on any endpoint wins: the caller is told to fall back to cached data
// rather than treat the fetch as a hard failure. Otherwise an upstream error
// carries the per-endpoint statuses so the failing call is identifiable.
func (s *HealthService) joinFetchErrors(errs []error) error {
	statuses := make(map[string]int)
	var firstErr error

	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, fitbit.ErrRateLimited) {
			return apperrors.UpstreamRateLimited()
		}
		var apiErr *fitbit.APIError
		if errors.As(err, &apiErr) {
			statuses[apiErr.Endpoint] = apiErr.Status
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		return nil
	}

	appErr := apperrors.Upstream("health data fetch", firstErr)
	if len(statuses) > 0 {
		appErr = appErr.WithDetails(statuses)
	}
	return appErr
}

func normalize(activity *fitbit.ActivityResponse, heart *fitbit.HeartResponse, sleep *fitbit.SleepResponse, now time.Time) *model.HealthSummary {
	summary := &model.HealthSummary{
		Steps:         activity.Summary.Steps,
		Calories:      activity.Summary.CaloriesOut,
		Distance:      activity.TotalDistance(),
		ActiveMinutes: activity.Summary.FairlyActiveMinutes + activity.Summary.VeryActiveMinutes,
		HeartRate:     heart.RestingHeartRate(),
		LastSynced:    now,
	}

	if sleep.Summary.TotalMinutesAsleep > 0 {
		hours := float64(sleep.Summary.TotalMinutesAsleep) / 60
		summary.SleepDuration = &hours
	}

	// Placeholder heuristic carried over from the product: any nonzero
	// activity-calorie burn counts as one workout.
	if activity.Summary.ActivityCalories > 0 {
		summary.Workouts = 1
	}

	return summary
}

// RecentSyncs lists the latest sync attempts for diagnostics.
func (s *HealthService) RecentSyncs(ctx context.Context, userID string, limit int) ([]model.SyncLogEntry, error) {
	entries, err := s.syncRepo.FindByUserID(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return entries, nil
}

// recordOutcome appends to the sync log. Logging failures are swallowed: the
// log is diagnostic, never on the critical path.
func (s *HealthService) recordOutcome(ctx context.Context, userID, date string, fetchErr error) {
	outcome := model.SyncOutcomeOK
	var detail *string

	if fetchErr != nil {
		switch {
		case apperrors.HasCode(fetchErr, apperrors.ErrCodeUpstreamRateLimited):
			outcome = model.SyncOutcomeRateLimited
		case apperrors.HasCode(fetchErr, apperrors.ErrCodeRefreshTokenInvalid):
			outcome = model.SyncOutcomeReconnect
		case apperrors.HasCode(fetchErr, apperrors.ErrCodeNotConnected):
			// Not connected is an expected state, not a sync attempt.
			return
		default:
			outcome = model.SyncOutcomeUpstream
		}
		msg := fetchErr.Error()
		detail = &msg

		if outcome == model.SyncOutcomeRateLimited {
			audit.Log(ctx, audit.Event{
				Type:    audit.EventUpstreamRateLimit,
				UserID:  userID,
				Details: map[string]interface{}{"date": date},
			})
		}
	}

	if _, err := s.syncRepo.Create(ctx, model.CreateSyncLogParams{
		UserID:  userID,
		Date:    date,
		Outcome: outcome,
		Detail:  detail,
	}); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to record sync outcome")
	}
}
