package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/repository"
)

// CleanupJob prunes aged sync-log rows on an interval. OAuth states and
// refresh leases live in Redis with TTLs, so Postgres retention is the only
// periodic cleanup the service needs.
type CleanupJob struct {
	syncRepo  repository.SyncLogRepository
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
}

func NewCleanupJob(syncRepo repository.SyncLogRepository, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		syncRepo:  syncRepo,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	count, err := j.syncRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune sync log")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned sync log entries")
	}
}
