package model

import "time"

// HealthSummary is the normalized view of one day of provider data. It is
// derived per fetch and never persisted; optional fields are pointers so a
// missing measurement is distinguishable from a zero one.
type HealthSummary struct {
	Steps         int       `json:"steps"`
	Calories      int       `json:"calories"`
	Distance      float64   `json:"distance"`
	ActiveMinutes int       `json:"activeMinutes"`
	HeartRate     *int      `json:"heartRate"`
	SleepDuration *float64  `json:"sleepDuration"`
	Workouts      int       `json:"workouts"`
	LastSynced    time.Time `json:"lastSynced"`
}

// Sync attempt outcomes recorded in the sync log.
const (
	SyncOutcomeOK          = "ok"
	SyncOutcomeRateLimited = "rate_limited"
	SyncOutcomeUpstream    = "upstream_error"
	SyncOutcomeReconnect   = "reconnect_required"
)

// SyncLogEntry records one summary fetch attempt for diagnostics.
type SyncLogEntry struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Date      string    `db:"date" json:"date"`
	Outcome   string    `db:"outcome" json:"outcome"`
	Detail    *string   `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateSyncLogParams struct {
	UserID  string
	Date    string
	Outcome string
	Detail  *string
}
