package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WebhookJob is one unit of ingestion work. Jobs are claimed with a
// worker-scoped lease and retried on a fixed backoff schedule until the
// attempt budget runs out.
type WebhookJob struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	EventID         snowflake.ID `gorm:"not null;index" json:"event_id"`
	Provider        string       `gorm:"type:text;not null" json:"provider"`
	ExternalOrderID string       `gorm:"type:text;not null" json:"external_order_id"`
	LocationID      string       `gorm:"type:text;not null" json:"location_id"`
	VendorID        snowflake.ID `gorm:"not null;index" json:"vendor_id"`
	VendorLocation  snowflake.ID `gorm:"column:vendor_location_id;not null" json:"vendor_location_id"`
	EventKind       string       `gorm:"type:text;not null" json:"event_kind"`
	StatusHint      string       `gorm:"type:text" json:"status_hint,omitempty"`
	Status          string       `gorm:"type:text;not null;index" json:"status"`
	Attempts        int          `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt   time.Time    `gorm:"not null;index" json:"next_attempt_at"`
	LockedBy        string       `gorm:"type:text" json:"locked_by,omitempty"`
	LockedAt        *time.Time   `json:"locked_at,omitempty"`
	LastError       string       `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (WebhookJob) TableName() string { return "webhook_jobs" }

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// backoffSchedule is indexed by completed attempts: first retry after 5s,
// then 30s, 2m, 10m, and 1h for everything beyond.
var backoffSchedule = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
}

// BackoffForAttempt returns the delay before the next attempt, given how
// many attempts have already completed. Attempts past the schedule clamp
// to the last entry.
func BackoffForAttempt(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(backoffSchedule) {
		attempts = len(backoffSchedule)
	}
	return backoffSchedule[attempts-1]
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// Processor handles one claimed job. A nil return completes the job; an
// error schedules a retry or, past the attempt budget, fails it.
type Processor interface {
	Process(ctx context.Context, job *WebhookJob) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *WebhookJob) error
	Claim(ctx context.Context, db *gorm.DB, workerID string, limit int, now time.Time) ([]WebhookJob, error)
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	Retry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, now time.Time) error
	ResetStale(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookJob, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[string]int64, error)
}

type Service interface {
	Drain(ctx context.Context, batchSize int) (DrainStats, error)
	ResetStale(ctx context.Context) (int64, error)
}
