package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/jobqueue/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const jobColumns = `id, event_id, provider, external_order_id, location_id, vendor_id,
	vendor_location_id, event_kind, status_hint, status, attempts, next_attempt_at,
	locked_by, locked_at, last_error, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.WebhookJob) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_jobs (
			id, event_id, provider, external_order_id, location_id, vendor_id,
			vendor_location_id, event_kind, status_hint, status, attempts,
			next_attempt_at, locked_by, locked_at, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.EventID,
		job.Provider,
		job.ExternalOrderID,
		job.LocationID,
		job.VendorID,
		job.VendorLocation,
		job.EventKind,
		job.StatusHint,
		job.Status,
		job.Attempts,
		job.NextAttemptAt,
		job.LockedBy,
		job.LockedAt,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

// Claim marks up to limit due jobs as processing under the worker's lease
// and returns them. The status recheck in the outer WHERE keeps two
// workers from claiming the same row: only the UPDATE that still sees
// status = 'queued' wins.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, workerID string, limit int, now time.Time) ([]domain.WebhookJob, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_jobs
		 SET status = ?, locked_by = ?, locked_at = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM webhook_jobs
			WHERE status = ? AND next_attempt_at <= ?
			ORDER BY next_attempt_at, id
			LIMIT ?
		 ) AND status = ?`,
		domain.StatusProcessing,
		workerID,
		now,
		now,
		domain.StatusQueued,
		now,
		limit,
		domain.StatusQueued,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var jobs []domain.WebhookJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+`
		 FROM webhook_jobs
		 WHERE status = ? AND locked_by = ? AND locked_at = ?
		 ORDER BY next_attempt_at, id`,
		domain.StatusProcessing,
		workerID,
		now,
	).Scan(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_jobs
		 SET status = ?, locked_by = '', locked_at = NULL, last_error = '', updated_at = ?
		 WHERE id = ?`,
		domain.StatusCompleted,
		now,
		id,
	).Error
}

func (r *repo) Retry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_jobs
		 SET status = ?, attempts = ?, next_attempt_at = ?, locked_by = '', locked_at = NULL,
			last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StatusQueued,
		attempts,
		nextAttemptAt,
		lastError,
		now,
		id,
	).Error
}

func (r *repo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_jobs
		 SET status = ?, attempts = ?, locked_by = '', locked_at = NULL, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StatusFailed,
		attempts,
		lastError,
		now,
		id,
	).Error
}

// ResetStale requeues processing jobs whose lease started before the
// cutoff. The attempt counter is untouched; a crashed worker's attempt
// did not complete.
func (r *repo) ResetStale(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_jobs
		 SET status = ?, locked_by = '', locked_at = NULL, next_attempt_at = ?, updated_at = ?
		 WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ?`,
		domain.StatusQueued,
		now,
		now,
		domain.StatusProcessing,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookJob, error) {
	var job domain.WebhookJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM webhook_jobs WHERE id = ? LIMIT 1`,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM webhook_jobs GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
