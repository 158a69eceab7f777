package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, external_event_id, event_kind, external_order_id,
			location_id, vendor_id, status, status_hint, payload, last_error,
			received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ExternalEventID,
		event.EventKind,
		event.ExternalOrderID,
		event.LocationID,
		event.VendorID,
		event.Status,
		event.StatusHint,
		event.Payload,
		event.LastError,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, externalEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, external_event_id, event_kind, external_order_id,
			location_id, vendor_id, status, status_hint, payload, last_error,
			received_at, processed_at
		 FROM webhook_events
		 WHERE provider = ? AND external_event_id = ?
		 LIMIT 1`,
		provider,
		externalEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status, lastError string, processedAt *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, last_error = ?, processed_at = ?
		 WHERE id = ?`,
		status,
		lastError,
		processedAt,
		id,
	).Error
}
