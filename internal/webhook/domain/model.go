package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is one webhook notification after normalization. The
// (provider, external_event_id) pair is unique; redelivery of the same
// provider event inserts nothing.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:text;not null" json:"provider"`
	ExternalEventID string         `gorm:"type:text;not null" json:"external_event_id"`
	EventKind       string         `gorm:"type:text;not null" json:"event_kind"`
	ExternalOrderID string         `gorm:"type:text;not null" json:"external_order_id"`
	LocationID      string         `gorm:"type:text" json:"location_id"`
	VendorID        snowflake.ID   `gorm:"index" json:"vendor_id,omitempty"`
	Status          string         `gorm:"type:text;not null" json:"status"`
	StatusHint      string         `gorm:"type:text" json:"status_hint,omitempty"`
	Payload         datatypes.JSON `json:"payload"`
	LastError       string         `gorm:"type:text" json:"last_error,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "webhook_events" }

const (
	EventStatusReceived  = "received"
	EventStatusIgnored   = "ignored"
	EventStatusProcessed = "processed"
	EventStatusFailed    = "failed"
)

// Result is what the gateway reports back to the HTTP layer. OK is true
// for every recognized delivery, even ignored or invalid ones; callers
// answer those with 200 so providers do not re-deliver what the gateway
// already understood.
type Result struct {
	OK             bool   `json:"ok"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	SignatureValid bool   `json:"signatureValid"`
	Accepted       int    `json:"accepted"`
	Duplicates     int    `json:"duplicates"`
	Ignored        int    `json:"ignored"`
}

const (
	ResultStatusProcessed = "processed"
	ResultStatusIgnored   = "ignored"
	ResultStatusInvalid   = "invalid"

	ReasonSignatureFailed = "signature_verification_failed"
	ReasonUnknownLocation = "unknown_location"
	ReasonEventIgnored    = "event_ignored"
)

var (
	ErrInvalidProvider  = errors.New("webhook: invalid provider")
	ErrProviderNotFound = errors.New("webhook: provider not found")
	ErrInvalidPayload   = errors.New("webhook: invalid payload")
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, externalEventID string) (*EventRecord, error)
	MarkStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status, lastError string, processedAt *time.Time) error
}

type Service interface {
	Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (Result, error)
}
