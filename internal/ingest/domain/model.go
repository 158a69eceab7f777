package domain

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CanonicalOrder is the provider-independent order record. One row per
// (vendor, provider, external order); state only moves forward.
type CanonicalOrder struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	VendorID        snowflake.ID   `gorm:"not null;index" json:"vendor_id"`
	VendorLocation  snowflake.ID   `gorm:"column:vendor_location_id;not null" json:"vendor_location_id"`
	Provider        string         `gorm:"type:text;not null" json:"provider"`
	ExternalOrderID string         `gorm:"type:text;not null" json:"external_order_id"`
	State           string         `gorm:"type:text;not null" json:"state"`
	TotalCents      int64          `gorm:"not null;default:0" json:"total_cents"`
	Currency        string         `gorm:"type:text" json:"currency"`
	CustomerName    string         `gorm:"type:text" json:"customer_name,omitempty"`
	CustomerEmail   string         `gorm:"type:text" json:"customer_email,omitempty"`
	LineItems       datatypes.JSON `json:"line_items"`
	Metadata        datatypes.JSON `json:"metadata,omitempty"`
	PlacedAt        *time.Time     `json:"placed_at,omitempty"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (CanonicalOrder) TableName() string { return "canonical_orders" }

// RedeemPointsRequested reads the redemption request out of the order's
// provider metadata. Zero means no redemption was asked for.
func (o *CanonicalOrder) RedeemPointsRequested() int64 {
	if len(o.Metadata) == 0 {
		return 0
	}
	var meta map[string]string
	if err := json.Unmarshal(o.Metadata, &meta); err != nil {
		return 0
	}
	points, err := strconv.ParseInt(strings.TrimSpace(meta[posdomain.MetaRedeemPoints]), 10, 64)
	if err != nil || points <= 0 {
		return 0
	}
	return points
}

// KitchenTicket mirrors the order through the kitchen lifecycle. At most
// one ticket exists per canonical order, created when the order is first
// seen open; the shortcode is assigned once and never changes.
type KitchenTicket struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID     snowflake.ID `gorm:"not null;uniqueIndex" json:"order_id"`
	VendorID    snowflake.ID `gorm:"not null;index" json:"vendor_id"`
	Shortcode   string       `gorm:"type:text;not null" json:"shortcode"`
	State       string       `gorm:"type:text;not null" json:"state"`
	PlacedAt    time.Time    `gorm:"not null" json:"placed_at"`
	PromotedAt  *time.Time   `json:"promoted_at,omitempty"`
	ReadyAt     *time.Time   `json:"ready_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (KitchenTicket) TableName() string { return "kitchen_tickets" }

// OrderSnapshot freezes an order's totals the moment it reaches a
// terminal state. The unique (vendor_id, provider, external_order_id)
// key makes the terminal side effects at-most-once: loyalty points are
// granted only by the transaction that inserts the snapshot.
type OrderSnapshot struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	VendorID        snowflake.ID `gorm:"not null;index" json:"vendor_id"`
	Provider        string       `gorm:"type:text;not null" json:"provider"`
	ExternalOrderID string       `gorm:"type:text;not null" json:"external_order_id"`
	State           string       `gorm:"type:text;not null" json:"state"`
	TotalCents      int64        `gorm:"not null" json:"total_cents"`
	Currency        string       `gorm:"type:text" json:"currency"`
	CapturedAt      time.Time    `gorm:"not null" json:"captured_at"`
}

func (OrderSnapshot) TableName() string { return "order_snapshots" }

// IngestOutcome reports what one job's ingestion changed.
type IngestOutcome struct {
	OrderCreated   bool
	OrderAdvanced  bool
	TicketCreated  bool
	TicketAdvanced bool
	Finalized      bool
}

type Repository interface {
	FindOrder(ctx context.Context, db *gorm.DB, vendorID snowflake.ID, provider, externalOrderID string) (*CanonicalOrder, error)
	InsertOrder(ctx context.Context, db *gorm.DB, order *CanonicalOrder) (bool, error)
	UpdateOrder(ctx context.Context, db *gorm.DB, order *CanonicalOrder) error
	FindTicketByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*KitchenTicket, error)
	InsertTicket(ctx context.Context, db *gorm.DB, ticket *KitchenTicket) (bool, error)
	UpdateTicketState(ctx context.Context, db *gorm.DB, id snowflake.ID, state string, now time.Time) error
	InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *OrderSnapshot) (bool, error)
}

type Service interface {
	// IngestOrder applies one fetched provider order to local state.
	IngestOrder(ctx context.Context, vendorID, vendorLocationID snowflake.ID, provider string, order *posdomain.Order) (IngestOutcome, error)
}
