package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LedgerEntry records points earned or adjusted for a customer. Entries
// are append-only; balances are sums over the ledger.
type LedgerEntry struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	VendorID        snowflake.ID `gorm:"not null;index" json:"vendor_id"`
	Provider        string       `gorm:"type:text;not null" json:"provider"`
	ExternalOrderID string       `gorm:"type:text;not null" json:"external_order_id"`
	CustomerEmail   string       `gorm:"type:text;not null" json:"customer_email"`
	Points          int64        `gorm:"not null" json:"points"`
	Reason          string       `gorm:"type:text;not null" json:"reason"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "loyalty_ledger_entries" }

const (
	ReasonOrderCompleted = "order_completed"
	ReasonRedemption     = "redemption"
	ReasonAdjustment     = "adjustment"
)

// PointsForTotal converts an order total into points: one point per
// whole currency unit, rounded down.
func PointsForTotal(totalCents int64) int64 {
	if totalCents <= 0 {
		return 0
	}
	return totalCents / 100
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	// HasEntryForOrder reports whether an entry with the given reason
	// already exists for the order. Guards at-most-once writes.
	HasEntryForOrder(ctx context.Context, db *gorm.DB, vendorID snowflake.ID, provider, externalOrderID, reason string) (bool, error)
	Balance(ctx context.Context, db *gorm.DB, vendorID snowflake.ID, customerEmail string) (int64, error)
}
