package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/loyalty/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO loyalty_ledger_entries (
			id, vendor_id, provider, external_order_id, customer_email,
			points, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.VendorID,
		entry.Provider,
		entry.ExternalOrderID,
		entry.CustomerEmail,
		entry.Points,
		entry.Reason,
		entry.CreatedAt,
	).Error
}

func (r *repo) HasEntryForOrder(ctx context.Context, db *gorm.DB, vendorID snowflake.ID, provider, externalOrderID, reason string) (bool, error) {
	var row struct {
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS count
		 FROM loyalty_ledger_entries
		 WHERE vendor_id = ? AND provider = ? AND external_order_id = ? AND reason = ?`,
		vendorID,
		provider,
		externalOrderID,
		reason,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	return row.Count > 0, nil
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, vendorID snowflake.ID, customerEmail string) (int64, error) {
	var balance struct {
		Total int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(points), 0) AS total
		 FROM loyalty_ledger_entries
		 WHERE vendor_id = ? AND customer_email = ?`,
		vendorID,
		strings.ToLower(strings.TrimSpace(customerEmail)),
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance.Total, nil
}
