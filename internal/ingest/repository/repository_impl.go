package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/ingest/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, vendor_id, vendor_location_id, provider, external_order_id, state,
	total_cents, currency, customer_name, customer_email, line_items, metadata,
	placed_at, closed_at, created_at, updated_at`

func (r *repo) FindOrder(ctx context.Context, db *gorm.DB, vendorID snowflake.ID, provider, externalOrderID string) (*domain.CanonicalOrder, error) {
	var order domain.CanonicalOrder
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM canonical_orders
		 WHERE vendor_id = ? AND provider = ? AND external_order_id = ?
		 LIMIT 1`,
		vendorID,
		provider,
		externalOrderID,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) InsertOrder(ctx context.Context, db *gorm.DB, order *domain.CanonicalOrder) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO canonical_orders (
			id, vendor_id, vendor_location_id, provider, external_order_id, state,
			total_cents, currency, customer_name, customer_email, line_items, metadata,
			placed_at, closed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vendor_id, provider, external_order_id) DO NOTHING`,
		order.ID,
		order.VendorID,
		order.VendorLocation,
		order.Provider,
		order.ExternalOrderID,
		order.State,
		order.TotalCents,
		order.Currency,
		order.CustomerName,
		order.CustomerEmail,
		order.LineItems,
		order.Metadata,
		order.PlacedAt,
		order.ClosedAt,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateOrder(ctx context.Context, db *gorm.DB, order *domain.CanonicalOrder) error {
	return db.WithContext(ctx).Exec(
		`UPDATE canonical_orders
		 SET state = ?, total_cents = ?, currency = ?, customer_name = ?,
			customer_email = ?, line_items = ?, metadata = ?, closed_at = ?, updated_at = ?
		 WHERE id = ?`,
		order.State,
		order.TotalCents,
		order.Currency,
		order.CustomerName,
		order.CustomerEmail,
		order.LineItems,
		order.Metadata,
		order.ClosedAt,
		order.UpdatedAt,
		order.ID,
	).Error
}

func (r *repo) FindTicketByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.KitchenTicket, error) {
	var ticket domain.KitchenTicket
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, vendor_id, shortcode, state,
			placed_at, promoted_at, ready_at, completed_at, created_at, updated_at
		 FROM kitchen_tickets WHERE order_id = ? LIMIT 1`,
		orderID,
	).Scan(&ticket).Error
	if err != nil {
		return nil, err
	}
	if ticket.ID == 0 {
		return nil, nil
	}
	return &ticket, nil
}

func (r *repo) InsertTicket(ctx context.Context, db *gorm.DB, ticket *domain.KitchenTicket) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO kitchen_tickets (id, order_id, vendor_id, shortcode, state, placed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (order_id) DO NOTHING`,
		ticket.ID,
		ticket.OrderID,
		ticket.VendorID,
		ticket.Shortcode,
		ticket.State,
		ticket.PlacedAt,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// transitionColumns maps a ticket state to the lifecycle timestamp it
// stamps. Canceled records no timestamp of its own.
var transitionColumns = map[string]string{
	"preparing": "promoted_at",
	"ready":     "ready_at",
	"completed": "completed_at",
}

func (r *repo) UpdateTicketState(ctx context.Context, db *gorm.DB, id snowflake.ID, state string, now time.Time) error {
	if column, ok := transitionColumns[state]; ok {
		return db.WithContext(ctx).Exec(
			`UPDATE kitchen_tickets SET state = ?, `+column+` = ?, updated_at = ? WHERE id = ?`,
			state,
			now,
			now,
			id,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE kitchen_tickets SET state = ?, updated_at = ? WHERE id = ?`,
		state,
		now,
		id,
	).Error
}

func (r *repo) InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *domain.OrderSnapshot) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO order_snapshots (
			id, vendor_id, provider, external_order_id, state, total_cents, currency, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vendor_id, provider, external_order_id) DO NOTHING`,
		snapshot.ID,
		snapshot.VendorID,
		snapshot.Provider,
		snapshot.ExternalOrderID,
		snapshot.State,
		snapshot.TotalCents,
		snapshot.Currency,
		snapshot.CapturedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
