package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/ingest/domain"
	"github.com/posbridge/posbridge/internal/ingest/repository"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	loyaltydomain "github.com/posbridge/posbridge/internal/loyalty/domain"
	loyaltyrepository "github.com/posbridge/posbridge/internal/loyalty/repository"
	"github.com/posbridge/posbridge/internal/pos"
	"github.com/posbridge/posbridge/internal/pos/devkit"
	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
	"github.com/posbridge/posbridge/internal/providers/email"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	vendorrepository "github.com/posbridge/posbridge/internal/vendors/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	err = db.AutoMigrate(
		&domain.CanonicalOrder{},
		&domain.KitchenTicket{},
		&domain.OrderSnapshot{},
		&loyaltydomain.LedgerEntry{},
		&vendordomain.Vendor{},
	)
	if err != nil {
		t.Fatal(err)
	}
	// The conflict-gated inserts target these unique keys.
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_canonical_orders_identity
		 ON canonical_orders (vendor_id, provider, external_order_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_order_snapshots_identity
		 ON order_snapshots (vendor_id, provider, external_order_id)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func newIngest(t *testing.T, db *gorm.DB, adapter *devkit.FakeAdapter) *Service {
	t.Helper()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatal(err)
	}
	return New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		GenID:       node,
		Registry:    pos.NewRegistry(adapter),
		Repo:        repository.Provide(),
		LoyaltyRepo: loyaltyrepository.Provide(),
		VendorRepo:  vendorrepository.Provide(),
		Email:       &email.NoOpProvider{},
	})
}

func testOrder(externalID string, state posdomain.OrderState) *posdomain.Order {
	return &posdomain.Order{
		ExternalID: externalID,
		LocationID: "loc-1",
		State:      state,
		TotalCents: 2350,
		Currency:   "USD",
		LineItems: []posdomain.LineItem{
			{Name: "Margherita", Quantity: 1, TotalCents: 2350},
		},
		PlacedAt:  time.Date(2026, 3, 1, 11, 45, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 11, 50, 0, 0, time.UTC),
	}
}

func loadOrder(t *testing.T, db *gorm.DB, vendorID snowflake.ID, provider, externalID string) *domain.CanonicalOrder {
	t.Helper()
	order, err := repository.Provide().FindOrder(context.Background(), db, vendorID, provider, externalID)
	if err != nil {
		t.Fatal(err)
	}
	if order == nil {
		t.Fatalf("order %s not found", externalID)
	}
	return order
}

func loadTicket(t *testing.T, db *gorm.DB, vendorID snowflake.ID, provider, externalID string) *domain.KitchenTicket {
	t.Helper()
	order := loadOrder(t, db, vendorID, provider, externalID)
	ticket, err := repository.Provide().FindTicketByOrder(context.Background(), db, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ticket == nil {
		t.Fatalf("ticket for order %s not found", externalID)
	}
	return ticket
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(`SELECT COUNT(*) FROM ` + table).Scan(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestProcessFetchesAndIngests(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.PutOrder(testOrder("ord-1", posdomain.OrderStatePlaced))
	svc := newIngest(t, db, adapter)

	job := &jobdomain.WebhookJob{
		Provider:        "square",
		ExternalOrderID: "ord-1",
		LocationID:      "loc-1",
		VendorID:        500,
		VendorLocation:  501,
	}
	if err := svc.Process(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	order := loadOrder(t, db, 500, "square", "ord-1")
	if order.State != string(posdomain.OrderStatePlaced) {
		t.Fatalf("state = %q, want placed", order.State)
	}
	if order.TotalCents != 2350 {
		t.Fatalf("total = %d, want 2350", order.TotalCents)
	}
	if got := countRows(t, db, "kitchen_tickets"); got != 1 {
		t.Fatalf("tickets = %d, want 1", got)
	}
	if adapter.FetchCalls != 1 {
		t.Fatalf("fetch calls = %d, want 1", adapter.FetchCalls)
	}
}

func TestIngestOrderStateNeverRegresses(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	outcome, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStatePlaced))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.OrderCreated || !outcome.TicketCreated {
		t.Fatalf("outcome = %+v, want created order and ticket", outcome)
	}

	outcome, err = svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStateReady))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.OrderAdvanced {
		t.Fatalf("outcome = %+v, want advanced to ready", outcome)
	}

	// A stale fetch arriving late must not move the order backwards.
	outcome, err = svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStatePlaced))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.OrderAdvanced {
		t.Fatalf("outcome = %+v, stale state must not advance", outcome)
	}

	order := loadOrder(t, db, 500, "square", "ord-1")
	if order.State != string(posdomain.OrderStateReady) {
		t.Fatalf("state = %q, want ready after stale replay", order.State)
	}

	var ticketState string
	if err := db.Raw(`SELECT state FROM kitchen_tickets WHERE order_id = ?`, order.ID).Scan(&ticketState).Error; err != nil {
		t.Fatal(err)
	}
	if ticketState != string(posdomain.OrderStateReady) {
		t.Fatalf("ticket state = %q, want ready", ticketState)
	}
}

func TestIngestCompletedGrantsLoyaltyOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	order := testOrder("ord-1", posdomain.OrderStateCompleted)
	order.CustomerEmail = "dana@example.com"

	outcome, err := svc.IngestOrder(ctx, 500, 501, "square", order)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Finalized {
		t.Fatalf("outcome = %+v, want finalized", outcome)
	}

	balance, err := loyaltyrepository.Provide().Balance(ctx, db, 500, "dana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 23 {
		t.Fatalf("balance = %d, want 23 points for 2350 cents", balance)
	}

	// A retried terminal ingest must not double-award.
	outcome, err = svc.IngestOrder(ctx, 500, 501, "square", order)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Finalized {
		t.Fatalf("outcome = %+v, second ingest must not finalize again", outcome)
	}

	if got := countRows(t, db, "order_snapshots"); got != 1 {
		t.Fatalf("snapshots = %d, want 1", got)
	}
	if got := countRows(t, db, "loyalty_ledger_entries"); got != 1 {
		t.Fatalf("ledger entries = %d, want 1", got)
	}
}

func TestIngestRedemptionWrittenOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	order := testOrder("ord-1", posdomain.OrderStateCompleted)
	order.CustomerEmail = "dana@example.com"
	order.Metadata = map[string]string{posdomain.MetaRedeemPoints: "200"}

	if _, err := svc.IngestOrder(ctx, 500, 501, "square", order); err != nil {
		t.Fatal(err)
	}

	balance, err := loyaltyrepository.Provide().Balance(ctx, db, 500, "dana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 23-200 {
		t.Fatalf("balance = %d, want %d (23 earned minus 200 redeemed)", balance, 23-200)
	}

	if _, err := svc.IngestOrder(ctx, 500, 501, "square", order); err != nil {
		t.Fatal(err)
	}
	if got := countRows(t, db, "loyalty_ledger_entries"); got != 2 {
		t.Fatalf("ledger entries = %d, want one grant and one redemption", got)
	}
}

func TestIngestCanceledClosesWithoutSnapshot(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	if _, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStatePlaced)); err != nil {
		t.Fatal(err)
	}

	canceled := testOrder("ord-1", posdomain.OrderStateCanceled)
	canceled.CustomerEmail = "dana@example.com"
	outcome, err := svc.IngestOrder(ctx, 500, 501, "square", canceled)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Finalized {
		t.Fatalf("outcome = %+v, cancellation must not finalize", outcome)
	}

	// Only completed purchases earn a snapshot or loyalty entries.
	if got := countRows(t, db, "order_snapshots"); got != 0 {
		t.Fatalf("snapshots = %d, want 0 for canceled order", got)
	}
	if got := countRows(t, db, "loyalty_ledger_entries"); got != 0 {
		t.Fatalf("ledger entries = %d, want 0 for canceled order", got)
	}

	stored := loadOrder(t, db, 500, "square", "ord-1")
	if stored.ClosedAt == nil {
		t.Fatal("expected closed_at set for terminal order")
	}

	var ticketState string
	if err := db.Raw(`SELECT state FROM kitchen_tickets WHERE order_id = ?`, stored.ID).Scan(&ticketState).Error; err != nil {
		t.Fatal(err)
	}
	if ticketState != string(posdomain.OrderStateCanceled) {
		t.Fatalf("ticket state = %q, want canceled", ticketState)
	}
}

func TestIngestTicketLifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	if _, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStatePlaced)); err != nil {
		t.Fatal(err)
	}

	ticket := loadTicket(t, db, 500, "square", "ord-1")
	if ticket.Shortcode == "" {
		t.Fatal("expected a shortcode assigned at creation")
	}
	shortcode := ticket.Shortcode

	outcome, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStateReady))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.TicketAdvanced {
		t.Fatalf("outcome = %+v, want ticket advanced", outcome)
	}

	ticket = loadTicket(t, db, 500, "square", "ord-1")
	if ticket.Shortcode != shortcode {
		t.Fatalf("shortcode = %q, must stay %q", ticket.Shortcode, shortcode)
	}
	if ticket.ReadyAt == nil {
		t.Fatal("expected ready_at stamped on the ready transition")
	}

	if _, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStateCompleted)); err != nil {
		t.Fatal(err)
	}
	ticket = loadTicket(t, db, 500, "square", "ord-1")
	if ticket.CompletedAt == nil {
		t.Fatal("expected completed_at stamped on the completed transition")
	}
}

func TestIngestTerminalFirstOrderGetsNoTicket(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	outcome, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStateCompleted))
	if err != nil {
		t.Fatal(err)
	}
	if outcome.TicketCreated {
		t.Fatalf("outcome = %+v, terminal-first order must not spawn a ticket", outcome)
	}
	if got := countRows(t, db, "kitchen_tickets"); got != 0 {
		t.Fatalf("tickets = %d, want 0", got)
	}
	if got := countRows(t, db, "order_snapshots"); got != 1 {
		t.Fatalf("snapshots = %d, want 1", got)
	}
}

func TestIngestCompletedWithoutEmailSkipsLoyalty(t *testing.T) {
	db := newTestDB(t)
	svc := newIngest(t, db, devkit.NewFakeAdapter("square"))
	ctx := context.Background()

	outcome, err := svc.IngestOrder(ctx, 500, 501, "square", testOrder("ord-1", posdomain.OrderStateCompleted))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Finalized {
		t.Fatalf("outcome = %+v, want finalized", outcome)
	}
	if got := countRows(t, db, "loyalty_ledger_entries"); got != 0 {
		t.Fatalf("ledger entries = %d, want 0 without a customer email", got)
	}
}
