package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	jobrepository "github.com/posbridge/posbridge/internal/jobqueue/repository"
	"github.com/posbridge/posbridge/internal/pos"
	"github.com/posbridge/posbridge/internal/pos/devkit"
	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	vendorrepository "github.com/posbridge/posbridge/internal/vendors/repository"
	"github.com/posbridge/posbridge/internal/webhook/domain"
	"github.com/posbridge/posbridge/internal/webhook/failures"
	"github.com/posbridge/posbridge/internal/webhook/repository"
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
	if err := db.AutoMigrate(&domain.EventRecord{}, &jobdomain.WebhookJob{}, &vendordomain.VendorLocation{}); err != nil {
		t.Fatal(err)
	}
	// The dedup insert targets this unique key.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_provider_event
		 ON webhook_events (provider, external_event_id)`,
	).Error; err != nil {
		t.Fatal(err)
	}
	return db
}

func newGateway(t *testing.T, db *gorm.DB, adapter *devkit.FakeAdapter, environment string) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))
	return New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		GenID:      node,
		Cfg:        config.Config{Environment: environment},
		Registry:   pos.NewRegistry(adapter),
		Repo:       repository.Provide(),
		JobRepo:    jobrepository.Provide(),
		VendorRepo: vendorrepository.Provide(),
		Tracker:    failures.NewTracker(failures.NewMemoryCounterStore(clk), clk, zap.NewNop(), 10, 5*time.Minute),
	})
}

func seedLocation(t *testing.T, db *gorm.DB, provider, externalID string) vendordomain.VendorLocation {
	t.Helper()
	location := vendordomain.VendorLocation{
		ID:                 777,
		VendorID:           700,
		Provider:           provider,
		ExternalLocationID: externalID,
		Active:             true,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	if err := vendorrepository.Provide().InsertLocation(context.Background(), db, &location); err != nil {
		t.Fatal(err)
	}
	return location
}

func countJobs(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Raw(`SELECT COUNT(*) FROM webhook_jobs`).Scan(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestHandleAcceptsAndEnqueues(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.Envelopes = []posdomain.WebhookEnvelope{
		{ExternalEventID: "evt-1", EventKind: posdomain.EventKindOrderUpdated, ExternalOrderID: "ord-1", LocationID: "loc-1"},
	}
	seedLocation(t, db, "square", "loc-1")
	svc := newGateway(t, db, adapter, "development")

	result, err := svc.Handle(context.Background(), "square", []byte(`{"event_id":"evt-1"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != domain.ResultStatusProcessed || result.Accepted != 1 {
		t.Fatalf("result = %+v, want processed", result)
	}
	if !result.OK || !result.SignatureValid {
		t.Fatalf("result = %+v, want ok with valid signature", result)
	}

	event, err := repository.Provide().FindEvent(context.Background(), db, "square", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if event == nil || event.Status != domain.EventStatusReceived {
		t.Fatalf("event = %+v, want stored as received", event)
	}
	if got := countJobs(t, db); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}
}

func TestHandleStorageFailureSurfacesError(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.Envelopes = []posdomain.WebhookEnvelope{
		{ExternalEventID: "evt-1", EventKind: posdomain.EventKindOrderUpdated, ExternalOrderID: "ord-1", LocationID: "loc-1"},
	}
	seedLocation(t, db, "square", "loc-1")
	svc := newGateway(t, db, adapter, "development")

	// A lost datastore must not be acknowledged as ignored: the error
	// has to reach the HTTP layer so the provider redelivers.
	if err := db.Exec(`DROP TABLE webhook_events`).Error; err != nil {
		t.Fatal(err)
	}

	_, err := svc.Handle(context.Background(), "square", []byte(`{"event_id":"evt-1"}`), nil)
	if err == nil {
		t.Fatal("expected an error when the event store is unavailable")
	}
	if got := countJobs(t, db); got != 0 {
		t.Fatalf("jobs = %d, want none enqueued", got)
	}
}

func TestHandleDeduplicatesRedelivery(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.Envelopes = []posdomain.WebhookEnvelope{
		{ExternalEventID: "evt-1", EventKind: posdomain.EventKindOrderUpdated, ExternalOrderID: "ord-1", LocationID: "loc-1"},
	}
	seedLocation(t, db, "square", "loc-1")
	svc := newGateway(t, db, adapter, "development")

	payload := []byte(`{"event_id":"evt-1"}`)
	if _, err := svc.Handle(context.Background(), "square", payload, nil); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Handle(context.Background(), "square", payload, nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.Duplicates != 1 || result.Accepted != 0 {
		t.Fatalf("result = %+v, want 1 duplicate and 0 accepted", result)
	}
	if got := countJobs(t, db); got != 1 {
		t.Fatalf("jobs = %d, want 1 after redelivery", got)
	}
}

func TestHandleUnknownLocationStoresIgnoredEvent(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.Envelopes = []posdomain.WebhookEnvelope{
		{ExternalEventID: "evt-9", EventKind: posdomain.EventKindOrderCreated, ExternalOrderID: "ord-9", LocationID: "loc-unknown"},
	}
	svc := newGateway(t, db, adapter, "development")

	result, err := svc.Handle(context.Background(), "square", []byte(`{"event_id":"evt-9"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != domain.ResultStatusIgnored || result.Reason != domain.ReasonUnknownLocation {
		t.Fatalf("result = %+v, want ignored with unknown_location", result)
	}

	event, err := repository.Provide().FindEvent(context.Background(), db, "square", "evt-9")
	if err != nil {
		t.Fatal(err)
	}
	if event == nil || event.Status != domain.EventStatusIgnored {
		t.Fatalf("event = %+v, want stored as ignored", event)
	}
	if got := countJobs(t, db); got != 0 {
		t.Fatalf("jobs = %d, want 0 for unknown location", got)
	}
}

func TestHandleInvalidSignatureReportsNoError(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.VerifyErr = posdomain.ErrInvalidSignature
	svc := newGateway(t, db, adapter, "development")

	result, err := svc.Handle(context.Background(), "square", []byte(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != domain.ResultStatusInvalid || result.Reason != domain.ReasonSignatureFailed {
		t.Fatalf("result = %+v, want invalid signature result", result)
	}
	if result.SignatureValid {
		t.Fatal("expected SignatureValid false")
	}

	event, err := repository.Provide().FindEvent(context.Background(), db, "square", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if event != nil {
		t.Fatal("rejected delivery must not store events")
	}
}

func TestHandleMissingSecretPolicy(t *testing.T) {
	t.Run("fails open outside production", func(t *testing.T) {
		db := newTestDB(t)
		adapter := devkit.NewFakeAdapter("square")
		adapter.VerifyErr = posdomain.ErrMissingSecret
		adapter.Envelopes = []posdomain.WebhookEnvelope{
			{ExternalEventID: "evt-1", EventKind: posdomain.EventKindOrderUpdated, ExternalOrderID: "ord-1", LocationID: "loc-1"},
		}
		seedLocation(t, db, "square", "loc-1")
		svc := newGateway(t, db, adapter, "development")

		result, err := svc.Handle(context.Background(), "square", []byte(`{}`), nil)
		if err != nil {
			t.Fatal(err)
		}
		if result.Accepted != 1 {
			t.Fatalf("result = %+v, want accepted without secret in dev", result)
		}
	})

	t.Run("fails closed in production", func(t *testing.T) {
		db := newTestDB(t)
		adapter := devkit.NewFakeAdapter("square")
		adapter.VerifyErr = posdomain.ErrMissingSecret
		svc := newGateway(t, db, adapter, "production")

		result, err := svc.Handle(context.Background(), "square", []byte(`{}`), nil)
		if err != nil {
			t.Fatal(err)
		}
		if result.Status != domain.ResultStatusInvalid {
			t.Fatalf("result = %+v, want rejection without secret in production", result)
		}
	})
}

func TestHandleIgnoredEventKind(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.NormErr = posdomain.ErrEventIgnored
	svc := newGateway(t, db, adapter, "development")

	result, err := svc.Handle(context.Background(), "square", []byte(`{"type":"catalog.updated"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != domain.ResultStatusIgnored || result.Reason != domain.ReasonEventIgnored {
		t.Fatalf("result = %+v, want ignored event kind", result)
	}
}

func TestHandleUnknownProvider(t *testing.T) {
	db := newTestDB(t)
	svc := newGateway(t, db, devkit.NewFakeAdapter("square"), "development")

	_, err := svc.Handle(context.Background(), "sumup", []byte(`{}`), nil)
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("err = %v, want ErrProviderNotFound", err)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	db := newTestDB(t)
	svc := newGateway(t, db, devkit.NewFakeAdapter("square"), "development")

	_, err := svc.Handle(context.Background(), "square", []byte(`{not json`), nil)
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestMarkEventLifecycle(t *testing.T) {
	db := newTestDB(t)
	adapter := devkit.NewFakeAdapter("square")
	adapter.Envelopes = []posdomain.WebhookEnvelope{
		{ExternalEventID: "evt-1", EventKind: posdomain.EventKindOrderUpdated, ExternalOrderID: "ord-1", LocationID: "loc-1"},
	}
	seedLocation(t, db, "square", "loc-1")
	svc := newGateway(t, db, adapter, "development")

	if _, err := svc.Handle(context.Background(), "square", []byte(`{"event_id":"evt-1"}`), nil); err != nil {
		t.Fatal(err)
	}
	event, err := repository.Provide().FindEvent(context.Background(), db, "square", "evt-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkEventProcessed(context.Background(), event.ID); err != nil {
		t.Fatal(err)
	}
	event, err = repository.Provide().FindEvent(context.Background(), db, "square", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if event.Status != domain.EventStatusProcessed || event.ProcessedAt == nil {
		t.Fatalf("event = %+v, want processed with timestamp", event)
	}

	if err := svc.MarkEventFailed(context.Background(), event.ID, "upstream gone"); err != nil {
		t.Fatal(err)
	}
	event, err = repository.Provide().FindEvent(context.Background(), db, "square", "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if event.Status != domain.EventStatusFailed || event.LastError != "upstream gone" {
		t.Fatalf("event = %+v, want failed with reason", event)
	}
}
