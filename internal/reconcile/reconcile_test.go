package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	ingestdomain "github.com/posbridge/posbridge/internal/ingest/domain"
	"github.com/posbridge/posbridge/internal/pos"
	"github.com/posbridge/posbridge/internal/pos/devkit"
	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeIngest struct {
	outcomes map[string]ingestdomain.IngestOutcome
	failOn   map[string]error
	calls    []string
}

func (f *fakeIngest) IngestOrder(ctx context.Context, vendorID, vendorLocationID snowflake.ID, provider string, order *posdomain.Order) (ingestdomain.IngestOutcome, error) {
	f.calls = append(f.calls, order.ExternalID)
	if err, ok := f.failOn[order.ExternalID]; ok {
		return ingestdomain.IngestOutcome{}, err
	}
	return f.outcomes[order.ExternalID], nil
}

type fakeVendorRepo struct {
	vendors   map[string]*vendordomain.Vendor
	locations []vendordomain.VendorLocation
}

func (f *fakeVendorRepo) InsertVendor(ctx context.Context, db *gorm.DB, vendor *vendordomain.Vendor) error {
	return nil
}

func (f *fakeVendorRepo) FindVendorBySlug(ctx context.Context, db *gorm.DB, slug string) (*vendordomain.Vendor, error) {
	return f.vendors[slug], nil
}

func (f *fakeVendorRepo) FindVendorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*vendordomain.Vendor, error) {
	for _, vendor := range f.vendors {
		if vendor.ID == id {
			return vendor, nil
		}
	}
	return nil, nil
}

func (f *fakeVendorRepo) InsertLocation(ctx context.Context, db *gorm.DB, location *vendordomain.VendorLocation) error {
	return nil
}

func (f *fakeVendorRepo) ResolveLocation(ctx context.Context, db *gorm.DB, provider, externalLocationID string) (*vendordomain.VendorLocation, error) {
	return nil, nil
}

func (f *fakeVendorRepo) ListActiveLocations(ctx context.Context, db *gorm.DB) ([]vendordomain.VendorLocation, error) {
	var active []vendordomain.VendorLocation
	for _, location := range f.locations {
		if location.Active {
			active = append(active, location)
		}
	}
	return active, nil
}

func (f *fakeVendorRepo) ListLocationsByVendor(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) ([]vendordomain.VendorLocation, error) {
	var out []vendordomain.VendorLocation
	for _, location := range f.locations {
		if location.VendorID == vendorID {
			out = append(out, location)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, adapter *devkit.FakeAdapter, ingest *fakeIngest, repo *fakeVendorRepo) *Service {
	t.Helper()
	return New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Holder:     &config.ReconcileConfigHolder{},
		Registry:   pos.NewRegistry(adapter),
		Ingest:     ingest,
		VendorRepo: repo,
	})
}

func testLocation(vendorID snowflake.ID, provider, externalID string) vendordomain.VendorLocation {
	return vendordomain.VendorLocation{
		ID:                 vendorID + 1,
		VendorID:           vendorID,
		Provider:           provider,
		ExternalLocationID: externalID,
		Active:             true,
	}
}

func TestClampMinutesBack(t *testing.T) {
	svc := newTestService(t, devkit.NewFakeAdapter("square"), &fakeIngest{}, &fakeVendorRepo{})
	defaults := config.DefaultReconcileConfig()

	assert.Equal(t, defaults.DefaultMinutesBack, svc.ClampMinutesBack(0))
	assert.Equal(t, defaults.DefaultMinutesBack, svc.ClampMinutesBack(-5))
	assert.Equal(t, 90, svc.ClampMinutesBack(90))
	assert.Equal(t, defaults.MaxMinutesBack, svc.ClampMinutesBack(defaults.MaxMinutesBack+1))
}

func TestReconcileLocationCountsOutcomes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := devkit.NewFakeAdapter("square")
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-created", LocationID: "loc-1", State: posdomain.OrderStatePlaced, UpdatedAt: now})
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-advanced", LocationID: "loc-1", State: posdomain.OrderStateReady, UpdatedAt: now})
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-broken", LocationID: "loc-1", State: posdomain.OrderStatePlaced, UpdatedAt: now})

	ingest := &fakeIngest{
		outcomes: map[string]ingestdomain.IngestOutcome{
			"o-created":  {OrderCreated: true, TicketCreated: true},
			"o-advanced": {OrderAdvanced: true, TicketAdvanced: true},
		},
		failOn: map[string]error{
			"o-broken": errors.New("boom"),
		},
	}
	svc := newTestService(t, adapter, ingest, &fakeVendorRepo{})

	stats, err := svc.ReconcileLocation(context.Background(), testLocation(1000, "square", "loc-1"), 30)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.CreatedOrders)
	assert.Equal(t, 1, stats.UpdatedOrders)
	assert.Equal(t, 1, stats.CreatedTickets)
	assert.Equal(t, 1, stats.UpdatedTickets)
	assert.Len(t, ingest.calls, 3)
}

func TestReconcileLocationSkipsStaleOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := devkit.NewFakeAdapter("square")
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-fresh", LocationID: "loc-1", UpdatedAt: now.Add(-5 * time.Minute)})
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-stale", LocationID: "loc-1", UpdatedAt: now.Add(-3 * time.Hour)})

	ingest := &fakeIngest{}
	svc := newTestService(t, adapter, ingest, &fakeVendorRepo{})

	stats, err := svc.ReconcileLocation(context.Background(), testLocation(1000, "square", "loc-1"), 30)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, []string{"o-fresh"}, ingest.calls)
}

func TestReconcileLocationUnknownProvider(t *testing.T) {
	svc := newTestService(t, devkit.NewFakeAdapter("square"), &fakeIngest{}, &fakeVendorRepo{})

	_, err := svc.ReconcileLocation(context.Background(), testLocation(1000, "clover", "m-1"), 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, posdomain.ErrProviderNotFound)
}

func TestReconcileVendor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := devkit.NewFakeAdapter("square")
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-1", LocationID: "loc-1", UpdatedAt: now})
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-2", LocationID: "loc-2", UpdatedAt: now})

	vendorID := snowflake.ID(7000)
	inactive := testLocation(vendorID, "square", "loc-3")
	inactive.ID = 7777
	inactive.Active = false

	repo := &fakeVendorRepo{
		vendors: map[string]*vendordomain.Vendor{
			"blue-oven": {ID: vendorID, Slug: "blue-oven", Active: true},
		},
		locations: []vendordomain.VendorLocation{
			testLocation(vendorID, "square", "loc-1"),
			testLocation(vendorID, "square", "loc-2"),
			inactive,
		},
	}
	ingest := &fakeIngest{
		outcomes: map[string]ingestdomain.IngestOutcome{
			"o-1": {OrderCreated: true},
			"o-2": {OrderAdvanced: true},
		},
	}
	svc := newTestService(t, adapter, ingest, repo)

	stats, err := svc.ReconcileVendor(context.Background(), "blue-oven", 30)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.CreatedOrders)
	assert.Equal(t, 1, stats.UpdatedOrders)
}

func TestReconcileVendorNotFound(t *testing.T) {
	svc := newTestService(t, devkit.NewFakeAdapter("square"), &fakeIngest{}, &fakeVendorRepo{vendors: map[string]*vendordomain.Vendor{}})

	_, err := svc.ReconcileVendor(context.Background(), "missing", 30)
	assert.ErrorIs(t, err, ErrVendorNotFound)
}

func TestSweepAggregatesAcrossLocations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := devkit.NewFakeAdapter("square")
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-1", LocationID: "loc-1", UpdatedAt: now})
	adapter.PutOrder(&posdomain.Order{ExternalID: "o-2", LocationID: "loc-2", UpdatedAt: now})

	repo := &fakeVendorRepo{
		locations: []vendordomain.VendorLocation{
			testLocation(1000, "square", "loc-1"),
			testLocation(2000, "square", "loc-2"),
		},
	}
	ingest := &fakeIngest{
		outcomes: map[string]ingestdomain.IngestOutcome{
			"o-1": {OrderCreated: true, TicketCreated: true},
			"o-2": {OrderCreated: true, TicketCreated: true},
		},
	}
	svc := newTestService(t, adapter, ingest, repo)

	sweep, err := svc.Sweep(context.Background(), 30, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, sweep.Locations)
	assert.Equal(t, 0, sweep.Skipped)
	assert.Equal(t, 2, sweep.Stats.Fetched)
	assert.Equal(t, 2, sweep.Stats.CreatedTickets)

	filtered, err := svc.Sweep(context.Background(), 30, []string{"loc-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Locations)
}
