package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	ingestdomain "github.com/posbridge/posbridge/internal/ingest/domain"
	"github.com/posbridge/posbridge/internal/observability/metrics"
	"github.com/posbridge/posbridge/internal/pos"
	"github.com/posbridge/posbridge/internal/ratelimit"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stats summarizes one location scan.
type Stats struct {
	Fetched        int `json:"fetched"`
	Processed      int `json:"processed"`
	CreatedOrders  int `json:"created_orders"`
	UpdatedOrders  int `json:"updated_orders"`
	CreatedTickets int `json:"created_tickets"`
	UpdatedTickets int `json:"updated_tickets"`
	Errors         int `json:"errors"`
}

func (s *Stats) add(other Stats) {
	s.Fetched += other.Fetched
	s.Processed += other.Processed
	s.CreatedOrders += other.CreatedOrders
	s.UpdatedOrders += other.UpdatedOrders
	s.CreatedTickets += other.CreatedTickets
	s.UpdatedTickets += other.UpdatedTickets
	s.Errors += other.Errors
}

// SweepStats summarizes one full sweep across locations.
type SweepStats struct {
	Locations int   `json:"locations"`
	Skipped   int   `json:"skipped"`
	Stats     Stats `json:"stats"`
}

var ErrVendorNotFound = errors.New("reconcile: vendor not found")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Holder     *config.ReconcileConfigHolder
	Registry   *pos.Registry
	Ingest     ingestdomain.Service
	VendorRepo vendordomain.Repository
	Limiter    *ratelimit.OpsReconcileLimiter `optional:"true"`
	Metrics    *metrics.Metrics               `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clk        clock.Clock
	holder     *config.ReconcileConfigHolder
	registry   *pos.Registry
	ingest     ingestdomain.Service
	vendorRepo vendordomain.Repository
	limiter    *ratelimit.OpsReconcileLimiter
	metrics    *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconcile.service"),
		clk:        p.Clock,
		holder:     p.Holder,
		registry:   p.Registry,
		ingest:     p.Ingest,
		vendorRepo: p.VendorRepo,
		limiter:    p.Limiter,
		metrics:    p.Metrics,
	}
}

// ClampMinutesBack constrains an operator-supplied lookback to the
// configured range. Zero or negative falls back to the default window.
func (s *Service) ClampMinutesBack(minutesBack int) int {
	cfg := s.holder.Current()
	if minutesBack <= 0 {
		return cfg.DefaultMinutesBack
	}
	if minutesBack > cfg.MaxMinutesBack {
		return cfg.MaxMinutesBack
	}
	return minutesBack
}

// ReconcileLocation lists provider orders modified inside the lookback
// window and re-ingests each one. Per-order failures are counted, logged,
// and do not stop the scan.
func (s *Service) ReconcileLocation(ctx context.Context, location vendordomain.VendorLocation, minutesBack int) (Stats, error) {
	var stats Stats

	adapter, err := s.registry.Adapter(location.Provider)
	if err != nil {
		return stats, fmt.Errorf("adapter for %q: %w", location.Provider, err)
	}

	minutesBack = s.ClampMinutesBack(minutesBack)
	since := s.clk.Now().Add(-time.Duration(minutesBack) * time.Minute)

	orders, err := adapter.ListOrdersModifiedSince(ctx, location.ExternalLocationID, since)
	if err != nil {
		return stats, fmt.Errorf("list orders for %s/%s: %w", location.Provider, location.ExternalLocationID, err)
	}
	stats.Fetched = len(orders)
	s.metrics.RecordReconcileRun(ctx, location.Provider)

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		order := &orders[i]
		outcome, err := s.ingest.IngestOrder(ctx, location.VendorID, location.ID, location.Provider, order)
		if err != nil {
			stats.Errors++
			s.log.Warn("reconcile order failed",
				zap.String("provider", location.Provider),
				zap.String("external_order_id", order.ExternalID),
				zap.Error(err),
			)
			continue
		}
		stats.Processed++
		if outcome.OrderCreated {
			stats.CreatedOrders++
		}
		if outcome.OrderAdvanced {
			stats.UpdatedOrders++
		}
		if outcome.TicketCreated {
			stats.CreatedTickets++
		}
		if outcome.TicketAdvanced {
			stats.UpdatedTickets++
		}
	}

	s.metrics.RecordReconcileErrors(ctx, location.Provider, int64(stats.Errors))
	s.log.Info("location reconciled",
		zap.String("provider", location.Provider),
		zap.String("external_location_id", location.ExternalLocationID),
		zap.Int("minutes_back", minutesBack),
		zap.Int("fetched", stats.Fetched),
		zap.Int("processed", stats.Processed),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// ReconcileVendor scans every location of one vendor. Used by the
// operator trigger.
func (s *Service) ReconcileVendor(ctx context.Context, vendorSlug string, minutesBack int) (Stats, error) {
	var stats Stats

	vendor, err := s.vendorRepo.FindVendorBySlug(ctx, s.db, vendorSlug)
	if err != nil {
		return stats, err
	}
	if vendor == nil {
		return stats, ErrVendorNotFound
	}

	locations, err := s.vendorRepo.ListLocationsByVendor(ctx, s.db, vendor.ID)
	if err != nil {
		return stats, err
	}

	var errs []error
	for _, location := range locations {
		if !location.Active {
			continue
		}
		locationStats, err := s.ReconcileLocation(ctx, location, minutesBack)
		stats.add(locationStats)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}

// Sweep scans every active location, or just those in onlyLocations when
// the caller passes an allow-list. A per-location Redis lock keeps
// overlapping sweeps (another instance, or an operator trigger racing the
// schedule) from double-scanning; held locations are skipped, not queued.
func (s *Service) Sweep(ctx context.Context, minutesBack int, onlyLocations []string) (SweepStats, error) {
	var sweep SweepStats

	locations, err := s.vendorRepo.ListActiveLocations(ctx, s.db)
	if err != nil {
		return sweep, fmt.Errorf("list active locations: %w", err)
	}
	if len(onlyLocations) > 0 {
		allowed := make(map[string]struct{}, len(onlyLocations))
		for _, id := range onlyLocations {
			allowed[id] = struct{}{}
		}
		filtered := locations[:0]
		for _, location := range locations {
			if _, ok := allowed[location.ExternalLocationID]; ok {
				filtered = append(filtered, location)
			}
		}
		locations = filtered
	}

	maxLocations := s.holder.Current().MaxLocationsPerSweep
	if len(locations) > maxLocations {
		s.log.Warn("sweep truncated",
			zap.Int("locations", len(locations)),
			zap.Int("max", maxLocations),
		)
		locations = locations[:maxLocations]
	}
	sweep.Locations = len(locations)

	var errs []error
	for _, location := range locations {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}

		token, acquired, err := s.limiter.TryLockLocation(ctx, location.Provider, location.ExternalLocationID)
		if err != nil {
			s.log.Warn("sweep lock unavailable",
				zap.String("provider", location.Provider),
				zap.String("external_location_id", location.ExternalLocationID),
				zap.Error(err),
			)
		}
		if !acquired {
			sweep.Skipped++
			continue
		}

		stats, err := s.ReconcileLocation(ctx, location, minutesBack)
		sweep.Stats.add(stats)
		if err != nil {
			errs = append(errs, err)
		}

		if token != "" {
			if err := s.limiter.ReleaseLocation(ctx, location.Provider, location.ExternalLocationID, token); err != nil {
				s.log.Warn("release sweep lock", zap.Error(err))
			}
		}
	}
	return sweep, errors.Join(errs...)
}

var Module = fx.Module("reconcile.service",
	fx.Provide(New),
)
