package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	"github.com/posbridge/posbridge/internal/observability/metrics"
	"github.com/posbridge/posbridge/internal/pos"
	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	"github.com/posbridge/posbridge/internal/webhook/domain"
	"github.com/posbridge/posbridge/internal/webhook/failures"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Cfg        config.Config
	Registry   *pos.Registry
	Repo       domain.Repository
	JobRepo    jobdomain.Repository
	VendorRepo vendordomain.Repository
	Tracker    *failures.Tracker
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clk        clock.Clock
	genID      *snowflake.Node
	cfg        config.Config
	registry   *pos.Registry
	repo       domain.Repository
	jobRepo    jobdomain.Repository
	vendorRepo vendordomain.Repository
	tracker    *failures.Tracker
	metrics    *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.gateway"),
		clk:        p.Clock,
		genID:      p.GenID,
		cfg:        p.Cfg,
		registry:   p.Registry,
		repo:       p.Repo,
		jobRepo:    p.JobRepo,
		vendorRepo: p.VendorRepo,
		tracker:    p.Tracker,
		metrics:    p.Metrics,
	}
}

// Handle runs the full gateway path for one delivery: signature check,
// payload validation, normalization, dedup insert, location resolution,
// and job enqueue. A rejected signature still returns a Result (not an
// error) so the HTTP layer can acknowledge with 200 and give the sender
// no oracle to probe.
func (s *Service) Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.Result{}, domain.ErrInvalidProvider
	}

	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return domain.Result{}, domain.ErrProviderNotFound
	}

	if result, ok := s.verify(ctx, adapter, provider, payload, headers); !ok {
		return result, nil
	}

	if !json.Valid(payload) {
		return domain.Result{}, domain.ErrInvalidPayload
	}

	envelopes, err := adapter.Normalize(ctx, payload)
	if err != nil {
		if errors.Is(err, posdomain.ErrEventIgnored) {
			return domain.Result{
				OK:             true,
				Status:         domain.ResultStatusIgnored,
				Reason:         domain.ReasonEventIgnored,
				SignatureValid: true,
			}, nil
		}
		return domain.Result{}, domain.ErrInvalidPayload
	}

	result := domain.Result{
		OK:             true,
		Status:         domain.ResultStatusProcessed,
		SignatureValid: true,
	}
	var errs []error
	for i := range envelopes {
		if err := s.handleEnvelope(ctx, provider, payload, &envelopes[i], &result); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		// A datastore failure must surface as 5xx so the provider's
		// retry machinery redelivers; the dedup insert makes the
		// redelivery safe.
		return domain.Result{}, errors.Join(errs...)
	}
	if result.Accepted == 0 && result.Duplicates == 0 && result.Ignored > 0 {
		result.Status = domain.ResultStatusIgnored
		result.Reason = domain.ReasonUnknownLocation
	}
	return result, nil
}

// verify applies the signature policy. A missing secret fails closed in
// production and open elsewhere.
func (s *Service) verify(ctx context.Context, adapter posdomain.Adapter, provider string, payload []byte, headers http.Header) (domain.Result, bool) {
	err := adapter.VerifySignature(ctx, payload, headers)
	if err == nil {
		return domain.Result{}, true
	}

	if errors.Is(err, posdomain.ErrMissingSecret) {
		if !s.cfg.IsProduction() {
			s.log.Warn("webhook secret not configured, accepting unverified delivery",
				zap.String("provider", provider),
			)
			return domain.Result{}, true
		}
		s.log.Error("webhook secret not configured in production", zap.String("provider", provider))
	}

	s.tracker.Record(ctx, provider)
	s.metrics.RecordSignatureFailure(ctx, provider)
	s.log.Warn("webhook signature rejected", zap.String("provider", provider))
	return domain.Result{
		OK:             true,
		Status:         domain.ResultStatusInvalid,
		Reason:         domain.ReasonSignatureFailed,
		SignatureValid: false,
	}, false
}

func (s *Service) handleEnvelope(ctx context.Context, provider string, payload []byte, envelope *posdomain.WebhookEnvelope, result *domain.Result) error {
	now := s.clk.Now()

	location, err := s.vendorRepo.ResolveLocation(ctx, s.db, provider, envelope.LocationID)
	if err != nil {
		s.log.Error("resolve location",
			zap.String("provider", provider),
			zap.String("location_id", envelope.LocationID),
			zap.Error(err),
		)
		return fmt.Errorf("resolve location %s/%s: %w", provider, envelope.LocationID, err)
	}

	event := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ExternalEventID: envelope.ExternalEventID,
		EventKind:       envelope.EventKind,
		ExternalOrderID: envelope.ExternalOrderID,
		LocationID:      envelope.LocationID,
		Status:          domain.EventStatusReceived,
		StatusHint:      string(envelope.StatusHint),
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	if location == nil {
		// Unknown locations are stored for audit but spawn no work.
		event.Status = domain.EventStatusIgnored
	} else {
		event.VendorID = location.VendorID
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &event)
	if err != nil {
		s.log.Error("insert webhook event",
			zap.String("provider", provider),
			zap.String("external_event_id", envelope.ExternalEventID),
			zap.Error(err),
		)
		return fmt.Errorf("insert webhook event %s/%s: %w", provider, envelope.ExternalEventID, err)
	}
	if !inserted {
		result.Duplicates++
		s.metrics.RecordWebhookEvent(ctx, provider, "duplicate")
		return nil
	}

	if location == nil {
		result.Ignored++
		s.metrics.RecordWebhookEvent(ctx, provider, "ignored")
		s.log.Info("webhook for unknown location ignored",
			zap.String("provider", provider),
			zap.String("location_id", envelope.LocationID),
		)
		return nil
	}

	job := jobdomain.WebhookJob{
		ID:              s.genID.Generate(),
		EventID:         event.ID,
		Provider:        provider,
		ExternalOrderID: envelope.ExternalOrderID,
		LocationID:      envelope.LocationID,
		VendorID:        location.VendorID,
		VendorLocation:  location.ID,
		EventKind:       envelope.EventKind,
		StatusHint:      string(envelope.StatusHint),
		Status:          jobdomain.StatusQueued,
		NextAttemptAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.jobRepo.Insert(ctx, s.db, &job); err != nil {
		s.log.Error("enqueue webhook job",
			zap.String("provider", provider),
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("enqueue webhook job for event %s: %w", event.ID, err)
	}

	result.Accepted++
	s.metrics.RecordWebhookEvent(ctx, provider, "accepted")
	return nil
}

// MarkEventProcessed finalizes the source event after its job completed.
func (s *Service) MarkEventProcessed(ctx context.Context, eventID snowflake.ID) error {
	now := s.clk.Now()
	return s.repo.MarkStatus(ctx, s.db, eventID, domain.EventStatusProcessed, "", &now)
}

// MarkEventFailed finalizes the source event after its job exhausted the
// attempt budget.
func (s *Service) MarkEventFailed(ctx context.Context, eventID snowflake.ID, reason string) error {
	return s.repo.MarkStatus(ctx, s.db, eventID, domain.EventStatusFailed, reason, nil)
}
