package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	"github.com/posbridge/posbridge/internal/jobqueue/domain"
	"github.com/posbridge/posbridge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventMarker finalizes the webhook event a job was spawned from.
type EventMarker interface {
	MarkEventProcessed(ctx context.Context, eventID snowflake.ID) error
	MarkEventFailed(ctx context.Context, eventID snowflake.ID, reason string) error
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Cfg       config.Config
	Repo      domain.Repository
	Processor domain.Processor
	Marker    EventMarker
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clk         clock.Clock
	repo        domain.Repository
	processor   domain.Processor
	marker      EventMarker
	metrics     *metrics.Metrics
	workerID    string
	maxAttempts int
	leaseTTL    time.Duration
}

func New(p Params) domain.Service {
	maxAttempts := p.Cfg.Worker.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 6
	}
	leaseTTL := p.Cfg.Worker.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("jobqueue.service"),
		clk:         p.Clock,
		repo:        p.Repo,
		processor:   p.Processor,
		marker:      p.Marker,
		metrics:     p.Metrics,
		workerID:    uuid.NewString(),
		maxAttempts: maxAttempts,
		leaseTTL:    leaseTTL,
	}
}

// Drain claims up to batchSize due jobs and processes them one at a time.
// A failed job goes back to queued with its backoff applied, or to failed
// once the attempt budget is spent. Drain itself only errors when the
// claim cannot be made; per-job failures are absorbed into the stats.
func (s *Service) Drain(ctx context.Context, batchSize int) (domain.DrainStats, error) {
	var stats domain.DrainStats
	if batchSize < 1 {
		batchSize = 25
	}

	now := s.clk.Now()
	jobs, err := s.repo.Claim(ctx, s.db, s.workerID, batchSize, now)
	if err != nil {
		return stats, fmt.Errorf("claim jobs: %w", err)
	}
	stats.Claimed = len(jobs)
	s.metrics.RecordJobsClaimed(ctx, int64(len(jobs)))

	for i := range jobs {
		job := &jobs[i]
		if err := ctx.Err(); err != nil {
			// Leave the rest leased; the stale reset reclaims them.
			return stats, err
		}
		s.processOne(ctx, job, &stats)
	}
	return stats, nil
}

func (s *Service) processOne(ctx context.Context, job *domain.WebhookJob, stats *domain.DrainStats) {
	err := s.processor.Process(ctx, job)
	now := s.clk.Now()

	if err == nil {
		if completeErr := s.repo.Complete(ctx, s.db, job.ID, now); completeErr != nil {
			s.log.Error("complete job", zap.String("job_id", job.ID.String()), zap.Error(completeErr))
			return
		}
		if markErr := s.marker.MarkEventProcessed(ctx, job.EventID); markErr != nil {
			s.log.Warn("mark event processed", zap.String("event_id", job.EventID.String()), zap.Error(markErr))
		}
		stats.Completed++
		s.metrics.RecordJobCompleted(ctx, job.Provider)
		return
	}

	attempts := job.Attempts + 1
	if attempts >= s.maxAttempts {
		if failErr := s.repo.Fail(ctx, s.db, job.ID, attempts, err.Error(), now); failErr != nil {
			s.log.Error("fail job", zap.String("job_id", job.ID.String()), zap.Error(failErr))
			return
		}
		if markErr := s.marker.MarkEventFailed(ctx, job.EventID, err.Error()); markErr != nil {
			s.log.Warn("mark event failed", zap.String("event_id", job.EventID.String()), zap.Error(markErr))
		}
		stats.Failed++
		s.metrics.RecordJobFailed(ctx, job.Provider, true)
		s.log.Error("job exhausted attempt budget",
			zap.String("job_id", job.ID.String()),
			zap.String("provider", job.Provider),
			zap.String("external_order_id", job.ExternalOrderID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return
	}

	nextAttemptAt := now.Add(domain.BackoffForAttempt(attempts))
	if retryErr := s.repo.Retry(ctx, s.db, job.ID, attempts, nextAttemptAt, err.Error(), now); retryErr != nil {
		s.log.Error("requeue job", zap.String("job_id", job.ID.String()), zap.Error(retryErr))
		return
	}
	stats.Retried++
	s.metrics.RecordJobFailed(ctx, job.Provider, false)
	s.log.Warn("job attempt failed",
		zap.String("job_id", job.ID.String()),
		zap.String("provider", job.Provider),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", nextAttemptAt),
		zap.Error(err),
	)
}

// ResetStale requeues jobs whose lease outlived the TTL, which happens
// when a worker dies mid-batch.
func (s *Service) ResetStale(ctx context.Context) (int64, error) {
	now := s.clk.Now()
	cutoff := now.Add(-s.leaseTTL)
	reset, err := s.repo.ResetStale(ctx, s.db, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	if reset > 0 {
		s.log.Info("reset stale jobs", zap.Int64("count", reset))
	}
	return reset, nil
}
