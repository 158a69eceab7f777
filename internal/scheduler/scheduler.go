package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/posbridge/posbridge/internal/clock"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	"github.com/posbridge/posbridge/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sweeper runs a reconciliation pass across active locations.
type Sweeper interface {
	Sweep(ctx context.Context, minutesBack int, onlyLocations []string) (reconcile.SweepStats, error)
}

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	JobQueueSvc  jobdomain.Service
	ReconcileSvc *reconcile.Service
	Config       Config `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	jobQueueSvc  jobdomain.Service
	reconcileSvc Sweeper
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.JobQueueSvc == nil || p.ReconcileSvc == nil {
		return nil, errors.New("scheduler: missing dependency")
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		jobQueueSvc:  p.JobQueueSvc,
		reconcileSvc: p.ReconcileSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", ulid.Make().String()),
	)
	log.Debug("scheduler.job.start")

	err := fn(ctx)
	duration := time.Since(start)
	if err == nil {
		log.Info("scheduler.job.finish", zap.Int64("duration_ms", duration.Milliseconds()))
		return nil
	}

	// Deadline and cancellation are soft failures; the next tick retries.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Warn("scheduler.job.finish",
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"drain_queue", s.isJobEnabled("drain_queue"), func(ctx context.Context) error {
			return s.runJob(ctx, "drain_queue", 30*time.Second, s.DrainQueueJob)
		}},
		{"reset_stale", s.isJobEnabled("reset_stale"), func(ctx context.Context) error {
			return s.runJob(ctx, "reset_stale", 30*time.Second, s.ResetStaleJob)
		}},
		{"reconcile_sweep", s.isJobEnabled("reconcile_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "reconcile_sweep", 10*time.Minute, s.ReconcileSweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables every job (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// DrainQueueJob claims a batch of queued webhook jobs and processes them.
func (s *Scheduler) DrainQueueJob(ctx context.Context) error {
	stats, err := s.jobQueueSvc.Drain(ctx, s.cfg.DrainBatchSize)
	if err != nil {
		return err
	}
	if stats.Claimed > 0 {
		s.log.Info("queue drained",
			zap.Int("claimed", stats.Claimed),
			zap.Int("completed", stats.Completed),
			zap.Int("retried", stats.Retried),
			zap.Int("failed", stats.Failed),
		)
	}
	return nil
}

// ResetStaleJob requeues jobs whose worker lease expired without completion.
func (s *Scheduler) ResetStaleJob(ctx context.Context) error {
	reset, err := s.jobQueueSvc.ResetStale(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		s.log.Warn("stale jobs requeued", zap.Int64("count", reset))
	}
	return nil
}

// ReconcileSweepJob scans every active location for orders the webhook
// path may have missed.
func (s *Scheduler) ReconcileSweepJob(ctx context.Context) error {
	sweep, err := s.reconcileSvc.Sweep(ctx, s.cfg.ReconcileMinutesBack, nil)
	if err != nil {
		return err
	}
	s.log.Info("reconcile sweep finished",
		zap.Int("locations", sweep.Locations),
		zap.Int("skipped", sweep.Skipped),
		zap.Int("fetched", sweep.Stats.Fetched),
		zap.Int("processed", sweep.Stats.Processed),
		zap.Int("errors", sweep.Stats.Errors),
	)
	return nil
}
