package webhook

import (
	"strings"

	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	jobservice "github.com/posbridge/posbridge/internal/jobqueue/service"
	"github.com/posbridge/posbridge/internal/webhook/domain"
	"github.com/posbridge/posbridge/internal/webhook/failures"
	"github.com/posbridge/posbridge/internal/webhook/repository"
	"github.com/posbridge/posbridge/internal/webhook/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// newTracker counts signature failures in redis when it is configured,
// so the alert threshold holds across API instances. Without redis the
// counts are per-process.
func newTracker(cfg config.Config, holder *config.ReconcileConfigHolder, clk clock.Clock, log *zap.Logger) *failures.Tracker {
	tuning := holder.Current()
	var store failures.CounterStore = failures.NewMemoryCounterStore(clk)
	if addr := strings.TrimSpace(cfg.RateLimit.RedisAddr); cfg.RateLimit.Enabled && addr != "" {
		store = failures.NewRedisCounterStore(redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RateLimit.RedisPassword),
			DB:       cfg.RateLimit.RedisDB,
		}))
	}
	return failures.NewTracker(store, clk, log, tuning.AlertThreshold, tuning.AlertWindow)
}

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(newTracker),
	fx.Provide(
		service.New,
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) jobservice.EventMarker { return s },
	),
)
