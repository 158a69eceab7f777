package observability

import (
	"strings"

	"github.com/posbridge/posbridge/internal/config"
	"github.com/posbridge/posbridge/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "posbridge"
	}
	return metrics.Config{
		Enabled:          cfg.Metrics.Enabled,
		ExporterEndpoint: cfg.Metrics.ExporterEndpoint,
		ExporterProtocol: cfg.Metrics.ExporterProtocol,
		ServiceName:      serviceName,
		Environment:      cfg.Environment,
	}
}
