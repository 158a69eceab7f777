package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents     metric.Int64Counter
	signatureFailures metric.Int64Counter
	jobsClaimed       metric.Int64Counter
	jobsCompleted     metric.Int64Counter
	jobsFailed        metric.Int64Counter
	reconcileRuns     metric.Int64Counter
	reconcileErrors   metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "posbridge"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("posbridge_webhook_events_total")
	if err != nil {
		return nil, err
	}
	signatureFailures, err := meter.Int64Counter("posbridge_signature_failures_total")
	if err != nil {
		return nil, err
	}
	jobsClaimed, err := meter.Int64Counter("posbridge_jobs_claimed_total")
	if err != nil {
		return nil, err
	}
	jobsCompleted, err := meter.Int64Counter("posbridge_jobs_completed_total")
	if err != nil {
		return nil, err
	}
	jobsFailed, err := meter.Int64Counter("posbridge_jobs_failed_total")
	if err != nil {
		return nil, err
	}
	reconcileRuns, err := meter.Int64Counter("posbridge_reconcile_runs_total")
	if err != nil {
		return nil, err
	}
	reconcileErrors, err := meter.Int64Counter("posbridge_reconcile_errors_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("posbridge_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("posbridge_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:     webhookEvents,
		signatureFailures: signatureFailures,
		jobsClaimed:       jobsClaimed,
		jobsCompleted:     jobsCompleted,
		jobsFailed:        jobsFailed,
		reconcileRuns:     reconcileRuns,
		reconcileErrors:   reconcileErrors,
		rateLimitAllowed:  rateLimitAllowed,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordWebhookEvent increments webhook event counts per provider and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSignatureFailure increments rejected-signature counts.
func (m *Metrics) RecordSignatureFailure(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.signatureFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobsClaimed increments claimed job counts.
func (m *Metrics) RecordJobsClaimed(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.jobsClaimed.Add(ctx, count)
}

// RecordJobCompleted increments completed job counts.
func (m *Metrics) RecordJobCompleted(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobFailed increments failed job counts, split by whether the
// failure exhausted the retry budget.
func (m *Metrics) RecordJobFailed(ctx context.Context, provider string, terminal bool) {
	if m == nil {
		return
	}
	outcome := "retryable"
	if terminal {
		outcome = "terminal"
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", outcome),
	)
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileRun increments reconcile run counts.
func (m *Metrics) RecordReconcileRun(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.reconcileRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileErrors increments reconcile error counts.
func (m *Metrics) RecordReconcileErrors(ctx context.Context, provider string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.reconcileErrors.Add(ctx, count, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"event_kind":  {},
	"job_type":    {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
