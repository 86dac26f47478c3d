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

// Metrics exposes metering instruments.
type Metrics struct {
	usageRecorded  metric.Int64Counter
	usageFailures  metric.Int64Counter
	usageCost      metric.Float64Counter
	ledgerDeltas   metric.Int64Counter
	limitDecisions metric.Int64Counter
	jobRuns        metric.Int64Counter
	jobDuration    metric.Float64Histogram
	ledgerDrift    metric.Int64Counter
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

// New configures the metering instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "meterly"
	}
	meter := provider.Meter(name)

	usageRecorded, err := meter.Int64Counter("meterly_usage_recorded_total")
	if err != nil {
		return nil, err
	}
	usageFailures, err := meter.Int64Counter("meterly_usage_record_failures_total")
	if err != nil {
		return nil, err
	}
	usageCost, err := meter.Float64Counter("meterly_usage_cost_usd_total")
	if err != nil {
		return nil, err
	}
	ledgerDeltas, err := meter.Int64Counter("meterly_ledger_deltas_total")
	if err != nil {
		return nil, err
	}
	limitDecisions, err := meter.Int64Counter("meterly_limit_decisions_total")
	if err != nil {
		return nil, err
	}
	jobRuns, err := meter.Int64Counter("meterly_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("meterly_scheduler_job_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	ledgerDrift, err := meter.Int64Counter("meterly_ledger_drift_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageRecorded:  usageRecorded,
		usageFailures:  usageFailures,
		usageCost:      usageCost,
		ledgerDeltas:   ledgerDeltas,
		limitDecisions: limitDecisions,
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		ledgerDrift:    ledgerDrift,
	}, nil
}

// RecordUsage counts a successfully recorded usage event and its cost.
func (m *Metrics) RecordUsage(ctx context.Context, billingMode, category string, cost float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("billing_mode", strings.TrimSpace(billingMode)),
		attribute.String("category", strings.TrimSpace(category)),
	)
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	if cost > 0 {
		m.usageCost.Add(ctx, cost, metric.WithAttributes(attrs...))
	}
}

// RecordUsageFailure counts a recording attempt that failed at stage.
func (m *Metrics) RecordUsageFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("stage", strings.TrimSpace(stage)))
	m.usageFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerDelta counts ledger deltas applied per cost component.
func (m *Metrics) RecordLedgerDelta(ctx context.Context, component string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("component", strings.TrimSpace(component)))
	m.ledgerDeltas.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLimitDecision counts enforcement outcomes.
func (m *Metrics) RecordLimitDecision(ctx context.Context, allowed bool, reason, planTier string) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", strings.TrimSpace(reason)),
		attribute.String("plan_tier", strings.TrimSpace(planTier)),
	)
	m.limitDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobRun counts a scheduler job run and observes its duration.
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(FilterAttributes(attribute.String("job", job))...))
}

// RecordLedgerDrift counts ledger rows that disagree with their invariant or
// with the usage audit log.
func (m *Metrics) RecordLedgerDrift(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.ledgerDrift.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// user_id is never a label.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"billing_mode": {},
	"category":     {},
	"stage":        {},
	"component":    {},
	"outcome":      {},
	"reason":       {},
	"plan_tier":    {},
	"job":          {},
	"kind":         {},
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
