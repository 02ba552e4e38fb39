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

// Metrics exposes the reconciliation instruments.
type Metrics struct {
	notifications   metric.Int64Counter
	candidates      metric.Int64Counter
	reconcileResult metric.Int64Counter
	gatewayErrors   metric.Int64Counter
	creditConflicts metric.Int64Counter
	reconcileTime   metric.Float64Histogram
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "paynotify"
	}
	meter := provider.Meter(name)

	notifications, err := meter.Int64Counter("paynotify_notifications_total")
	if err != nil {
		return nil, err
	}
	candidates, err := meter.Int64Counter("paynotify_payment_candidates_total")
	if err != nil {
		return nil, err
	}
	reconcileResult, err := meter.Int64Counter("paynotify_reconcile_outcomes_total")
	if err != nil {
		return nil, err
	}
	gatewayErrors, err := meter.Int64Counter("paynotify_gateway_errors_total")
	if err != nil {
		return nil, err
	}
	creditConflicts, err := meter.Int64Counter("paynotify_credit_conflicts_total")
	if err != nil {
		return nil, err
	}
	reconcileTime, err := meter.Float64Histogram("paynotify_reconcile_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		notifications:   notifications,
		candidates:      candidates,
		reconcileResult: reconcileResult,
		gatewayErrors:   gatewayErrors,
		creditConflicts: creditConflicts,
		reconcileTime:   reconcileTime,
	}, nil
}

// NewNoop returns instruments backed by the noop provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordNotification counts inbound notifications by intake result.
func (m *Metrics) RecordNotification(ctx context.Context, variant, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("variant", strings.TrimSpace(variant)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCandidates(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.candidates.Add(ctx, int64(count))
}

// RecordReconcileOutcome counts per-payment results; failures use outcome "failed".
func (m *Metrics) RecordReconcileOutcome(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.reconcileResult.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.reconcileTime.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordGatewayError(ctx context.Context, operation, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.gatewayErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCreditConflict(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("backend", strings.TrimSpace(backend)))
	m.creditConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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
	"variant":   {},
	"result":    {},
	"outcome":   {},
	"operation": {},
	"reason":    {},
	"backend":   {},
	"route":     {},
	"method":    {},
	"status":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Payment and user ids must never become labels.
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
