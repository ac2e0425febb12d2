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
	priceActivations   metric.Int64Counter
	priceRecordsLearnt metric.Int64Counter
	cascadeRuns        metric.Int64Counter
	linesRematched     metric.Int64Counter
	invoiceValidations metric.Int64Counter
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
		name = "varekost"
	}
	meter := provider.Meter(name)

	priceActivations, err := meter.Int64Counter("varekost_price_activations_total")
	if err != nil {
		return nil, err
	}
	priceRecordsLearnt, err := meter.Int64Counter("varekost_price_records_learnt_total")
	if err != nil {
		return nil, err
	}
	cascadeRuns, err := meter.Int64Counter("varekost_cascade_runs_total")
	if err != nil {
		return nil, err
	}
	linesRematched, err := meter.Int64Counter("varekost_lines_rematched_total")
	if err != nil {
		return nil, err
	}
	invoiceValidations, err := meter.Int64Counter("varekost_invoice_validations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		priceActivations:   priceActivations,
		priceRecordsLearnt: priceRecordsLearnt,
		cascadeRuns:        cascadeRuns,
		linesRematched:     linesRematched,
		invoiceValidations: invoiceValidations,
	}, nil
}

// RecordPriceActivation increments price activation counts.
func (m *Metrics) RecordPriceActivation(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.priceActivations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPriceRecordLearnt counts need-review records created from invoice lines.
func (m *Metrics) RecordPriceRecordLearnt(ctx context.Context) {
	if m == nil {
		return
	}
	m.priceRecordsLearnt.Add(ctx, 1)
}

// RecordCascadeRun counts reconciliation cascades with their outcome.
func (m *Metrics) RecordCascadeRun(ctx context.Context, outcome string, updated int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.cascadeRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	if updated > 0 {
		m.linesRematched.Add(ctx, int64(updated), metric.WithAttributes(attrs...))
	}
}

// RecordInvoiceValidation counts full validation passes by resulting status.
func (m *Metrics) RecordInvoiceValidation(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.invoiceValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"source":      {},
	"outcome":     {},
	"status":      {},
	"status_code": {},
	"endpoint":    {},
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
