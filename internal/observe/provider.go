package observe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "urecho".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported (useful for testing or when only metrics are
	// needed). In production this would typically be an OTLP exporter.
	TraceExporter sdktrace.SpanExporter

	// Registry receives the exported Prometheus metrics. When nil a private
	// registry is created. The monitor serves it on /metrics.
	Registry *prometheus.Registry
}

// Providers bundles the initialised telemetry plumbing: the Prometheus
// registry backing /metrics and a reader used for shutdown snapshots.
type Providers struct {
	// Registry is the Prometheus registry all metrics are exported to.
	Registry *prometheus.Registry

	reader    *sdkmetric.ManualReader
	shutdowns []func(context.Context) error
}

// InitProvider initialises the OTel SDK with the given config. It sets up:
//
//   - A [sdkmetric.MeterProvider] with a Prometheus exporter so metrics can
//     be scraped via /metrics, plus a manual reader for [Providers.Snapshot].
//   - A [sdktrace.TracerProvider] with the configured exporter (or a no-op
//     exporter if none is provided).
//
// Both providers are registered as the global OTel providers. Call
// [Providers.Shutdown] in a defer from main().
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Providers, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "urecho"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	// Build the resource describing this service.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	p := &Providers{
		Registry: cfg.Registry,
		reader:   sdkmetric.NewManualReader(),
	}

	// --- Metrics: Prometheus exporter bridge + snapshot reader ---
	promExp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
		sdkmetric.WithReader(p.reader),
	)
	otel.SetMeterProvider(mp)
	p.shutdowns = append(p.shutdowns, mp.Shutdown)

	// --- Traces ---
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	p.shutdowns = append(p.shutdowns, tp.Shutdown)

	return p, nil
}

// Shutdown flushes and closes the telemetry providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if e := fn(ctx); e != nil {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// LatencyStat is one aggregated latency histogram in a [Snapshot].
type LatencyStat struct {
	Name  string
	Avg   time.Duration
	Count uint64
}

// CounterStat is one aggregated counter in a [Snapshot].
type CounterStat struct {
	Name  string
	Total int64
}

// Snapshot is a point-in-time aggregation of all recorded metrics, used for
// the shutdown summary and the vitals page.
type Snapshot struct {
	Latencies []LatencyStat
	Counters  []CounterStat
}

// Snapshot collects current metric values from the manual reader and folds
// them into per-instrument averages and totals. Attribute dimensions are
// summed away; gauges are omitted.
func (p *Providers) Snapshot(ctx context.Context) (Snapshot, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return Snapshot{}, fmt.Errorf("collect metrics: %w", err)
	}

	var snap Snapshot
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Histogram[float64]:
				var sum float64
				var count uint64
				for _, dp := range data.DataPoints {
					sum += dp.Sum
					count += dp.Count
				}
				stat := LatencyStat{Name: m.Name, Count: count}
				if count > 0 {
					stat.Avg = time.Duration(sum / float64(count) * float64(time.Second))
				}
				snap.Latencies = append(snap.Latencies, stat)
			case metricdata.Sum[int64]:
				if !data.IsMonotonic {
					continue
				}
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				snap.Counters = append(snap.Counters, CounterStat{Name: m.Name, Total: total})
			}
		}
	}

	slices.SortFunc(snap.Latencies, func(a, b LatencyStat) int {
		return cmp.Compare(a.Name, b.Name)
	})
	slices.SortFunc(snap.Counters, func(a, b CounterStat) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return snap, nil
}

// LogSnapshot logs a one-line metrics summary, typically right before exit.
func (p *Providers) LogSnapshot(ctx context.Context, log *slog.Logger) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		log.Warn("metrics snapshot failed", "error", err)
		return
	}

	attrs := make([]any, 0, 2*(len(snap.Latencies)+len(snap.Counters)))
	for _, l := range snap.Latencies {
		if l.Count == 0 {
			continue
		}
		attrs = append(attrs, l.Name,
			fmt.Sprintf("%s (n=%d)", l.Avg.Round(time.Millisecond), l.Count))
	}
	for _, c := range snap.Counters {
		attrs = append(attrs, c.Name, c.Total)
	}
	log.Info("metrics snapshot", attrs...)
}
