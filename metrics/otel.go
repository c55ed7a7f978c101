// Package metrics wires respool's PoolMetricsRecorder interface to
// OpenTelemetry, exporting over OTLP/HTTP when an endpoint is configured
// and falling back to a no-op meter provider otherwise.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/coachpo/respool/pool"
)

// Config selects the OTLP endpoint and service name used to identify this
// pool's metrics.
type Config struct {
	OTLPEndpoint string
	ServiceName  string
}

// Providers groups the configured meter provider; Init returns its shutdown
// hook separately.
type Providers struct {
	MeterProvider apimetric.MeterProvider
}

// Init configures an OTel meter provider from cfg. An empty OTLPEndpoint
// yields a no-op provider so callers can always construct an OTelRecorder
// without branching on whether metrics export is enabled.
func Init(ctx context.Context, cfg Config) (Providers, func(context.Context) error, error) {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "respool"
	}

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return Providers{MeterProvider: mp}, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return Providers{}, nil, err
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return Providers{}, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return Providers{}, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error { return mp.Shutdown(ctx) }
	return Providers{MeterProvider: mp}, shutdown, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}

// OTelRecorder implements pool.PoolMetricsRecorder on top of an OTel meter,
// one instrument per sink.
type OTelRecorder struct {
	allocSuccess     apimetric.Float64Histogram
	allocFailure     apimetric.Float64Histogram
	reset            apimetric.Float64Histogram
	destroy          apimetric.Float64Histogram
	lifetimeOnDest   apimetric.Float64Histogram
	idleOnRecycle    apimetric.Float64Histogram
	recycledCount    apimetric.Int64Counter
	fastPathCount    apimetric.Int64Counter
	slowPathCount    apimetric.Int64Counter
}

// NewOTelRecorder builds an OTelRecorder from the given meter provider,
// registering one instrument per PoolMetricsRecorder sink.
func NewOTelRecorder(mp apimetric.MeterProvider) (*OTelRecorder, error) {
	meter := mp.Meter("github.com/coachpo/respool/pool")

	allocSuccess, err := meter.Float64Histogram("pool.allocation.success.latency", apimetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	allocFailure, err := meter.Float64Histogram("pool.allocation.failure.latency", apimetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	resetHist, err := meter.Float64Histogram("pool.reset.latency", apimetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	destroyHist, err := meter.Float64Histogram("pool.destroy.latency", apimetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	lifetimeHist, err := meter.Float64Histogram("pool.lifetime.on_destroy", apimetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	idleHist, err := meter.Float64Histogram("pool.idle.on_recycle", apimetric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	recycled, err := meter.Int64Counter("pool.recycled.count")
	if err != nil {
		return nil, err
	}
	fastPath, err := meter.Int64Counter("pool.fastpath.count")
	if err != nil {
		return nil, err
	}
	slowPath, err := meter.Int64Counter("pool.slowpath.count")
	if err != nil {
		return nil, err
	}

	return &OTelRecorder{
		allocSuccess:   allocSuccess,
		allocFailure:   allocFailure,
		reset:          resetHist,
		destroy:        destroyHist,
		lifetimeOnDest: lifetimeHist,
		idleOnRecycle:  idleHist,
		recycledCount:  recycled,
		fastPathCount:  fastPath,
		slowPathCount:  slowPath,
	}, nil
}

var _ pool.PoolMetricsRecorder = (*OTelRecorder)(nil)

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }

func (r *OTelRecorder) RecordAllocationSuccess(latency time.Duration) {
	r.allocSuccess.Record(context.Background(), ms(latency))
}

func (r *OTelRecorder) RecordAllocationFailure(latency time.Duration) {
	r.allocFailure.Record(context.Background(), ms(latency))
}

func (r *OTelRecorder) RecordReset(latency time.Duration) {
	r.reset.Record(context.Background(), ms(latency))
}

func (r *OTelRecorder) RecordDestroy(latency time.Duration) {
	r.destroy.Record(context.Background(), ms(latency))
}

func (r *OTelRecorder) RecordLifetimeOnDestroy(lifetime time.Duration) {
	r.lifetimeOnDest.Record(context.Background(), ms(lifetime))
}

func (r *OTelRecorder) RecordIdleTimeOnRecycle(idle time.Duration) {
	r.idleOnRecycle.Record(context.Background(), ms(idle))
}

func (r *OTelRecorder) RecordRecycled() {
	r.recycledCount.Add(context.Background(), 1)
}

func (r *OTelRecorder) RecordFastPath() {
	r.fastPathCount.Add(context.Background(), 1)
}

func (r *OTelRecorder) RecordSlowPath() {
	r.slowPathCount.Add(context.Background(), 1)
}
