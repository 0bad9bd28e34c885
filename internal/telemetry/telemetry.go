// Package telemetry wraps OpenTelemetry tracing and metrics behind the
// named instruments SPEC_FULL.md §4.2 requires, mirroring the teacher's
// telemetry.OTelProvider (telemetry/otel.go): one provider constructed at
// startup, holding pre-created instruments rather than looking them up by
// name on every call.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "botdetect"

// Instruments holds the metric instruments SPEC_FULL.md §4.2 names.
type Instruments struct {
	WaveDuration       metric.Float64Histogram
	DetectorDuration   metric.Float64Histogram
	DetectorFailures   metric.Int64Counter
	ReputationTransits metric.Int64Counter
	AberrationScore    metric.Float64Histogram
	EventsDropped      metric.Int64Counter
}

// Provider bundles a tracer, a meter, and the pre-built instruments, plus
// the trace/metric SDK providers needed for shutdown.
type Provider struct {
	tracer         trace.Tracer
	instruments    *Instruments
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider
}

// NewProvider constructs a Provider exporting via OTLP/HTTP to endpoint. An
// empty endpoint falls back to a stdout trace exporter, useful for local
// development and tests without a collector running (mirrors the
// teacher's dev-mode fallback in telemetry/config.go).
func NewProvider(serviceName, endpoint string) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name is required")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	ctx := context.Background()

	var tp *sdktrace.TracerProvider
	var mp *sdkmetric.MeterProvider

	if endpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	} else {
		traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(30*time.Second))),
			sdkmetric.WithResource(res),
		)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	meter := mp.Meter(instrumentationName)
	instruments, err := buildInstruments(meter)
	if err != nil {
		return nil, err
	}

	return &Provider{
		tracer:         tp.Tracer(instrumentationName),
		instruments:    instruments,
		traceProvider:  tp,
		metricProvider: mp,
	}, nil
}

func buildInstruments(meter metric.Meter) (*Instruments, error) {
	wave, err := meter.Float64Histogram("orchestrator.wave.duration",
		metric.WithDescription("duration of one detector wave"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	detectorDur, err := meter.Float64Histogram("orchestrator.detector.duration",
		metric.WithDescription("duration of one detector's Contribute call"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	detectorFail, err := meter.Int64Counter("orchestrator.detector.failures_total",
		metric.WithDescription("detector failures (error, panic, or timeout)"))
	if err != nil {
		return nil, err
	}
	repTransits, err := meter.Int64Counter("reputation.transitions_total",
		metric.WithDescription("reputation state machine transitions"))
	if err != nil {
		return nil, err
	}
	aberration, err := meter.Float64Histogram("signature.aberration_score",
		metric.WithDescription("signature aberration score at the time of computation"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("learning.events_dropped_total",
		metric.WithDescription("learning events dropped due to a full bus queue"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		WaveDuration:       wave,
		DetectorDuration:   detectorDur,
		DetectorFailures:   detectorFail,
		ReputationTransits: repTransits,
		AberrationScore:    aberration,
		EventsDropped:      dropped,
	}, nil
}

// Tracer exposes the provider's tracer for manual span creation.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// StartSpan starts a span named name.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// RecordWaveDuration records one wave's wall-clock duration.
func (p *Provider) RecordWaveDuration(ctx context.Context, d time.Duration, waveIndex int) {
	p.instruments.WaveDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.Int("wave", waveIndex)))
}

// RecordDetectorDuration records one detector's Contribute duration.
func (p *Provider) RecordDetectorDuration(ctx context.Context, d time.Duration, detectorName string) {
	p.instruments.DetectorDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(
		attribute.String("detector", detectorName)))
}

// RecordDetectorFailure increments the per-detector failure counter.
func (p *Provider) RecordDetectorFailure(ctx context.Context, detectorName string) {
	p.instruments.DetectorFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("detector", detectorName)))
}

// RecordReputationTransition increments the from/to transition counter.
func (p *Provider) RecordReputationTransition(ctx context.Context, from, to string) {
	p.instruments.ReputationTransits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from), attribute.String("to", to)))
}

// RecordAberrationScore records a single aberration-score computation.
func (p *Provider) RecordAberrationScore(ctx context.Context, score float64) {
	p.instruments.AberrationScore.Record(ctx, score)
}

// RecordEventsDropped increments the learning-bus drop counter by n.
func (p *Provider) RecordEventsDropped(ctx context.Context, n int64) {
	p.instruments.EventsDropped.Add(ctx, n)
}

// NewTracedHTTPClient wraps client's transport with otelhttp, matching the
// teacher's orchestration.SmartExecutor's outbound-call instrumentation
// (orchestration/executor.go). No code in this module calls it; the
// AI-escalation detector holds no HTTP client of its own.
func NewTracedHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}

// Shutdown flushes and stops the trace/metric providers, spec.md §9's
// orderly-shutdown contract.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.traceProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.metricProvider.Shutdown(ctx)
}
