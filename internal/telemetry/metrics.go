package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
)

const meterName = "github.com/zhouzirui/indiana-oracle/backend"

// Metrics groups the instruments recorded by the session core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions  metric.Int64UpDownCounter
	responseRuns    metric.Int64Counter
	chunksEmitted   metric.Int64Counter
	collabFailures  metric.Int64Counter
	personaSwitches metric.Int64Counter
	decodeErrors    metric.Int64Counter
	runLatency      metric.Float64Histogram
}

// Setup installs a MeterProvider backed by the Prometheus exporter and returns
// the instruments, the /metrics handler and a shutdown func. When the exporter
// cannot be created the instruments fall back to a no-op meter.
func Setup(serviceName string) (*Metrics, http.Handler, func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		logging.Warnw("prometheus exporter unavailable, metrics disabled", "component", "telemetry", "error", err)
		m, mErr := New(noop.NewMeterProvider().Meter(meterName))
		return m, nil, func(context.Context) error { return nil }, mErr
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(meterName))
	if err != nil {
		return nil, nil, nil, err
	}
	logging.Infow("telemetry initialized", "component", "telemetry", "exporter", "prometheus")
	return m, promhttp.Handler(), provider.Shutdown, nil
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.activeSessions, err = meter.Int64UpDownCounter("oracle.sessions.active",
		metric.WithDescription("Live client sessions")); err != nil {
		return nil, err
	}
	if m.responseRuns, err = meter.Int64Counter("oracle.response.runs",
		metric.WithDescription("Response pipeline runs by outcome")); err != nil {
		return nil, err
	}
	if m.chunksEmitted, err = meter.Int64Counter("oracle.response.chunks",
		metric.WithDescription("Response chunks emitted to clients")); err != nil {
		return nil, err
	}
	if m.collabFailures, err = meter.Int64Counter("oracle.collaborator.failures",
		metric.WithDescription("External collaborator failures by stage")); err != nil {
		return nil, err
	}
	if m.personaSwitches, err = meter.Int64Counter("oracle.persona.switches",
		metric.WithDescription("Persona switch attempts by outcome")); err != nil {
		return nil, err
	}
	if m.decodeErrors, err = meter.Int64Counter("oracle.audio.decode_errors",
		metric.WithDescription("Inbound audio chunks dropped as undecodable")); err != nil {
		return nil, err
	}
	if m.runLatency, err = meter.Float64Histogram("oracle.response.duration",
		metric.WithDescription("Response run duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

// RunFinished records one pipeline run. outcome is "ok", "failed" or "cancelled".
func (m *Metrics) RunFinished(ctx context.Context, personaID, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("persona", personaID),
		attribute.String("outcome", outcome),
	)
	m.responseRuns.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) ChunkEmitted(ctx context.Context, personaID string) {
	if m == nil {
		return
	}
	m.chunksEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("persona", personaID)))
}

// CollaboratorFailed counts a failed or timed out external call.
func (m *Metrics) CollaboratorFailed(ctx context.Context, stage string, timeout bool) {
	if m == nil {
		return
	}
	m.collabFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("timeout", timeout),
	))
}

func (m *Metrics) PersonaSwitched(ctx context.Context, personaID, outcome string) {
	if m == nil {
		return
	}
	m.personaSwitches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("persona", personaID),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) AudioDecodeFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1)
}
