package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
	m.RunFinished(ctx, "p", "ok", time.Second)
	m.ChunkEmitted(ctx, "p")
	m.CollaboratorFailed(ctx, "synthesis", true)
	m.PersonaSwitched(ctx, "p", "ok")
	m.AudioDecodeFailed(ctx)
}

func TestMetricsRecordThroughManualReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := New(provider.Meter("test"))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	ctx := context.Background()
	m.SessionOpened(ctx)
	m.ChunkEmitted(ctx, "main-oracle")
	m.ChunkEmitted(ctx, "main-oracle")
	m.CollaboratorFailed(ctx, "animation", false)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect err: %v", err)
	}

	found := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			found[md.Name] = true
			if md.Name == "oracle.response.chunks" {
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
					t.Fatalf("unexpected chunk counter data: %+v", md.Data)
				}
			}
		}
	}
	for _, name := range []string{"oracle.sessions.active", "oracle.response.chunks", "oracle.collaborator.failures"} {
		if !found[name] {
			t.Fatalf("metric %s not collected", name)
		}
	}
}
