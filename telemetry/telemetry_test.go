package telemetry

import (
	"context"
	"testing"

	"github.com/sigilsec/sentinel/core"
)

func TestProviderLifecycle(t *testing.T) {
	ctx := context.Background()

	// No endpoint configured: spans go to the stdout exporter.
	p, err := New(ctx, core.TelemetryConfig{ServiceName: "sentinel-test"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	spanCtx, span := p.StartSpan(ctx, "test.operation")
	if spanCtx == nil {
		t.Fatal("span context is nil")
	}
	span.SetAttribute("connector.id", "c-1")
	span.SetAttribute("attempt", 1)
	span.SetAttribute("rate", 1.5)
	span.SetAttribute("ok", true)
	span.End()

	p.RecordMetric("events.processed", 3, map[string]string{"connector": "c-1"})
	p.RecordMetric("events.processed", 2, map[string]string{"connector": "c-1"})

	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
