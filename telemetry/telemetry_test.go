package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "docparse-test", "0.0.0", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetup_Enabled(t *testing.T) {
	// Nothing listens here; no span is exported so nothing is dialed.
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:1")

	shutdown, err := Setup(context.Background(), "docparse-test", "0.0.0", true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdown(ctx)
	})

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "sample")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span from the installed provider")
	}
}

func TestEnabled(t *testing.T) {
	t.Setenv("TELEMETRY", "")
	if Enabled() {
		t.Error("empty TELEMETRY must disable")
	}
	t.Setenv("TELEMETRY", "1")
	if !Enabled() {
		t.Error("TELEMETRY=1 must enable")
	}
}
