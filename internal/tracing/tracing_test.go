package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitWithoutEndpointInstallsPropagator(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "reservations"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected traceparent propagation, got %v", fields)
	}
}
