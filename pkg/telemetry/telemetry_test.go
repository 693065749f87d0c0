package telemetry_test

import (
	"context"
	"testing"

	"github.com/aura-webinar/livesync/pkg/telemetry"
)

func TestSetup_NoopWhenDisabled(t *testing.T) {
	tests := []telemetry.Options{
		{ServiceName: "livesync"},
		{Enabled: true, ServiceName: "livesync"},
		{Endpoint: "http://localhost:4318", ServiceName: "livesync"},
	}
	for _, opts := range tests {
		shutdown, err := telemetry.Setup(context.Background(), opts)
		if err != nil {
			t.Fatalf("%+v: unexpected error: %v", opts, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := shutdown(ctx); err != nil {
			t.Fatalf("%+v: noop shutdown should not error: %v", opts, err)
		}
	}
}

func TestSetup_CreatesProviderWhenEnabled(t *testing.T) {
	// Non-routable address so nothing is exported.
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Options{
		Enabled:     true,
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "livesync-test",
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if telemetry.Tracer("test") == nil {
		t.Fatal("nil tracer")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
