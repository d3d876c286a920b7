package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestRegistryDisabledWithoutRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	for _, addr := range []string{"", "127.0.0.1:1", "http://localhost:6379"} {
		r := NewRegistry(addr, "", time.Minute, logger)
		if r.Enabled() {
			t.Fatalf("Expected disabled registry for %q", addr)
		}

		// all operations are no-ops
		r.Register(ctx, "device-1", "companion", StateConnecting)
		r.Observer("device-1")(StateOpen)
		r.Remove(ctx, "device-1")
		ids, err := r.ActiveDevices(ctx)
		if err != nil || len(ids) != 0 {
			t.Errorf("Expected no devices, got %v (%v)", ids, err)
		}
		if err := r.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}
}
