package network

import (
	"context"
	"errors"
	"testing"
)

func TestPoolReusesConnections(t *testing.T) {
	server, err := NewTCPServer(testConfig(), newTestFrameHandler(nil))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	address := server.Addr().String()
	pool := NewPool(func(ctx context.Context, key string) (Connection, error) {
		return Dial(ctx, address, testConfig(), nil)
	})
	defer pool.CloseAll()

	ctx := context.Background()
	first, err := pool.Get(ctx, "proc-2")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	second, err := pool.Get(ctx, "proc-2")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if first != second {
		t.Error("Expected the pooled connection to be reused")
	}
	if pool.Dials() != 1 {
		t.Errorf("Expected 1 dial, got %d", pool.Dials())
	}

	first.Close()
	third, err := pool.Get(ctx, "proc-2")
	if err != nil {
		t.Fatalf("Failed to redial: %v", err)
	}
	if third == first {
		t.Error("Expected a closed connection to be replaced")
	}
	if pool.Dials() != 2 {
		t.Errorf("Expected 2 dials, got %d", pool.Dials())
	}

	pool.Remove("proc-2", first)
	if pool.Len() != 1 {
		t.Errorf("Removing a stale connection should keep the live one, got %d", pool.Len())
	}
	pool.Remove("proc-2", third)
	if pool.Len() != 0 {
		t.Errorf("Expected empty pool, got %d", pool.Len())
	}
}

func TestPoolDialError(t *testing.T) {
	dialErr := errors.New("no route")
	pool := NewPool(func(ctx context.Context, key string) (Connection, error) {
		return nil, dialErr
	})

	if _, err := pool.Get(context.Background(), "proc-9"); !errors.Is(err, dialErr) {
		t.Errorf("Expected dial error, got %v", err)
	}
	if pool.Len() != 0 {
		t.Errorf("Expected empty pool, got %d", pool.Len())
	}
}
