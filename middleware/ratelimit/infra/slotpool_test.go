package infra

import (
	"context"
	"testing"
	"time"
)

func TestSlotPool_BlocksWhenFullAndReleases(t *testing.T) {
	pool := NewSlotPool(1)

	release, ok := pool.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if pool.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", pool.InFlight())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := pool.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to fail while the slot is held")
	}

	release()
	release() // segunda chamada é ignorada
	if pool.InFlight() != 0 {
		t.Fatalf("expected 0 in flight after release, got %d", pool.InFlight())
	}

	release2, ok := pool.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
	release2()
	if pool.Capacity() != 1 {
		t.Fatalf("unexpected capacity %d", pool.Capacity())
	}
}
