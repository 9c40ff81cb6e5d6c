package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"sales-insights/pkg/ports"
)

func TestLocalLocker_SecondAcquireFails(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "job:stats", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "job:stats", time.Minute); !errors.Is(err, ports.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := l.Acquire(ctx, "job:alerts", time.Minute); err != nil {
		t.Fatalf("other key must be free: %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Acquire(ctx, "job:stats", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLocalLocker_ExpiredLockCanBeTaken(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	staleRelease, err := l.Acquire(ctx, "job:nightly", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := l.Acquire(ctx, "job:nightly", time.Minute); err != nil {
		t.Fatalf("expired lock should be taken over: %v", err)
	}

	// L'ancien détenteur ne doit pas libérer le nouveau verrou.
	_ = staleRelease(ctx)
	if _, err := l.Acquire(ctx, "job:nightly", time.Minute); !errors.Is(err, ports.ErrLocked) {
		t.Fatalf("expected lock still held, got %v", err)
	}
}
