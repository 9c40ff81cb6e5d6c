package lock

import (
	"context"
	"sync"
	"time"

	"sales-insights/pkg/ports"
)

type localEntry struct {
	generation uint64
	expiresAt  time.Time
}

// LocalLocker est un verrou en mémoire, valable pour un seul processus.
// Un verrou dont le TTL est dépassé peut être repris.
type LocalLocker struct {
	mu         sync.Mutex
	held       map[string]localEntry
	generation uint64
	now        func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]localEntry{}, now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && (e.expiresAt.IsZero() || now.Before(e.expiresAt)) {
		return nil, ports.ErrLocked
	}
	l.generation++
	e := localEntry{generation: l.generation}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	l.held[key] = e

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Ne libère pas un verrou repris par un autre détenteur après expiration.
		if cur, ok := l.held[key]; ok && cur.generation == e.generation {
			delete(l.held, key)
		}
		return nil
	}, nil
}
