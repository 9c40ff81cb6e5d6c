package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLocked est renvoyé quand un verrou est déjà détenu.
var ErrLocked = errors.New("lock already held")

// Locker garantit une seule exécution simultanée par clé.
type Locker interface {
	// Acquire retourne une fonction de libération ou ErrLocked.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Publisher émet un événement vers le bus.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
