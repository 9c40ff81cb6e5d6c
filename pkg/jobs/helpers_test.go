package jobs

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"sales-insights/pkg/database"
)

var testNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return testNow.AddDate(0, 0, -n) }

type publishedEvent struct {
	eventType string
	key       string
	payload   []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, payload []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType: eventType, key: key, payload: payload})
	return nil
}

func newTestRunner(t *testing.T, store *database.MemoryStore, tweak func(*Settings)) (*Runner, *recordingPublisher) {
	t.Helper()
	settings := DefaultSettings()
	settings.Workers = 3
	if tweak != nil {
		tweak(&settings)
	}
	pub := &recordingPublisher{}
	r := NewRunner(Dependencies{
		Store:     store,
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Settings:  settings,
	})
	return r, pub
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
