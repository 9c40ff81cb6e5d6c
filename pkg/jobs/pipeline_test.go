package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"sales-insights/pkg/database"
	"sales-insights/pkg/lock"
)

func TestNightly_RunsStepsInOrder(t *testing.T) {
	store := database.NewMemoryStore()
	seedCatalog(store)
	// Le client 100 achète 1 et 2 ensemble tous les 20 jours, le client 101 aussi.
	for i, age := range []int{100, 80, 60} {
		store.AddOrder(int64(10+i), 100, daysAgo(age), "20", buy(1, "10"), buy(2, "10"))
		store.AddOrder(int64(20+i), 101, daysAgo(age), "20", buy(1, "10"), buy(2, "10"))
	}
	store.AddOrder(30, 102, daysAgo(5), "10", buy(1, "10"))
	store.AddOrder(31, 103, daysAgo(5), "10", buy(3, "10"))
	r, pub := newTestRunner(t, store, func(s *Settings) { s.MinLift = 1.0 })

	res, err := r.Nightly(context.Background(), testNow)
	if err != nil {
		t.Fatalf("nightly: %v", err)
	}
	if len(res.Steps) != 3 || res.Steps[0].Job != JobRecompute || res.Steps[1].Job != JobRecommendations || res.Steps[2].Job != JobAlerts {
		t.Fatalf("unexpected steps: %+v", res.Steps)
	}
	recompute := res.Steps[0]
	if len(recompute.Steps) != 2 || recompute.Steps[0].Job != JobStats || recompute.Steps[1].Job != JobAssociations {
		t.Fatalf("unexpected recompute steps: %+v", recompute.Steps)
	}

	// Le client 102 a acheté 1 récemment : 2 lui est recommandé.
	if _, ok := store.Recommendation(102, 2); !ok {
		t.Fatalf("recommendation (102, 2) missing")
	}
	// Dernier achat il y a 60 jours pour une cadence de 20 : alerte.
	if _, ok := store.Alert(100, 1, "repurchase"); !ok {
		t.Fatalf("repurchase alert (100, 1) missing")
	}

	wantJobs := []string{JobStats, JobAssociations, JobRecompute, JobRecommendations, JobAlerts, JobNightly}
	if len(pub.events) != len(wantJobs) {
		t.Fatalf("got %d events, want %d", len(pub.events), len(wantJobs))
	}
	for i, job := range wantJobs {
		if pub.events[i].key != job {
			t.Fatalf("event %d is %s, want %s", i, pub.events[i].key, job)
		}
	}
	sum := 0
	for _, s := range res.Steps {
		sum += s.Written
	}
	if res.Written != sum {
		t.Fatalf("nightly written = %d, steps sum = %d", res.Written, sum)
	}
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	store := database.NewMemoryStore()
	locker := lock.NewLocalLocker()
	r := NewRunner(Dependencies{Store: store, Locker: locker, Publisher: &recordingPublisher{}, Settings: DefaultSettings()})
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "sales-insights:job:"+JobStats, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := r.RecomputeStats(ctx, testNow); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	// Le pipeline échoue aussi tant que son étape stats est verrouillée.
	if _, err := r.RecomputeAll(ctx, testNow); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning from pipeline, got %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := r.RecomputeStats(ctx, testNow); err != nil {
		t.Fatalf("run after release: %v", err)
	}
	// Le verrou du job est rendu à la fin de l'exécution.
	if _, err := r.RecomputeStats(ctx, testNow); err != nil {
		t.Fatalf("second run: %v", err)
	}
}
