package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sales-insights/pkg/api"
	"sales-insights/pkg/config"
	"sales-insights/pkg/database"
	"sales-insights/pkg/events"
	"sales-insights/pkg/jobs"
	"sales-insights/pkg/lock"
	"sales-insights/pkg/models"
	"sales-insights/pkg/ports"
)

const usage = "Usage: sales-insights --dsn ... --job stats|associations|recommendations|alerts|recompute|nightly|migrate|serve"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", config.DefaultPath, "Fichier de configuration YAML (optionnel)")
	dsn := flag.String("dsn", "", "DSN (mariadb://, mysql://, postgres://, sqlite://), sinon SALES_INSIGHTS_DSN")
	job := flag.String("job", "", "Job à lancer")
	window := flag.Int("window", -1, "Fenêtre des associations en jours (0 = tout l'historique, -1 = config)")
	customer := flag.Int64("customer", 0, "Limiter les recommandations à un client")
	asOf := flag.String("as_of", "", "Instant de calcul (YYYY-MM-DD ou RFC 3339), défaut maintenant")
	withSource := flag.Bool("with_source", false, "migrate : crée aussi les tables source (dev local)")
	verbose := flag.Bool("v", true, "Mode verbeux")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if cfg.DSN == "" || *job == "" {
		log.Fatalf(usage)
	}
	now, err := parseAsOf(*asOf)
	if err != nil {
		log.Fatalf("as_of: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connexion DB
	store, dsnUsed, err := database.Open(ctx, cfg.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()
	if *verbose {
		log.Printf("[INFO] connected dsn=%s", dsnUsed)
	}

	if *job == "migrate" {
		if *withSource {
			if err := store.MigrateSource(ctx); err != nil {
				log.Fatalf("migrate source: %v", err)
			}
		}
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Printf("[INFO] schema ready")
		return
	}

	locker, closeLocker := buildLocker(ctx, cfg)
	defer closeLocker()
	publisher, closePublisher := buildPublisher(cfg, logger)
	defer closePublisher()

	runner := jobs.NewRunner(jobs.Dependencies{
		Store:     store,
		Locker:    locker,
		Publisher: publisher,
		Logger:    logger,
		Settings:  cfg.Jobs,
		Progress:  *verbose && *job != "serve",
	})

	if *job == "serve" {
		if err := serve(ctx, cfg, runner, store, logger); err != nil {
			log.Fatalf("serve: %v", err)
		}
		return
	}

	res, err := runJob(ctx, runner, *job, *window, *customer, cfg.Jobs.AssociationWindowDays, now)
	if err != nil {
		log.Fatalf("%s: %v", *job, err)
	}

	// Sortie : job ; run ; processed ; written ; skipped ; failed ; preserved ; durée
	printResult(res, "")
	for _, s := range res.Steps {
		printResult(s, "  ")
		for _, sub := range s.Steps {
			printResult(sub, "    ")
		}
	}
}

func runJob(ctx context.Context, runner *jobs.Runner, job string, window int, customer int64, defaultWindow int, now time.Time) (models.JobResult, error) {
	switch job {
	case jobs.JobStats:
		return runner.RecomputeStats(ctx, now)
	case jobs.JobAssociations:
		if window < 0 {
			window = defaultWindow
		}
		return runner.RecomputeAssociations(ctx, window, now)
	case jobs.JobRecommendations:
		var opts jobs.RecommendationOptions
		if customer > 0 {
			opts.CustomerID = &customer
		}
		return runner.GenerateRecommendations(ctx, opts, now)
	case jobs.JobAlerts:
		return runner.RunRepurchaseAlerts(ctx, now)
	case jobs.JobRecompute:
		return runner.RecomputeAll(ctx, now)
	case jobs.JobNightly:
		return runner.Nightly(ctx, now)
	default:
		return models.JobResult{}, fmt.Errorf("job inconnu %q\n%s", job, usage)
	}
}

func printResult(r models.JobResult, indent string) {
	fmt.Printf("%s%s ; run=%s ; processed=%d ; written=%d ; skipped=%d ; failed=%d ; preserved=%d ; duration=%s\n",
		indent, r.Job, r.RunID, r.Processed, r.Written, r.Skipped, r.Failed, r.Preserved, r.Duration().Round(time.Millisecond))
}

// Redis si configuré, sinon verrou local au processus.
func buildLocker(ctx context.Context, cfg config.Config) (ports.Locker, func()) {
	if cfg.RedisURL == "" {
		return lock.NewLocalLocker(), func() {}
	}
	client, err := lock.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return lock.NewRedisLocker(client), func() { _ = client.Close() }
}

// Kafka si des brokers sont configurés, sinon les événements sont journalisés.
func buildPublisher(cfg config.Config, logger *slog.Logger) (ports.Publisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewLoggingPublisher(logger), func() {}
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, map[string]string{jobs.EventJobCompleted: cfg.KafkaTopic})
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	return p, func() { _ = p.Close() }
}

func serve(ctx context.Context, cfg config.Config, runner *jobs.Runner, store ports.Store, logger *slog.Logger) error {
	handler := api.NewHandler(runner, store, logger, cfg.Jobs.AssociationWindowDays)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("format attendu YYYY-MM-DD ou RFC 3339: %q", raw)
	}
	return t, nil
}
