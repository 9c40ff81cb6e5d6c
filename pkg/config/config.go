package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"sales-insights/pkg/jobs"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath est le fichier lu quand -config n'est pas fourni.
const DefaultPath = "configs/default.yaml"

type Config struct {
	ServiceID string
	HTTPPort  int

	DSN          string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	Jobs jobs.Settings
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
	} `yaml:"service"`
	Dependencies struct {
		DSN          string   `yaml:"dsn"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Jobs struct {
		Workers               *int     `yaml:"workers"`
		AssociationWindowDays *int     `yaml:"association_window_days"`
		AnchorDays            *int     `yaml:"anchor_days"`
		ExclusionDays         *int     `yaml:"exclusion_days"`
		MinSupport            *int     `yaml:"min_support"`
		MinLift               *float64 `yaml:"min_lift"`
		RecommendationTTLDays *int     `yaml:"recommendation_ttl_days"`
		PriceSamples          *int     `yaml:"price_samples"`
		AssociationDirection  string   `yaml:"association_direction"`
		AlertFactor           *float64 `yaml:"alert_factor"`
		AlertMessage          string   `yaml:"alert_message"`
		LockTTLMinutes        *int     `yaml:"lock_ttl_minutes"`
	} `yaml:"jobs"`
}

// Load applique dans l'ordre : valeurs par défaut, fichier YAML (optionnel), .env, variables d'environnement.
func Load(path string) (Config, error) {
	cfg := Config{
		ServiceID:  "sales-insights",
		HTTPPort:   8080,
		KafkaTopic: jobs.EventJobCompleted,
		Jobs:       jobs.DefaultSettings(),
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	// Le .env ne remplace pas une variable déjà définie.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.DSN = envOrDefault("SALES_INSIGHTS_DSN", cfg.DSN)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	for name, dst := range map[string]*int{
		"HTTP_PORT":               &cfg.HTTPPort,
		"JOB_WORKERS":             &cfg.Jobs.Workers,
		"ASSOCIATION_WINDOW_DAYS": &cfg.Jobs.AssociationWindowDays,
	} {
		if err := envInt(name, dst); err != nil {
			return Config{}, err
		}
	}
	cfg.Jobs.Direction = jobs.Direction(envOrDefault("ASSOCIATION_DIRECTION", string(cfg.Jobs.Direction)))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Dependencies.DSN != "" {
		cfg.DSN = f.Dependencies.DSN
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}

	j := f.Jobs
	setInt(&cfg.Jobs.Workers, j.Workers)
	setInt(&cfg.Jobs.AssociationWindowDays, j.AssociationWindowDays)
	setInt(&cfg.Jobs.AnchorDays, j.AnchorDays)
	setInt(&cfg.Jobs.ExclusionDays, j.ExclusionDays)
	setInt(&cfg.Jobs.MinSupport, j.MinSupport)
	setInt(&cfg.Jobs.PriceSamples, j.PriceSamples)
	if j.MinLift != nil {
		cfg.Jobs.MinLift = *j.MinLift
	}
	if j.AlertFactor != nil {
		cfg.Jobs.AlertFactor = *j.AlertFactor
	}
	if j.RecommendationTTLDays != nil {
		cfg.Jobs.RecommendationTTL = time.Duration(*j.RecommendationTTLDays) * 24 * time.Hour
	}
	if j.LockTTLMinutes != nil {
		cfg.Jobs.LockTTL = time.Duration(*j.LockTTLMinutes) * time.Minute
	}
	if j.AssociationDirection != "" {
		cfg.Jobs.Direction = jobs.Direction(j.AssociationDirection)
	}
	if j.AlertMessage != "" {
		cfg.Jobs.AlertMessage = j.AlertMessage
	}
	return nil
}

// Validate rejette les seuils incohérents. Le DSN est vérifié par l'appelant (il peut venir d'un flag).
func (c Config) Validate() error {
	s := c.Jobs
	switch {
	case s.Workers <= 0:
		return fmt.Errorf("jobs.workers must be > 0, got %d", s.Workers)
	case s.AssociationWindowDays < 0:
		return fmt.Errorf("jobs.association_window_days must be >= 0, got %d", s.AssociationWindowDays)
	case s.AnchorDays <= 0 || s.ExclusionDays < 0:
		return fmt.Errorf("jobs.anchor_days must be > 0 and exclusion_days >= 0")
	case s.MinSupport < 0:
		return fmt.Errorf("jobs.min_support must be >= 0, got %d", s.MinSupport)
	case s.PriceSamples <= 0:
		return fmt.Errorf("jobs.price_samples must be > 0, got %d", s.PriceSamples)
	case s.AlertFactor <= 0:
		return fmt.Errorf("jobs.alert_factor must be > 0, got %v", s.AlertFactor)
	case s.RecommendationTTL <= 0:
		return fmt.Errorf("jobs.recommendation_ttl_days must be > 0")
	case s.Direction != jobs.DirectionBoth && s.Direction != jobs.DirectionCanonical:
		return fmt.Errorf("jobs.association_direction must be %q or %q, got %q", jobs.DirectionBoth, jobs.DirectionCanonical, s.Direction)
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt ne modifie dst que si la variable est définie. Une valeur non entière est une erreur.
func envInt(name string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	*dst = v
	return nil
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
