// Package daemon manages the Limber daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/limber-app/limber/internal/dateutil"
	"github.com/limber-app/limber/internal/domain"
)

// ConfigFile is the config file name inside the Limber home directory.
const ConfigFile = "config.toml"

var validate = validator.New()

// Config holds all daemon configuration.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	API        APIConfig        `toml:"api"`
	Engine     EngineConfig     `toml:"engine"`
	Challenges ChallengesConfig `toml:"challenges"`
	Rewards    RewardsConfig    `toml:"rewards"`
	Logging    LoggingConfig    `toml:"logging"`
	Events     EventsConfig     `toml:"events"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Health     HealthConfig     `toml:"health"`
}

// StoreConfig selects and configures the progress store.
type StoreConfig struct {
	Driver string `toml:"driver" validate:"oneof=sqlite postgres redis memory"`
	// Dir holds the SQLite database. Empty means the Limber home.
	Dir string `toml:"dir"`

	PostgresDSN      string `toml:"postgres_dsn" validate:"required_if=Driver postgres"`
	PostgresMaxConns int32  `toml:"postgres_max_conns" validate:"gte=0"`

	RedisAddr     string `toml:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db" validate:"gte=0"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port" validate:"gte=1,lte=65535"`
	RequestTimeout string `toml:"request_timeout"`
}

// EngineConfig tunes the progression engine.
type EngineConfig struct {
	// Timezone is the IANA zone calendar days are computed in. "Local" or
	// empty means the host zone.
	Timezone          string `toml:"timezone"`
	DriftTolerance    int    `toml:"drift_tolerance" validate:"gte=0"`
	MaxUpdateAttempts int    `toml:"max_update_attempts" validate:"gte=1,lte=20"`
	StoreTimeout      string `toml:"store_timeout"`
	SweepConcurrency  int    `toml:"sweep_concurrency" validate:"gte=1,lte=64"`
}

// ChallengesConfig overrides challenge pool sizes and claim windows.
// Map keys are category names.
type ChallengesConfig struct {
	Targets         map[string]int `toml:"targets" validate:"dive,keys,oneof=daily weekly monthly special,endkeys,gte=0,lte=10"`
	RedemptionHours map[string]int `toml:"redemption_hours" validate:"dive,keys,oneof=daily weekly monthly special,endkeys,gte=1"`
	RecencyWindow   map[string]int `toml:"recency_window" validate:"dive,keys,oneof=daily weekly monthly special,endkeys,gte=0"`
	// TemplatesFile replaces the built-in catalog with [[templates]] entries.
	TemplatesFile string `toml:"templates_file"`
}

// RewardsConfig tunes the reward catalog.
type RewardsConfig struct {
	FlexSavesPerMonth int `toml:"flex_saves_per_month" validate:"gte=1,lte=31"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
	// File appends logs to a file instead of stderr.
	File string `toml:"file"`
}

// EventsConfig controls the event bus.
type EventsConfig struct {
	Async   bool `toml:"async"`
	Workers int  `toml:"workers" validate:"gte=0"`
	// Inbox stores every event so clients can poll /events.
	Inbox bool `toml:"inbox"`
	// RedisRelay fans events out to other daemons over a Redis channel.
	RedisRelay   bool   `toml:"redis_relay"`
	RedisChannel string `toml:"redis_channel" validate:"required_if=RedisRelay true"`
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// SchedulerConfig controls the periodic sweep.
type SchedulerConfig struct {
	Enabled        bool   `toml:"enabled"`
	Interval       string `toml:"interval"`
	RetryBaseDelay string `toml:"retry_base_delay"`
	MaxRetries     int    `toml:"max_retries" validate:"gte=0"`
}

// HealthConfig controls the health checker.
type HealthConfig struct {
	Interval string `toml:"interval"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver:           "sqlite",
			PostgresMaxConns: 10,
			RedisAddr:        "localhost:6379",
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8642,
			RequestTimeout: "30s",
		},
		Engine: EngineConfig{
			Timezone:          "Local",
			DriftTolerance:    0,
			MaxUpdateAttempts: 5,
			StoreTimeout:      "5s",
			SweepConcurrency:  4,
		},
		Rewards: RewardsConfig{
			FlexSavesPerMonth: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Events: EventsConfig{
			Inbox:        true,
			RedisChannel: "limber:events",
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Interval:       "1h",
			RetryBaseDelay: "5s",
			MaxRetries:     5,
		},
		Health: HealthConfig{
			Interval: "60s",
		},
	}
}

// Validate checks field constraints, durations and the timezone.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"api.request_timeout":        c.API.RequestTimeout,
		"engine.store_timeout":       c.Engine.StoreTimeout,
		"scheduler.interval":         c.Scheduler.Interval,
		"scheduler.retry_base_delay": c.Scheduler.RetryBaseDelay,
		"health.interval":            c.Health.Interval,
	}
	var errs []error
	for key, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid config: %s = %q is not a duration", key, v))
		}
	}
	if _, err := dateutil.Load(c.Engine.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid config: %w", err))
	}
	return errors.Join(errs...)
}

// LoadConfig reads config from $LIMBER_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(limberHome(), ConfigFile))
}

// LoadConfigFile reads and validates the config at path. A missing file
// yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to $LIMBER_HOME/config.toml.
func SaveConfig(cfg Config) (string, error) {
	path := filepath.Join(limberHome(), ConfigFile)
	return path, SaveConfigFile(path, cfg)
}

// SaveConfigFile writes cfg as TOML to path.
func SaveConfigFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// categoryMap converts a config map keyed by category name.
func categoryMap(in map[string]int) map[domain.ChallengeCategory]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[domain.ChallengeCategory]int, len(in))
	for k, v := range in {
		out[domain.ChallengeCategory(k)] = v
	}
	return out
}

// mergeCategories overlays overrides on defaults.
func mergeCategories(defaults, overrides map[domain.ChallengeCategory]int) map[domain.ChallengeCategory]int {
	for k, v := range overrides {
		defaults[k] = v
	}
	return defaults
}

// loadTemplates reads a [[templates]] catalog file.
func loadTemplates(path string) ([]domain.ChallengeTemplate, error) {
	var file struct {
		Templates []domain.ChallengeTemplate `toml:"templates"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("%w: %s has no templates", domain.ErrInvalidCatalog, path)
	}
	return file.Templates, nil
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// limberHome returns the Limber data directory.
func limberHome() string {
	if env := os.Getenv("LIMBER_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".limber")
}

// LimberHome is exported for use by other packages.
func LimberHome() string {
	return limberHome()
}
