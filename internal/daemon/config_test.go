package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/internal/infra/memstore"
	"github.com/limber-app/limber/pkg/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 8642, cfg.API.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Rewards.FlexSavesPerMonth)
	assert.Equal(t, 0, cfg.Engine.DriftTolerance)
	assert.True(t, cfg.Scheduler.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFile)
	cfg := DefaultConfig()
	cfg.API.Port = 9000
	cfg.Engine.Timezone = "UTC"
	cfg.Challenges.Targets = map[string]int{"daily": 4}

	require.NoError(t, SaveConfigFile(path, cfg))
	loaded, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, loaded.API.Port)
	assert.Equal(t, "UTC", loaded.Engine.Timezone)
	assert.Equal(t, 4, loaded.Challenges.Targets["daily"])
	assert.Equal(t, cfg.Scheduler, loaded.Scheduler)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Home(t *testing.T) {
	home := t.TempDir()
	t.Setenv("LIMBER_HOME", home)
	assert.Equal(t, home, LimberHome())

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	path, err := SaveConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ConfigFile), path)

	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad driver":     "[store]\ndriver = \"mongo\"\n",
		"postgres dsn":   "[store]\ndriver = \"postgres\"\n",
		"bad port":       "[api]\nport = 70000\n",
		"bad level":      "[logging]\nlevel = \"loud\"\n",
		"bad duration":   "[scheduler]\ninterval = \"soon\"\n",
		"bad timezone":   "[engine]\ntimezone = \"Mars/Olympus\"\n",
		"bad category":   "[challenges.targets]\nhourly = 2\n",
		"negative drift": "[engine]\ndrift_tolerance = -1\n",
		"not toml":       "[api\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFile)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadConfigFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.toml")
	body := `
[[templates]]
id = "custom_daily"
title = "Custom daily"
category = "daily"
type = "routine_count"
requirement = 1
xp = 10

[[templates]]
id = "custom_special"
title = "Custom special"
category = "special"
type = "total_minutes"
variant = "all_time"
requirement = 60
xp = 100
duration = "336h"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	tmpls, err := loadTemplates(path)
	require.NoError(t, err)
	require.Len(t, tmpls, 2)
	assert.Equal(t, "custom_daily", tmpls[0].ID)
	assert.Equal(t, domain.CategorySpecial, tmpls[1].Category)
	assert.Equal(t, domain.VariantAllTime, tmpls[1].Variant)
	assert.Equal(t, 336*time.Hour, tmpls[1].Duration)

	empty := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte(""), 0o600))
	_, err = loadTemplates(empty)
	assert.ErrorIs(t, err, domain.ErrInvalidCatalog)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Minute, parseDuration("2m", time.Second))
	assert.Equal(t, time.Second, parseDuration("", time.Second))
	assert.Equal(t, time.Second, parseDuration("later", time.Second))
}

func TestNewWithConfig_MemoryStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "memory"
	cfg.Engine.Timezone = "UTC"
	cfg.Rewards.FlexSavesPerMonth = 3
	cfg.Challenges.Targets = map[string]int{"daily": 1}

	d, err := NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	require.NotNil(t, d.Engine)
	require.NotNil(t, d.Inbox, "memstore implements the event log")
	require.NotNil(t, d.Scheduler)

	for _, r := range d.Engine.Rewards.Catalog() {
		if r.ID == domain.FlexSavesID {
			assert.Equal(t, 3, r.MaxUses)
		}
	}

	ctx := context.Background()
	_, err = d.Engine.Challenges.Refresh(ctx, "local")
	require.NoError(t, err)
	daily := 0
	for _, c := range d.Engine.Challenges.List(ctx, "local") {
		if c.Category == domain.CategoryDaily {
			daily++
		}
	}
	assert.Equal(t, 1, daily)

	failed, err := d.sweepAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.NoError(t, d.sweepUser(ctx, "local"))

	d.Health.RunOnce(ctx)
	assert.True(t, d.Health.IsHealthy())
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), StoreConfig{Driver: "mongo"}, discardLogger())
	assert.ErrorIs(t, err, domain.ErrUnknownDriver)
}

func TestOpenStore_BadPostgresDSNFailsFast(t *testing.T) {
	start := time.Now()
	_, err := OpenStore(context.Background(), StoreConfig{Driver: "postgres", PostgresDSN: "postgres://%zz"}, discardLogger())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestConnect_RetriesUntilStoreAnswers(t *testing.T) {
	var waits int
	r := retry.New(retry.Policy{
		Attempts: 4,
		Base:     time.Millisecond,
		OnRetry:  func(int, error, time.Duration) { waits++ },
	})

	calls := 0
	store, err := connect(context.Background(), r, func(ctx context.Context) (*memstore.Store, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return memstore.New(), nil
	})
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, waits)
}

func TestConnect_GivesUpWithoutTypedNil(t *testing.T) {
	r := retry.New(retry.Policy{Attempts: 2, Base: time.Millisecond})

	calls := 0
	store, err := connect(context.Background(), r, func(ctx context.Context) (*memstore.Store, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 2, calls)
	assert.True(t, store == nil, "expected a nil interface, got %#v", store)
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "limber.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", File: file})
	require.NoError(t, err)
	require.NotNil(t, closer)
	logger.Info("hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
