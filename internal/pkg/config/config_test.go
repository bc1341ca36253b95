package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appenv "github.com/ManuelReschke/marketsub/internal/pkg/env"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Database.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Database.RetryDelay)
	assert.Equal(t, time.Hour, cfg.Jobs.CreditJobInterval)
	assert.Equal(t, 3, cfg.Jobs.Workers)
	assert.False(t, cfg.Jobs.OrderEventsAsync)
}

func TestParseEnvironmentWinsOverDotEnv(t *testing.T) {
	t.Cleanup(func() { appenv.Env = nil })
	appenv.Env = map[string]string{
		"DB_DRIVER":          "mysql",
		"CACHE_HOST":         "cache",
		"ORDER_EVENTS_ASYNC": "true",
	}
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Addr())
	assert.True(t, cfg.Jobs.OrderEventsAsync)
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "soon")

	_, err := Parse()
	assert.Error(t, err)
}
