package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"USI_CATALOG", "REDIS_URL", "REDIS_KEY_PREFIX", "RESULTS_DRIVER", "DATABASE_URL",
		"WEBHOOK_URL", "HTTP_ADDR", "USI_HANDSHAKE_TIMEOUT", "USI_WATCHDOG_INTERVAL",
		"MATCH_TIME_PER_MOVE_MS", "MATCH_MAX_MOVES", "MATCH_PACING", "MATCH_RETENTION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.HTTPAddr)
	assert.Equal(t, "sqlite3", cfg.ResultsDriver)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 30*time.Second, cfg.WatchdogInterval)
	assert.EqualValues(t, 5000, cfg.MatchTimePerMoveMS)
	assert.Equal(t, 200, cfg.MatchMaxMoves)
	assert.Equal(t, time.Hour, cfg.MatchRetention)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("USI_CATALOG", " /etc/usi/engines.yaml ")
	t.Setenv("RESULTS_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/usi")
	t.Setenv("USI_HANDSHAKE_TIMEOUT", "15s")
	t.Setenv("USI_WATCHDOG_INTERVAL", "2500")
	t.Setenv("MATCH_TIME_PER_MOVE_MS", "1000")
	t.Setenv("MATCH_MAX_MOVES", "-3")
	t.Setenv("MATCH_RETENTION", "10m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/usi/engines.yaml", cfg.CatalogPath)
	assert.Equal(t, "postgres", cfg.ResultsDriver)
	assert.Equal(t, 15*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 2500*time.Millisecond, cfg.WatchdogInterval)
	assert.EqualValues(t, 1000, cfg.MatchTimePerMoveMS)
	assert.Equal(t, 200, cfg.MatchMaxMoves)
	assert.Equal(t, 10*time.Minute, cfg.MatchRetention)
}

func TestLoadRejects(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESULTS_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("RESULTS_DRIVER", "postgres")
	_, err = Load()
	assert.Error(t, err)
}
