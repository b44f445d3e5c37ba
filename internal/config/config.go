package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	CatalogPath string

	RedisURL       string
	RedisKeyPrefix string

	ResultsDriver string
	DatabaseURL   string

	WebhookURL string
	HTTPAddr   string

	HandshakeTimeout time.Duration
	WatchdogInterval time.Duration

	MatchTimePerMoveMS int64
	MatchMaxMoves      int
	MatchPacing        time.Duration
	MatchRetention     time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ResultsDriver:      "sqlite3",
		HTTPAddr:           ":8787",
		HandshakeTimeout:   10 * time.Second,
		WatchdogInterval:   30 * time.Second,
		MatchTimePerMoveMS: 5000,
		MatchMaxMoves:      200,
		MatchPacing:        500 * time.Millisecond,
		MatchRetention:     time.Hour,
	}

	cfg.CatalogPath = strings.TrimSpace(os.Getenv("USI_CATALOG"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.RedisKeyPrefix = strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))

	if v := strings.TrimSpace(os.Getenv("RESULTS_DRIVER")); v != "" {
		cfg.ResultsDriver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}

	// Engine supervision
	if d, ok := durationEnv("USI_HANDSHAKE_TIMEOUT"); ok {
		cfg.HandshakeTimeout = d
	}
	if d, ok := durationEnv("USI_WATCHDOG_INTERVAL"); ok {
		cfg.WatchdogInterval = d
	}

	// Matches
	if v := strings.TrimSpace(os.Getenv("MATCH_TIME_PER_MOVE_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MatchTimePerMoveMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MATCH_MAX_MOVES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MatchMaxMoves = n
		}
	}
	if d, ok := durationEnv("MATCH_PACING"); ok {
		cfg.MatchPacing = d
	}
	if d, ok := durationEnv("MATCH_RETENTION"); ok {
		cfg.MatchRetention = d
	}

	if cfg.ResultsDriver != "sqlite3" && cfg.ResultsDriver != "postgres" {
		return nil, errors.New("RESULTS_DRIVER must be sqlite3 or postgres")
	}
	if cfg.ResultsDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres results driver")
	}

	return cfg, nil
}

// durationEnv accepts Go durations ("15s") or plain milliseconds.
func durationEnv(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond, true
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}
