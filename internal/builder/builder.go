package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/usi-supervisor/internal/config"
	"github.com/park285/usi-supervisor/internal/events"
	"github.com/park285/usi-supervisor/internal/match"
	"github.com/park285/usi-supervisor/internal/optstore"
	"github.com/park285/usi-supervisor/internal/results"
	"github.com/park285/usi-supervisor/internal/usi"
	"github.com/park285/usi-supervisor/pkg/usidto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Config   *config.AppConfig
	Registry *usi.Registry
	Catalog  *optstore.Catalog
	Options  optstore.Store
	Results  *results.Repository
	Redis    *redis.Client
	Hub      *events.Hub
	Sink     events.Sink
	Matches  *match.Manager
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg}

	// Catalog (optional)
	var stores optstore.Chain
	if strings.TrimSpace(cfg.CatalogPath) != "" {
		cat, err := optstore.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		d.Catalog = cat
	}

	// Redis (optional): saved options override the catalog, events are published
	sinks := events.Fanout{events.LogSink{}}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		d.Redis = rdb
		stores = append(stores, optstore.NewRedisStore(rdb, cfg.RedisKeyPrefix))
		sinks = append(sinks, events.NewRedisSink(rdb, ""))
	}
	if d.Catalog != nil {
		stores = append(stores, d.Catalog)
	}
	if len(stores) == 0 {
		stores = append(stores, optstore.NewMemory())
	}
	d.Options = stores

	if strings.TrimSpace(cfg.WebhookURL) != "" {
		// per-line engine output stays off the webhook
		sinks = append(sinks, events.Filter{
			Sink:     events.NewWebhookSink(cfg.WebhookURL),
			Prefixes: []string{events.TopicMatchUpdate, events.TopicMatchMove, events.TopicMatchResult},
		})
	}
	d.Hub = events.NewHub()
	sinks = append(sinks, d.Hub)
	d.Sink = sinks

	// Results (optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := results.Open(ctx, cfg.ResultsDriver, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("open results: %w", err)
		}
		d.Results = repo
	}

	hs := usi.HandshakeConfig{Timeout: cfg.HandshakeTimeout}
	d.Registry = usi.NewRegistry(usi.RegistryConfig{
		Sink:             d.Sink,
		WatchdogInterval: cfg.WatchdogInterval,
		Handshake:        hs,
	})

	matchOpts := []match.Option{match.WithSink(d.Sink), match.WithOptions(d.Options)}
	if d.Results != nil {
		matchOpts = append(matchOpts, match.WithResults(d.Results))
	}
	d.Matches = match.NewManager(logger, func(c *match.Config) {
		if c.TimePerMoveMS <= 0 {
			c.TimePerMoveMS = cfg.MatchTimePerMoveMS
		}
		if c.MaxMoves <= 0 {
			c.MaxMoves = cfg.MatchMaxMoves
		}
		c.Pacing = cfg.MatchPacing
		c.Handshake = hs
		c.WatchdogInterval = cfg.WatchdogInterval
		d.resolveRef(&c.Black)
		d.resolveRef(&c.White)
	}, matchOpts...)
	d.Matches.SetRetention(cfg.MatchRetention)

	logger.Info("supervisor_ready",
		zap.Bool("catalog", d.Catalog != nil),
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("results", d.Results != nil),
		zap.Bool("webhook", cfg.WebhookURL != ""),
	)
	return d, nil
}

// resolveRef fills a match side from the catalog when only its id is given.
func (d *Deps) resolveRef(ref *usidto.EngineRef) {
	if d.Catalog == nil || ref.ID == "" {
		return
	}
	e, ok := d.Catalog.Engine(ref.ID)
	if !ok {
		return
	}
	if ref.Path == "" {
		ref.Path = e.Path
	}
	if ref.Name == "" {
		ref.Name = e.Label()
	}
}

// Close stops engines and matches and releases connections.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	ctx := context.Background()
	var errs []error
	if d.Matches != nil {
		if err := d.Matches.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Registry != nil {
		if err := d.Registry.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Hub != nil {
		d.Hub.Close()
	}
	if d.Results != nil {
		if err := d.Results.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
