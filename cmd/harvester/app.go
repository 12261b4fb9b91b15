package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/contrib-harvester/internal/config"
	"github.com/Sternrassler/contrib-harvester/pkg/cache"
	"github.com/Sternrassler/contrib-harvester/pkg/client"
	"github.com/Sternrassler/contrib-harvester/pkg/github"
	"github.com/Sternrassler/contrib-harvester/pkg/metrics"
	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
	"github.com/Sternrassler/contrib-harvester/pkg/store"
	"github.com/Sternrassler/contrib-harvester/pkg/store/kafka"
	"github.com/Sternrassler/contrib-harvester/pkg/store/postgres"
	"github.com/Sternrassler/contrib-harvester/pkg/store/sqlite"
)

// app holds the wired components of one run.
type app struct {
	pool     *ratelimit.Pool
	limiter  *ratelimit.Limiter
	github   *github.Client
	store    store.Store
	progress *metrics.Progress
	orch     *orchestrator.Orchestrator

	closers []func() error
}

// Close releases every component in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// newPool builds the credential pool. With Redis snapshots enabled the
// pool starts from the last known quota of every token.
func newPool(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (*ratelimit.Pool, *ratelimit.Tracker, error) {
	strategy, err := ratelimit.ParseStrategy(cfg.Limiter.Strategy)
	if err != nil {
		return nil, nil, err
	}

	opts := ratelimit.DefaultPoolOptions()
	opts.Ceiling = cfg.Limiter.Ceiling
	opts.Strategy = strategy
	opts.PacePerSecond = cfg.Limiter.PacePerSecond
	if cfg.Limiter.FallbackCooldown > 0 {
		opts.FallbackCooldown = cfg.Limiter.FallbackCooldown
	}
	opts.Logger = logger

	var tracker *ratelimit.Tracker
	if rdb != nil && cfg.Redis.Snapshots {
		tracker = ratelimit.NewTracker(rdb, logger)
		opts.Snapshots = tracker
	}

	pool, err := ratelimit.NewPool(cfg.Tokens, opts)
	if err != nil {
		if tracker != nil {
			tracker.Close()
		}
		return nil, nil, err
	}

	if tracker != nil {
		if err := pool.Restore(ctx, tracker); err != nil {
			logger.Warn().Err(err).Msg("Failed to restore quota snapshots, starting from full quota")
		}
	}
	return pool, tracker, nil
}

func newGitHubClient(cfg config.GitHubConfig) (*github.Client, error) {
	opts := github.DefaultOptions()
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	if cfg.GraphQLURL != "" {
		opts.GraphQLURL = cfg.GraphQLURL
	}
	if cfg.PerPage > 0 {
		opts.PerPage = cfg.PerPage
	}
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	return github.New(opts)
}

// requestFunc selects the GitHub call matching source.
func requestFunc(gh *github.Client, source string) (client.RequestFunc, error) {
	switch source {
	case config.SourceContributions:
		return gh.Contributions, nil
	case config.SourceCommits:
		return gh.CommitAuthors, nil
	case config.SourceAccessibility:
		return gh.Accessible, nil
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// openStore opens the configured persistence backend. Driver none returns
// a nil store.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildApp wires a run. The progress total starts at zero; callers set it
// once the pending entities are known.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, runID string) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = newRedisClient(cfg.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
		}
		a.onClose(rdb.Close)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	pool, tracker, err := newPool(ctx, cfg, rdb, logger)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	if tracker != nil {
		a.onClose(func() error {
			tracker.Close()
			return nil
		})
	}

	limiterOpts := ratelimit.DefaultLimiterOptions()
	limiterOpts.PerCredentialConcurrency = cfg.Limiter.PerCredentialConcurrency
	limiterOpts.BusyWait = cfg.Limiter.BusyWait
	limiterOpts.ResetMargin = cfg.Limiter.ResetMargin
	limiterOpts.MinWait = cfg.Limiter.MinWait
	limiterOpts.Logger = logger
	a.limiter = ratelimit.NewLimiter(pool, limiterOpts)

	a.github, err = newGitHubClient(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	fn, err := requestFunc(a.github, cfg.Source)
	if err != nil {
		return nil, err
	}

	reqOpts := client.DefaultRequesterOptions()
	reqOpts.Timeout = cfg.Limiter.CallTimeout
	reqOpts.Logger = logger
	requester, err := client.NewRequester(a.limiter, fn, reqOpts)
	if err != nil {
		return nil, err
	}
	policy := client.NewRetryPolicy(requester, client.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, logger)

	var (
		sinks     []orchestrator.Sink
		markerOpt orchestrator.Option
	)
	a.store, err = openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		a.onClose(a.store.Close)
		sinks = append(sinks, a.store)
		markerOpt = orchestrator.WithMarker(a.store)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		w, err := kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		publisher := kafka.NewPublisher(w, runID, logger)
		a.onClose(publisher.Close)
		sinks = append(sinks, publisher)
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithConfig(orchestrator.Config{
			MaxConcurrentEntities: cfg.Orchestrator.MaxConcurrentEntities,
			BufferSize:            cfg.Orchestrator.BufferSize,
			ProgressEvery:         cfg.Orchestrator.ProgressEvery,
		}),
	}

	if markerOpt != nil {
		opts = append(opts, markerOpt)
	}

	// The orchestrator logs progress itself; the sink only feeds gauges.
	a.progress = metrics.NewProgress(0, 0, logger)
	opts = append(opts, orchestrator.WithProgress(a.progress))

	switch cfg.Cache.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache backend redis requires redis.addr")
		}
		opts = append(opts, orchestrator.WithCache(cache.NewChunkCache(cache.NewManager(rdb), cfg.Cache.TTL)))
	case "leveldb":
		disk, err := cache.OpenDisk(cfg.Cache.Path, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(disk.Close)
		if _, err := disk.Purge(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to purge expired chunk entries")
		}
		opts = append(opts, orchestrator.WithCache(cache.NewChunkCache(disk, cfg.Cache.TTL)))
	}

	a.orch = orchestrator.New(policy, orchestrator.MultiSink(sinks...), opts...)

	logger.Info().
		Int("credentials", pool.Len()).
		Int("capacity", a.limiter.Capacity()).
		Str("source", cfg.Source).
		Str("store", cfg.Store.Driver).
		Str("cache", cfg.Cache.Backend).
		Int("sinks", len(sinks)).
		Msg("Harvester ready")
	ready = true
	return a, nil
}
