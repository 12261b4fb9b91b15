// Package config loads harvester configuration from a YAML file,
// HARVEST_* environment variables and defaults.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
)

// EnvPrefix prefixes every environment variable (HARVEST_LOG_LEVEL, ...).
const EnvPrefix = "HARVEST"

// Sources the CLI can harvest from.
const (
	SourceContributions = "contributions"
	SourceCommits       = "commits"
	SourceAccessibility = "accessibility"
)

// DefaultStrategy is the credential strategy used when limiter.strategy is
// unset. Accessibility batches spread over the token with most quota left.
func DefaultStrategy(source string) string {
	if source == SourceAccessibility {
		return "most-remaining"
	}
	return "first"
}

// Config is the complete harvester configuration.
type Config struct {
	// Tokens are the API credentials shared by the pool.
	Tokens []string `mapstructure:"tokens"`

	// TokensFile names a file with one token per line, merged into Tokens.
	TokensFile string `mapstructure:"tokens_file"`

	// Source selects the request function.
	Source string `mapstructure:"source"`

	GitHub       GitHubConfig       `mapstructure:"github"`
	Limiter      LimiterConfig      `mapstructure:"limiter"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Window       WindowConfig       `mapstructure:"window"`
	Store        StoreConfig        `mapstructure:"store"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// GitHubConfig configures the request functions.
type GitHubConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	GraphQLURL string        `mapstructure:"graphql_url"`
	PerPage    int           `mapstructure:"per_page"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LimiterConfig configures the credential pool and limiter.
type LimiterConfig struct {
	PerCredentialConcurrency int           `mapstructure:"per_credential_concurrency"`
	Strategy                 string        `mapstructure:"strategy"`
	Ceiling                  int           `mapstructure:"ceiling"`
	PacePerSecond            float64       `mapstructure:"pace_per_second"`
	BusyWait                 time.Duration `mapstructure:"busy_wait"`
	ResetMargin              time.Duration `mapstructure:"reset_margin"`
	MinWait                  time.Duration `mapstructure:"min_wait"`
	FallbackCooldown         time.Duration `mapstructure:"fallback_cooldown"`
	CallTimeout              time.Duration `mapstructure:"call_timeout"`
}

// RetryConfig configures the per-chunk retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

// OrchestratorConfig configures entity concurrency.
type OrchestratorConfig struct {
	MaxConcurrentEntities int `mapstructure:"max_concurrent_entities"`
	BufferSize            int `mapstructure:"buffer_size"`
	ProgressEvery         int `mapstructure:"progress_every"`
}

// WindowConfig configures before/after window derivation from task spans.
type WindowConfig struct {
	Span time.Duration `mapstructure:"span"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is sqlite, postgres or none.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	MaxConns int    `mapstructure:"max_conns"`

	// SkipProcessed skips entities a previous run completed.
	SkipProcessed bool `mapstructure:"skip_processed"`
}

// KafkaConfig enables the result publisher when brokers are set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// CacheConfig selects the chunk cache backend.
type CacheConfig struct {
	// Backend is redis, leveldb or none.
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig is shared by the quota tracker and the redis chunk cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Snapshots persists quota snapshots when Addr is set.
	Snapshots bool `mapstructure:"snapshots"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the /metrics and /health server.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default so environment
// variables can override any of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tokens", []string{})
	v.SetDefault("tokens_file", "")
	v.SetDefault("source", SourceContributions)

	v.SetDefault("github.base_url", "")
	v.SetDefault("github.graphql_url", "https://api.github.com/graphql")
	v.SetDefault("github.per_page", 100)
	v.SetDefault("github.timeout", 60*time.Second)

	v.SetDefault("limiter.per_credential_concurrency", 5)
	v.SetDefault("limiter.strategy", "")
	v.SetDefault("limiter.ceiling", ratelimit.DefaultCeiling)
	v.SetDefault("limiter.pace_per_second", 0.0)
	v.SetDefault("limiter.busy_wait", 5*time.Second)
	v.SetDefault("limiter.reset_margin", 5*time.Second)
	v.SetDefault("limiter.min_wait", 5*time.Second)
	v.SetDefault("limiter.fallback_cooldown", ratelimit.DefaultFallbackCooldown)
	v.SetDefault("limiter.call_timeout", 120*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 60*time.Second)
	v.SetDefault("retry.jitter", time.Second)

	v.SetDefault("orchestrator.max_concurrent_entities", 10)
	v.SetDefault("orchestrator.buffer_size", 100)
	v.SetDefault("orchestrator.progress_every", 50)

	v.SetDefault("window.span", 2*365*24*time.Hour)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "harvest.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.skip_processed", true)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "harvest.results")

	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.path", ".harvest-cache")
	v.SetDefault("cache.ttl", 7*24*time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshots", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration into v and decodes it. An empty file means no
// config file: defaults and environment only.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if strings.TrimSpace(cfg.Limiter.Strategy) == "" {
		cfg.Limiter.Strategy = DefaultStrategy(cfg.Source)
	}
	cfg.Tokens = cleanList(cfg.Tokens)
	cfg.Kafka.Brokers = cleanList(cfg.Kafka.Brokers)
	if cfg.TokensFile != "" {
		fromFile, err := readTokens(cfg.TokensFile)
		if err != nil {
			return nil, err
		}
		cfg.Tokens = append(cfg.Tokens, fromFile...)
	}

	return &cfg, nil
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Tokens) == 0 {
		errs = append(errs, errors.New("at least one token is required (tokens, tokens_file or HARVEST_TOKENS)"))
	}
	switch c.Source {
	case SourceContributions, SourceCommits, SourceAccessibility:
	default:
		errs = append(errs, fmt.Errorf("source must be %q, %q or %q, got %q", SourceContributions, SourceCommits, SourceAccessibility, c.Source))
	}
	if _, err := ratelimit.ParseStrategy(c.Limiter.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.Limiter.PerCredentialConcurrency < 1 {
		errs = append(errs, errors.New("limiter.per_credential_concurrency must be at least 1"))
	}
	if c.Limiter.Ceiling < 1 {
		errs = append(errs, errors.New("limiter.ceiling must be at least 1"))
	}
	if c.Limiter.PacePerSecond < 0 {
		errs = append(errs, errors.New("limiter.pace_per_second must not be negative"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.Jitter < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Orchestrator.MaxConcurrentEntities < 1 {
		errs = append(errs, errors.New("orchestrator.max_concurrent_entities must be at least 1"))
	}
	if c.Window.Span <= 0 {
		errs = append(errs, errors.New("window.span must be positive"))
	}

	switch c.Store.Driver {
	case "none":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite, postgres or none, got %q", c.Store.Driver))
	}

	switch c.Cache.Backend {
	case "none":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis cache"))
		}
	case "leveldb":
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path is required for the leveldb cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be redis, leveldb or none, got %q", c.Cache.Backend))
	}

	return errors.Join(errs...)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// readTokens reads one token per line; blank lines and # comments are skipped.
func readTokens(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tokens file: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tokens file: %w", err)
	}
	return tokens, nil
}
