package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"zendesk_datasource/internal/query"
)

const EnvPrefix = "ZD"

type Config struct {
	ListenAddr string         `mapstructure:"listen_addr" json:"listen_addr"`
	GRPCAddr   string         `mapstructure:"grpc_addr" json:"grpc_addr"`
	Zendesk    ZendeskConfig  `mapstructure:"zendesk" json:"zendesk"`
	Cache      CacheConfig    `mapstructure:"cache" json:"cache"`
	Batch      BatchConfig    `mapstructure:"batch" json:"batch"`
	Limits     LimitsConfig   `mapstructure:"limits" json:"limits"`
	Shutdown   ShutdownConfig `mapstructure:"shutdown" json:"shutdown"`
	Log        LogConfig      `mapstructure:"log" json:"log"`
	Metrics    MetricsConfig  `mapstructure:"metrics" json:"metrics"`
	Admin      AdminConfig    `mapstructure:"admin" json:"admin"`
	Health     HealthConfig   `mapstructure:"health" json:"health"`

	// Secrets never come from the config file.
	Secrets Secrets `mapstructure:"-" json:"-"`
}

type ZendeskConfig struct {
	Subdomain             string `mapstructure:"subdomain" json:"subdomain"`
	Email                 string `mapstructure:"email" json:"email"`
	BaseURL               string `mapstructure:"base_url" json:"base_url"`
	TimeoutMS             int    `mapstructure:"timeout_ms" json:"timeout_ms"`
	RequestsPerMinute     int    `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	RespectRateLimitReset bool   `mapstructure:"respect_rate_limit_reset" json:"respect_rate_limit_reset"`
}

type CacheConfig struct {
	MaxSize           int            `mapstructure:"max_size" json:"max_size"`
	DefaultTTLMS      int            `mapstructure:"default_ttl_ms" json:"default_ttl_ms"`
	CleanupIntervalMS int            `mapstructure:"cleanup_interval_ms" json:"cleanup_interval_ms"`
	TTLByKindMS       map[string]int `mapstructure:"ttl_by_kind_ms" json:"ttl_by_kind_ms"`
}

type BatchConfig struct {
	MaxBatchSize int `mapstructure:"max_batch_size" json:"max_batch_size"`
	MaxWaitMS    int `mapstructure:"max_wait_ms" json:"max_wait_ms"`
	Concurrency  int `mapstructure:"concurrency" json:"concurrency"`
}

type LimitsConfig struct {
	MaxHeaderBytes      int    `mapstructure:"max_header_bytes" json:"max_header_bytes"`
	MaxBodyBytes        *int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`
	MaxBatchQueries     int    `mapstructure:"max_batch_queries" json:"max_batch_queries"`
	ReadHeaderTimeoutMS int    `mapstructure:"read_header_timeout_ms" json:"read_header_timeout_ms"`
	ReadTimeoutMS       int    `mapstructure:"read_timeout_ms" json:"read_timeout_ms"`
	WriteTimeoutMS      int    `mapstructure:"write_timeout_ms" json:"write_timeout_ms"`
	IdleTimeoutMS       int    `mapstructure:"idle_timeout_ms" json:"idle_timeout_ms"`
}

type ShutdownConfig struct {
	DrainMS           int `mapstructure:"drain_ms" json:"drain_ms"`
	GracefulTimeoutMS int `mapstructure:"graceful_timeout_ms" json:"graceful_timeout_ms"`
	ForceCloseMS      int `mapstructure:"force_close_ms" json:"force_close_ms"`
}

type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	Format    string `mapstructure:"format" json:"format"`
	AccessLog bool   `mapstructure:"access_log" json:"access_log"`
}

type MetricsConfig struct {
	Enabled          bool `mapstructure:"enabled" json:"enabled"`
	HotKeys          int  `mapstructure:"hot_keys" json:"hot_keys"`
	UpstreamWindowMS int  `mapstructure:"upstream_window_ms" json:"upstream_window_ms"`
}

type AdminConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst"`
	FailureLimit      int     `mapstructure:"failure_limit" json:"failure_limit"`
	BlockMS           int     `mapstructure:"block_ms" json:"block_ms"`
}

type HealthConfig struct {
	IntervalMS         int `mapstructure:"interval_ms" json:"interval_ms"`
	TimeoutMS          int `mapstructure:"timeout_ms" json:"timeout_ms"`
	HealthyThreshold   int `mapstructure:"healthy_threshold" json:"healthy_threshold"`
	UnhealthyThreshold int `mapstructure:"unhealthy_threshold" json:"unhealthy_threshold"`
}

type Secrets struct {
	APIToken   string `env:"ZENDESK_API_TOKEN"`
	AdminToken string `env:"ADMIN_TOKEN"`
}

// Load reads configuration from path (json, yaml or toml) when given, then from
// ZD_-prefixed environment variables, on top of built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	secrets, err := env.ParseAs[Secrets]()
	if err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	cfg.Secrets = secrets
	return &cfg, nil
}

func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("grpc_addr", "")

	v.SetDefault("zendesk.subdomain", "")
	v.SetDefault("zendesk.email", "")
	v.SetDefault("zendesk.base_url", "")
	v.SetDefault("zendesk.timeout_ms", 30000)
	v.SetDefault("zendesk.requests_per_minute", 0)
	v.SetDefault("zendesk.respect_rate_limit_reset", false)

	v.SetDefault("cache.max_size", 100)
	v.SetDefault("cache.default_ttl_ms", 300000)
	v.SetDefault("cache.cleanup_interval_ms", 60000)
	v.SetDefault("cache.ttl_by_kind_ms", map[string]int{
		string(query.KindTicketByID):    60000,
		string(query.KindStats):         60000,
		string(query.KindOrganizations): 900000,
		string(query.KindOrgStats):      900000,
	})

	v.SetDefault("batch.max_batch_size", 10)
	v.SetDefault("batch.max_wait_ms", 100)
	v.SetDefault("batch.concurrency", 8)

	v.SetDefault("limits.max_header_bytes", 64*1024)
	v.SetDefault("limits.max_batch_queries", 50)
	v.SetDefault("limits.read_header_timeout_ms", 2000)
	v.SetDefault("limits.read_timeout_ms", 0)
	v.SetDefault("limits.write_timeout_ms", 0)
	v.SetDefault("limits.idle_timeout_ms", 30000)

	v.SetDefault("shutdown.drain_ms", 0)
	v.SetDefault("shutdown.graceful_timeout_ms", 5000)
	v.SetDefault("shutdown.force_close_ms", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.access_log", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.hot_keys", 20)
	v.SetDefault("metrics.upstream_window_ms", 60000)

	v.SetDefault("admin.requests_per_second", 5.0)
	v.SetDefault("admin.burst", 10)
	v.SetDefault("admin.failure_limit", 5)
	v.SetDefault("admin.block_ms", 60000)

	v.SetDefault("health.interval_ms", 30000)
	v.SetDefault("health.timeout_ms", 5000)
	v.SetDefault("health.healthy_threshold", 1)
	v.SetDefault("health.unhealthy_threshold", 3)
}

func (c ZendeskConfig) Timeout() time.Duration { return millis(c.TimeoutMS) }
func (c CacheConfig) DefaultTTL() time.Duration { return millis(c.DefaultTTLMS) }
func (c CacheConfig) CleanupInterval() time.Duration { return millis(c.CleanupIntervalMS) }
func (c BatchConfig) MaxWait() time.Duration { return millis(c.MaxWaitMS) }
func (c MetricsConfig) UpstreamWindow() time.Duration { return millis(c.UpstreamWindowMS) }
func (c AdminConfig) Block() time.Duration { return millis(c.BlockMS) }
func (c HealthConfig) Interval() time.Duration { return millis(c.IntervalMS) }
func (c HealthConfig) Timeout() time.Duration { return millis(c.TimeoutMS) }

// TTLByKind resolves the per-kind overrides. Viper lower-cases map keys, so kinds are
// matched without regard to case.
func (c CacheConfig) TTLByKind() (map[query.Kind]time.Duration, error) {
	out := make(map[query.Kind]time.Duration, len(c.TTLByKindMS))
	for name, ms := range c.TTLByKindMS {
		kind, ok := lookupKind(name)
		if !ok {
			return nil, fmt.Errorf("cache.ttl_by_kind_ms: %w: %s", query.ErrUnknownKind, name)
		}
		if ms <= 0 {
			return nil, fmt.Errorf("cache.ttl_by_kind_ms.%s must be > 0", name)
		}
		out[kind] = millis(ms)
	}
	return out, nil
}

func lookupKind(name string) (query.Kind, bool) {
	for _, kind := range query.Kinds() {
		if strings.EqualFold(string(kind), strings.TrimSpace(name)) {
			return kind, true
		}
	}
	return "", false
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

var errNilConfig = errors.New("config is nil")
