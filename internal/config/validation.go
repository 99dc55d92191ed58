package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate returns warnings for settings that work but are probably unintended, and the
// first setting that cannot work.
func Validate(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	warnings := []string{}
	if err := validateZendesk(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateCache(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateBatch(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateLog(cfg); err != nil {
		return warnings, err
	}
	if err := validateAdmin(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateHealth(cfg); err != nil {
		return warnings, err
	}
	return warnings, nil
}

func validateZendesk(cfg *Config, warnings *[]string) error {
	zd := cfg.Zendesk
	if strings.TrimSpace(zd.Subdomain) == "" && strings.TrimSpace(zd.BaseURL) == "" {
		return errors.New("zendesk.subdomain is required")
	}
	if strings.TrimSpace(zd.Email) == "" {
		return errors.New("zendesk.email is required")
	}
	if strings.TrimSpace(cfg.Secrets.APIToken) == "" {
		return errors.New("ZENDESK_API_TOKEN is not set")
	}
	if zd.TimeoutMS <= 0 {
		return errors.New("zendesk.timeout_ms must be > 0")
	}
	if zd.RequestsPerMinute < 0 {
		return errors.New("zendesk.requests_per_minute must be >= 0")
	}
	if zd.RequestsPerMinute == 0 {
		*warnings = append(*warnings, "zendesk.requests_per_minute is 0; upstream calls are not throttled")
	}
	return nil
}

func validateCache(cfg *Config, warnings *[]string) error {
	c := cfg.Cache
	if c.MaxSize <= 0 {
		return errors.New("cache.max_size must be > 0")
	}
	if c.DefaultTTLMS <= 0 {
		return errors.New("cache.default_ttl_ms must be > 0")
	}
	if c.CleanupIntervalMS < 0 {
		return errors.New("cache.cleanup_interval_ms must be >= 0")
	}
	if c.DefaultTTL() > time.Hour {
		*warnings = append(*warnings, "cache.default_ttl_ms exceeds 1h")
	}
	if c.CleanupIntervalMS == 0 {
		*warnings = append(*warnings, "cache.cleanup_interval_ms is 0; expired entries are only removed on access")
	}
	if _, err := c.TTLByKind(); err != nil {
		return err
	}
	return nil
}

func validateBatch(cfg *Config, warnings *[]string) error {
	b := cfg.Batch
	if b.MaxBatchSize <= 0 {
		return errors.New("batch.max_batch_size must be > 0")
	}
	if b.MaxWaitMS < 0 {
		return errors.New("batch.max_wait_ms must be >= 0")
	}
	if b.Concurrency < 0 {
		return errors.New("batch.concurrency must be >= 0")
	}
	if b.MaxWait() > time.Second {
		*warnings = append(*warnings, fmt.Sprintf("batch.max_wait_ms %d delays every cache miss by up to %s", b.MaxWaitMS, b.MaxWait()))
	}
	return nil
}

func validateLog(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("log.format %q must be text, json or logfmt", cfg.Log.Format)
	}
	return nil
}

func validateAdmin(cfg *Config, warnings *[]string) error {
	if cfg.Admin.RequestsPerSecond < 0 || cfg.Admin.Burst < 0 {
		return errors.New("admin rate limit must be >= 0")
	}
	if strings.TrimSpace(cfg.Secrets.AdminToken) == "" {
		*warnings = append(*warnings, "ADMIN_TOKEN is not set; cache invalidation is disabled")
	}
	return nil
}

func validateHealth(cfg *Config) error {
	h := cfg.Health
	if h.IntervalMS < 0 || h.TimeoutMS < 0 {
		return errors.New("health intervals must be >= 0")
	}
	if h.HealthyThreshold < 0 || h.UnhealthyThreshold < 0 {
		return errors.New("health thresholds must be >= 0")
	}
	return nil
}
