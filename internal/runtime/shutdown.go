package runtime

import (
	"fmt"
	"time"

	"zendesk_datasource/internal/config"
)

const defaultGracefulTimeout = 5 * time.Second

// ShutdownConfig orders the stop sequence: listeners close, stoppers run, Drain passes,
// in-flight requests get GracefulTimeout, then ForceClose passes before connections drop.
type ShutdownConfig struct {
	Drain           time.Duration
	GracefulTimeout time.Duration
	ForceClose      time.Duration
}

func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{GracefulTimeout: defaultGracefulTimeout}
}

// ShutdownFromConfig converts the millisecond settings. Zero keeps the default.
func ShutdownFromConfig(cfg config.ShutdownConfig) (ShutdownConfig, error) {
	out := DefaultShutdownConfig()
	fields := []struct {
		name string
		ms   int
		dst  *time.Duration
	}{
		{"drain_ms", cfg.DrainMS, &out.Drain},
		{"graceful_timeout_ms", cfg.GracefulTimeoutMS, &out.GracefulTimeout},
		{"force_close_ms", cfg.ForceCloseMS, &out.ForceClose},
	}
	for _, field := range fields {
		if field.ms < 0 {
			return ShutdownConfig{}, fmt.Errorf("shutdown.%s must be non-negative, got %d", field.name, field.ms)
		}
		if field.ms > 0 {
			*field.dst = time.Duration(field.ms) * time.Millisecond
		}
	}
	return out, nil
}

// Normalized replaces unusable values: negative pauses become zero and a missing
// graceful timeout gets the default.
func (c ShutdownConfig) Normalized() ShutdownConfig {
	c.Drain = max(c.Drain, 0)
	c.ForceClose = max(c.ForceClose, 0)
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
	return c
}
