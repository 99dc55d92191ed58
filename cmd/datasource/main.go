package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"zendesk_datasource/internal/cache"
	"zendesk_datasource/internal/config"
	"zendesk_datasource/internal/datasource"
	"zendesk_datasource/internal/health"
	"zendesk_datasource/internal/limits"
	"zendesk_datasource/internal/obs"
	"zendesk_datasource/internal/runtime"
	"zendesk_datasource/internal/server"
	"zendesk_datasource/internal/zendesk"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "zendesk-datasource",
	Short:        "Caching, batching query service in front of the Zendesk API",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP query service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and test the Zendesk connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return check(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.AddCommand(serveCmd, checkCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads and validates the configuration and builds the operational logger.
func setup() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		return nil, nil, err
	}
	warnings, err := config.Validate(cfg)
	for _, warning := range warnings {
		logger.Warn("config", "warning", warning)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func newClient(cfg *config.Config, metrics *obs.Metrics) (*zendesk.Client, error) {
	zcfg := zendesk.Config{
		Subdomain:             cfg.Zendesk.Subdomain,
		Email:                 cfg.Zendesk.Email,
		APIToken:              cfg.Secrets.APIToken,
		BaseURL:               cfg.Zendesk.BaseURL,
		Timeout:               cfg.Zendesk.Timeout(),
		RequestsPerMinute:     cfg.Zendesk.RequestsPerMinute,
		RespectRateLimitReset: cfg.Zendesk.RespectRateLimitReset,
	}
	if metrics != nil {
		zcfg.Observer = func(endpoint string, status int, duration time.Duration, _ error) {
			metrics.ObserveUpstream(endpoint, status, duration)
		}
	}
	return zendesk.NewClient(zcfg)
}

func check(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	client, err := newClient(cfg, nil)
	if err != nil {
		return err
	}
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Health.Timeout())
	defer cancel()
	start := time.Now()
	if err := client.TestConnection(probeCtx); err != nil {
		logger.Error("Zendesk API connection failed", "base_url", client.BaseURL(), "err", err)
		return err
	}
	logger.Info("Zendesk API connection ok", "base_url", client.BaseURL(), "latency", time.Since(start).Round(time.Millisecond))
	return nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	shutdownCfg, err := runtime.ShutdownFromConfig(cfg.Shutdown)
	if err != nil {
		return err
	}
	limitConfig, err := limits.FromConfig(cfg.Limits)
	if err != nil {
		return err
	}

	var metrics *obs.Metrics
	if cfg.Metrics.Enabled {
		metrics = obs.NewMetrics(obs.MetricsConfig{
			HotKeys:        cfg.Metrics.HotKeys,
			UpstreamWindow: cfg.Metrics.UpstreamWindow(),
		})
	}

	client, err := newClient(cfg, metrics)
	if err != nil {
		return err
	}
	ttlByKind, err := cfg.Cache.TTLByKind()
	if err != nil {
		return err
	}
	ds, err := datasource.New(datasource.Config{
		API:    client,
		Pinger: client,
		Cache: datasource.CacheConfig{
			MaxSize:         cfg.Cache.MaxSize,
			DefaultTTL:      cfg.Cache.DefaultTTL(),
			CleanupInterval: cfg.Cache.CleanupInterval(),
			TTLByKind:       ttlByKind,
		},
		Batch: cache.BatcherConfig{
			MaxBatchSize: cfg.Batch.MaxBatchSize,
			MaxWait:      cfg.Batch.MaxWait(),
		},
		BatchConcurrency: cfg.Batch.Concurrency,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer ds.Close()

	var auth *server.Authenticator
	if cfg.Secrets.AdminToken != "" {
		auth, err = server.NewAuthenticator(cfg.Secrets.AdminToken)
		if err != nil {
			return err
		}
	}
	limiter := server.NewRateLimiter(server.RateLimitConfig{
		RPS:           cfg.Admin.RequestsPerSecond,
		Burst:         cfg.Admin.Burst,
		MaxFailures:   cfg.Admin.FailureLimit,
		BlockDuration: cfg.Admin.Block(),
	})

	var stoppers []server.Stopper
	var grpcServer *health.GRPCServer
	if cfg.GRPCAddr != "" {
		grpcServer, err = health.StartGRPC(cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("start grpc health: %w", err)
		}
		logger.Info("grpc health listening", "addr", grpcServer.Addr)
	}

	monitor := health.NewMonitor(client, health.Config{
		Interval:           cfg.Health.Interval(),
		Timeout:            cfg.Health.Timeout(),
		HealthyThreshold:   cfg.Health.HealthyThreshold,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
	}, func(healthy bool) {
		metrics.SetUpstreamHealthy(healthy)
		if grpcServer != nil {
			grpcServer.SetServing(healthy)
		}
		if healthy {
			logger.Info("upstream healthy")
		} else {
			logger.Warn("upstream unhealthy")
		}
	})
	monitor.Start(ctx)
	stoppers = append(stoppers, monitor)
	if grpcServer != nil {
		stoppers = append(stoppers, grpcServer)
	}

	inflight := runtime.NewInflightTracker()

	var access *obs.AccessLogger
	if cfg.Log.AccessLog {
		access = obs.NewAccessLogger(os.Stdout)
	}

	handler, err := server.NewHandler(server.HandlerConfig{
		Datasource:  ds,
		Monitor:     monitor,
		Metrics:     metrics,
		AccessLog:   access,
		Logger:      logger,
		Auth:        auth,
		RateLimiter: limiter,
		Inflight:    inflight,
		Limits:      limitConfig,
	})
	if err != nil {
		return err
	}

	srv, err := server.Start(handler, cfg.ListenAddr, server.Options{
		Limits:   limitConfig,
		Shutdown: shutdownCfg,
		Inflight: inflight,
		Stoppers: stoppers,
		Logger:   logger,
	})
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownCfg.GracefulTimeout)
		defer cancel()
		for _, stopper := range stoppers {
			_ = stopper.Stop(stopCtx)
		}
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("listening", "addr", "http://"+srv.Addr, "zendesk", client.BaseURL(), "invalidation", auth != nil)

	<-ctx.Done()
	logger.Info("shutting down")
	if err := srv.Shutdown(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
