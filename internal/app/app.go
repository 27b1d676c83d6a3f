package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"streamcart/internal/retention"
	"streamcart/pkg/banner"
	"streamcart/pkg/config"
	"streamcart/pkg/gateway"
	"streamcart/pkg/logger"
	"streamcart/pkg/queue"
	"streamcart/pkg/store"
	"streamcart/pkg/telemetry"
	"streamcart/pkg/worker"
)

// App encapsulates the service components and lifecycle: the pebble store,
// the per-key queue broker, the worker pool and the HTTP front door.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	broker *queue.Broker
	pool   *worker.Pool

	srv *http.Server
}

// New initializes resources that do not require a running context: the
// store, the broker (with durable recovery) and the pipeline clients. Call
// Run to start the workers, the retention sweeper and the HTTP server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	telemetry.Register()
	queue.SetMaxPooledBuffer(cfg.Queue.MaxPooledBufferBytes.Int64())

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	broker := queue.NewBroker(cfg.Queue.CapacityPerKey, cfg.Queue.TTL.Duration())
	if _, err := broker.Recover(); err != nil {
		return nil, fmt.Errorf("queue recovery failed: %w", err)
	}

	pipe := worker.NewPipeline(cfg.Pipeline,
		gateway.NewIntentClient(cfg.Gateways.Intent.URL, cfg.Gateways.Intent.Timeout.Duration()),
		gateway.NewVisionClient(cfg.Gateways.Vision.URL, cfg.Gateways.Vision.Timeout.Duration()),
		gateway.NewOrderClient(cfg.Gateways.Order.URL, cfg.Gateways.Order.Timeout.Duration()),
		gateway.NewNotifyClient(cfg.Gateways.Notification.URL, cfg.Gateways.Notification.Timeout.Duration()),
	)
	pool := worker.NewPool(broker, pipe, cfg.Pipeline.Workers, cfg.Queue.PopTimeout.Duration())

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		broker:    broker,
		pool:      pool,
	}, nil
}

// Run starts the workers, the retention sweeper and the HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs. Shutdown
// order matters: stop accepting requests, then stop workers (finishing
// in-flight entries), then close the broker and the store.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	a.pool.Start()

	cancelRetention, err := retention.Start(ctx, a.eff.Config.Retention, a.eff.Config.Queue)
	if err != nil {
		return err
	}

	errCh := a.startHTTP()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			runErr = err
		}
	}

	cancelRetention()
	a.shutdownHTTP()
	a.pool.Stop()
	a.broker.CloseAndDrain()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
	return runErr
}

func (a *App) shutdownHTTP() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
}

// validateConfig fails fast on settings the pipeline cannot run with.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("nil config")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("db path is required (use --db or STREAMCART_DB_PATH)")
	}
	cfg := eff.Config
	if cfg.Pipeline.IntentThreshold < 0 || cfg.Pipeline.IntentThreshold >= 1 {
		return fmt.Errorf("pipeline.intent_threshold must be in [0,1): %v", cfg.Pipeline.IntentThreshold)
	}
	if cfg.Pipeline.VisionThreshold < 0 || cfg.Pipeline.VisionThreshold >= 1 {
		return fmt.Errorf("pipeline.vision_threshold must be in [0,1): %v", cfg.Pipeline.VisionThreshold)
	}
	if cfg.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1: %d", cfg.Pipeline.MaxAttempts)
	}
	for _, g := range []struct {
		name string
		url  string
	}{
		{"gateways.intent", cfg.Gateways.Intent.URL},
		{"gateways.vision", cfg.Gateways.Vision.URL},
		{"gateways.order", cfg.Gateways.Order.URL},
		{"gateways.notification", cfg.Gateways.Notification.URL},
	} {
		if g.url == "" {
			continue
		}
		if _, err := url.ParseRequestURI(g.url); err != nil {
			return fmt.Errorf("%s.url is invalid: %w", g.name, err)
		}
	}
	return nil
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}
