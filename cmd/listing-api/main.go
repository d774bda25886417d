package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/listing-scraper/internal/api"
	"github.com/maltedev/listing-scraper/internal/app"
	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/logger"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	sinks, err := app.OpenSinks(ctx, cfg, cfg.Database.Enabled, cfg.Redis.Enabled, log)
	if err != nil {
		return err
	}
	defer sinks.Close()

	if sinks.Relay != nil {
		go func() {
			if err := sinks.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	}

	b, err := browser.New(app.BrowserOptions(cfg))
	if err != nil {
		return err
	}
	defer b.Close()

	metrics := scraper.NewMetrics()
	collector, err := scraper.NewCollector(b, scraper.OptionsFromConfig(cfg), log, metrics)
	if err != nil {
		return err
	}

	manager, err := jobs.NewManager(collector, jobs.Config{
		DefaultMaxPages: cfg.Scraper.DefaultMaxPages,
		Retention:       cfg.Scraper.JobRetention,
		QueueSize:       cfg.Scraper.QueueSize,
		IntervalMin:     cfg.Scraper.JobIntervalMin,
		IntervalMax:     cfg.Scraper.JobIntervalMax,
	}, sinks.Recorders, log)
	if err != nil {
		return err
	}
	defer manager.Close()

	workerDone := make(chan struct{})
	go func() {
		manager.Start(ctx)
		close(workerDone)
	}()

	if sinks.Redis != nil && cfg.Redis.RequestStream != "" {
		intake := jobs.NewIntake(sinks.Redis, manager, jobs.IntakeConfig{
			Stream: cfg.Redis.RequestStream,
			Group:  cfg.Redis.RequestGroup,
		}, log)
		go func() {
			if err := intake.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("intake stopped with error", "error", err)
			}
		}()
	}

	var (
		runs   api.RunStore
		outbox api.OutboxStatus
	)
	if sinks.DB != nil {
		runs = sinks.DB
		outbox = sinks.Outbox()
	}

	handler := api.NewRouter(api.NewHandlers(manager, runs, outbox, log), api.RouterConfig{
		SubmitRate:     cfg.Server.SubmitRate,
		SubmitBurst:    cfg.Server.SubmitBurst,
		RequestTimeout: cfg.Server.WriteTimeout,
		Registry:       metrics.Registry,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("job worker did not stop before shutdown timeout")
	}
	return nil
}
