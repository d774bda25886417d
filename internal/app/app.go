// Package app holds the wiring shared by the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/events"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

// BrowserOptions maps the browser section of cfg onto launch options.
func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	opts.MaxRetries = cfg.Browser.MaxRetries
	if cfg.Browser.UserAgent != "" {
		opts.UserAgent = cfg.Browser.UserAgent
	}
	return opts
}

// Sinks are where finished sessions go besides the caller.
type Sinks struct {
	DB        *database.DB
	Redis     *redis.Client
	Relay     *database.Relay
	Recorders []events.Recorder
}

// OpenSinks connects what persist and publish ask for. With both set the
// session rows and the event are written in one transaction and the relay
// forwards the event to Redis; with publish alone the event goes straight
// to the stream.
func OpenSinks(ctx context.Context, cfg *config.Config, persist, publish bool, logger *slog.Logger) (*Sinks, error) {
	s := &Sinks{}

	if persist {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		s.DB = db
	}

	if publish {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.Redis = client
	}

	switch {
	case s.DB != nil && s.Redis != nil:
		s.Recorders = append(s.Recorders, events.NewPublisher(s.DB, cfg.Redis.Stream, true, logger))
		s.Relay = database.NewRelay(s.DB, s.Redis, logger, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		})
	case s.DB != nil:
		s.Recorders = append(s.Recorders, events.NewPublisher(s.DB, cfg.Redis.Stream, false, logger))
	case s.Redis != nil:
		s.Recorders = append(s.Recorders, events.NewStreamPublisher(s.Redis, cfg.Redis.Stream, logger))
	}

	return s, nil
}

// Record hands session to every recorder and joins their failures.
func (s *Sinks) Record(ctx context.Context, session *scraper.Session) error {
	var errs []error
	for _, r := range s.Recorders {
		if err := r.RecordSearch(ctx, session); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Outbox exposes the outbox table of the connected database.
func (s *Sinks) Outbox() *database.OutboxRepository {
	return database.NewOutboxRepository(s.DB)
}

func (s *Sinks) Close() {
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
