package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamWriter appends entries to Redis streams.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxStore is the part of the outbox table the relay works on.
type OutboxStore interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DrainStats counts what one Drain call did.
type DrainStats struct {
	Delivered int
	Failed    int
}

// Relay hands committed search events over to their streams.
type Relay struct {
	streams StreamWriter
	store   OutboxStore
	logger  *slog.Logger
	every   time.Duration
	batch   int
}

func NewRelay(db *DB, streams StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	return newRelay(NewOutboxRepository(db), streams, logger, cfg)
}

func newRelay(store OutboxStore, streams StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		streams: streams,
		store:   store,
		logger:  logger.With("component", "relay"),
		every:   cfg.PollInterval,
		batch:   cfg.BatchSize,
	}
}

// Run drains the outbox right away and then once per poll interval until ctx
// is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.every, "batch_size", r.batch)

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to drain outbox", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain delivers due events batch by batch. It stops after a short batch or
// after a batch in which nothing got through; failed events are rescheduled
// by the store and picked up by a later call.
func (r *Relay) Drain(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	for ctx.Err() == nil {
		due, err := r.store.GetPending(ctx, r.batch)
		if err != nil {
			return stats, fmt.Errorf("failed to load due events: %w", err)
		}

		delivered := 0
		for _, event := range due {
			if err := r.deliver(ctx, event); err != nil {
				stats.Failed++
				r.logger.Warn("event delivery failed",
					"event_id", event.ID,
					"session", event.AggregateID,
					"attempt", event.RetryCount+1,
					"error", err)
				continue
			}
			delivered++
		}
		stats.Delivered += delivered

		if len(due) < r.batch || delivered == 0 {
			break
		}
	}

	if stats.Delivered > 0 || stats.Failed > 0 {
		r.logger.Info("outbox drained", "delivered", stats.Delivered, "failed", stats.Failed)
	}
	return stats, ctx.Err()
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	if _, err := AppendEvent(ctx, r.streams, event); err != nil {
		if markErr := r.store.MarkFailed(ctx, event.ID, err); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}
	return r.store.MarkProcessed(ctx, event.ID)
}

// AppendEvent writes event to its target stream and returns the entry ID.
func AppendEvent(ctx context.Context, w StreamWriter, event *OutboxEvent) (string, error) {
	values, err := streamValues(event)
	if err != nil {
		return "", err
	}

	id, err := w.XAdd(ctx, &redis.XAddArgs{Stream: event.TargetStream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", event.TargetStream, err)
	}
	return id, nil
}

type streamEnvelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Source        string          `json:"source"`
	Attempt       int             `json:"attempt"`
	Payload       json.RawMessage `json:"payload"`
}

// streamValues lays an event out as stream fields: the whole envelope as
// JSON under "data", plus flat copies of the fields consumers filter on.
func streamValues(event *OutboxEvent) (map[string]interface{}, error) {
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("event %s has an invalid payload", event.ID)
	}

	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Source:        "listing-scraper",
		Attempt:       event.RetryCount + 1,
		Payload:       event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	return map[string]interface{}{
		"data":         string(data),
		"event_id":     event.ID.String(),
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}, nil
}
