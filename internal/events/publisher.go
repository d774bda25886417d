package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

// Publisher persists sessions and, when emit is set, queues a
// SEARCH_COMPLETED event in the outbox within the same transaction.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	stream string
	emit   bool
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, emit bool, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		stream: stream,
		emit:   emit,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) RecordSearch(ctx context.Context, session *scraper.Session) error {
	run, err := RunFromSession(session)
	if err != nil {
		return err
	}

	var event *database.OutboxEvent
	if p.emit {
		event, err = NewSearchCompleted(session).OutboxEvent(p.stream)
		if err != nil {
			return err
		}
	}

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := database.InsertRunTx(ctx, tx, run, session.Records); err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}

	p.logger.Info("search recorded",
		"session", session.ID,
		"records", run.RecordCount,
		"event_queued", event != nil)

	return nil
}

// StreamPublisher appends SEARCH_COMPLETED events straight to a Redis
// stream, for setups without a database.
type StreamPublisher struct {
	redis  database.StreamWriter
	stream string
	logger *slog.Logger
}

func NewStreamPublisher(client database.StreamWriter, stream string, logger *slog.Logger) *StreamPublisher {
	return &StreamPublisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "stream_publisher"),
	}
}

func (p *StreamPublisher) RecordSearch(ctx context.Context, session *scraper.Session) error {
	payload := NewSearchCompleted(session)
	event, err := payload.OutboxEvent(p.stream)
	if err != nil {
		return err
	}
	event.Prepare(time.Now())

	entryID, err := database.AppendEvent(ctx, p.redis, event)
	if err != nil {
		return err
	}

	p.logger.Info("event published",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"session", session.ID,
		"stream", event.TargetStream,
		"entry_id", entryID)

	return nil
}
