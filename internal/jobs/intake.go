package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamReader is the subset of the Redis client the intake needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Submitter interface {
	Submit(query string, maxPages, priority int) (*Job, error)
}

// SearchRequest is the body of a request message, either JSON in the "data"
// field or flat "query", "max_pages" and "priority" fields.
type SearchRequest struct {
	Query    string `json:"query"`
	MaxPages int    `json:"max_pages"`
	Priority int    `json:"priority"`
}

type IntakeConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// Intake turns messages of a Redis stream into queued jobs. Messages are
// acknowledged once submitted or found malformed; messages the queue could
// not take stay pending in the group.
type Intake struct {
	redis    StreamReader
	jobs     Submitter
	stream   string
	group    string
	consumer string
	block    time.Duration
	logger   *slog.Logger
}

func NewIntake(client StreamReader, jobs Submitter, cfg IntakeConfig, logger *slog.Logger) *Intake {
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	return &Intake{
		redis:    client,
		jobs:     jobs,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		block:    cfg.Block,
		logger:   logger.With("component", "job_intake", "stream", cfg.Stream),
	}
}

// Run reads the stream until ctx is done.
func (in *Intake) Run(ctx context.Context) error {
	err := in.redis.XGroupCreateMkStream(ctx, in.stream, in.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	in.logger.Info("starting intake", "group", in.group, "consumer", in.consumer)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := in.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    in.group,
			Consumer: in.consumer,
			Streams:  []string{in.stream, ">"},
			Count:    10,
			Block:    in.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			in.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				in.handle(ctx, msg)
			}
		}
	}
}

func (in *Intake) handle(ctx context.Context, msg redis.XMessage) {
	req, err := parseRequest(msg.Values)
	if err != nil {
		in.logger.Warn("dropping malformed request", "id", msg.ID, "error", err)
		in.ack(ctx, msg.ID)
		return
	}

	job, err := in.jobs.Submit(req.Query, req.MaxPages, req.Priority)
	switch {
	case err == nil:
		in.logger.Info("request queued", "id", msg.ID, "job", job.ID, "query", job.Query)
		in.ack(ctx, msg.ID)
	case errors.Is(err, ErrEmptyQuery):
		in.logger.Warn("dropping request without query", "id", msg.ID)
		in.ack(ctx, msg.ID)
	default:
		in.logger.Error("failed to queue request", "id", msg.ID, "error", err)
	}
}

func (in *Intake) ack(ctx context.Context, id string) {
	if err := in.redis.XAck(ctx, in.stream, in.group, id).Err(); err != nil {
		in.logger.Error("failed to acknowledge message", "id", id, "error", err)
	}
}

func parseRequest(values map[string]interface{}) (SearchRequest, error) {
	var req SearchRequest

	if data, ok := values["data"].(string); ok {
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			return req, fmt.Errorf("invalid data field: %w", err)
		}
		return req, nil
	}

	query, ok := values["query"].(string)
	if !ok {
		return req, errors.New("message has neither data nor query")
	}
	req.Query = query

	var err error
	if req.MaxPages, err = intField(values, "max_pages"); err != nil {
		return req, err
	}
	if req.Priority, err = intField(values, "priority"); err != nil {
		return req, err
	}
	return req, nil
}

func intField(values map[string]interface{}, key string) (int, error) {
	raw, ok := values[key].(string)
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}
