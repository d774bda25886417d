package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamWriter struct {
	mock.Mock
}

func (m *MockStreamWriter) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

type MockOutboxStore struct {
	mock.Mock
}

func (m *MockOutboxStore) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func searchEvent(query string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "search_run",
		AggregateID:   uuid.NewString(),
		EventType:     "SEARCH_COMPLETED",
		Payload:       json.RawMessage(`{"query":"` + query + `","record_count":5}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

// streamFields returns the field map of an XAdd call, or nil when the values
// were passed in another shape.
func streamFields(args *redis.XAddArgs) map[string]interface{} {
	fields, _ := args.Values.(map[string]interface{})
	return fields
}

func testRelay(store OutboxStore, streams StreamWriter, batch int) *Relay {
	return newRelay(store, streams, slog.Default(), RelayConfig{BatchSize: batch, PollInterval: 20 * time.Millisecond})
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers and marks every event", func(t *testing.T) {
		streams := new(MockStreamWriter)
		store := new(MockOutboxStore)

		events := []*OutboxEvent{searchEvent("headphones"), searchEvent("keyboard")}
		store.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			streams.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				fields := streamFields(args)
				return args.Stream == DefaultStream &&
					fields["event_type"] == "SEARCH_COMPLETED" &&
					fields["aggregate_id"] == event.AggregateID
			})).Return(nil)
			store.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		stats, err := testRelay(store, streams, 10).Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, DrainStats{Delivered: 2}, stats)

		streams.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("keeps reading while batches are full", func(t *testing.T) {
		streams := new(MockStreamWriter)
		store := new(MockOutboxStore)

		store.On("GetPending", ctx, 2).Return([]*OutboxEvent{searchEvent("a"), searchEvent("b")}, nil).Once()
		store.On("GetPending", ctx, 2).Return([]*OutboxEvent{searchEvent("c")}, nil).Once()
		streams.On("XAdd", ctx, mock.Anything).Return(nil)
		store.On("MarkProcessed", ctx, mock.Anything).Return(nil)

		stats, err := testRelay(store, streams, 2).Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, DrainStats{Delivered: 3}, stats)
		store.AssertNumberOfCalls(t, "GetPending", 2)
	})

	t.Run("reschedules on publish failure", func(t *testing.T) {
		streams := new(MockStreamWriter)
		store := new(MockOutboxStore)

		event := searchEvent("headphones")
		store.On("GetPending", ctx, 1).Return([]*OutboxEvent{event}, nil)
		streams.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))
		store.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to append to stream:listing_searches: connection refused"
		})).Return(nil)

		stats, err := testRelay(store, streams, 1).Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, DrainStats{Failed: 1}, stats)

		store.AssertNumberOfCalls(t, "GetPending", 1)
		store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
		store.AssertExpectations(t)
	})

	t.Run("empty outbox does not touch redis", func(t *testing.T) {
		streams := new(MockStreamWriter)
		store := new(MockOutboxStore)
		store.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		stats, err := testRelay(store, streams, 10).Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats)
		streams.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("outbox read failure is returned", func(t *testing.T) {
		store := new(MockOutboxStore)
		store.On("GetPending", ctx, 10).Return(nil, errors.New("too many connections"))

		_, err := testRelay(store, new(MockStreamWriter), 10).Drain(ctx)
		assert.ErrorContains(t, err, "too many connections")
	})
}

func TestAppendEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("data field carries the envelope", func(t *testing.T) {
		streams := new(MockStreamWriter)
		event := searchEvent("headphones")
		event.RetryCount = 2

		streams.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			raw, ok := streamFields(args)["data"].(string)
			if !ok {
				return false
			}

			var envelope struct {
				Type          string                 `json:"type"`
				AggregateType string                 `json:"aggregate_type"`
				Source        string                 `json:"source"`
				Attempt       int                    `json:"attempt"`
				Payload       map[string]interface{} `json:"payload"`
			}
			if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
				return false
			}

			return envelope.Type == "SEARCH_COMPLETED" &&
				envelope.AggregateType == "search_run" &&
				envelope.Source == "listing-scraper" &&
				envelope.Attempt == 3 &&
				envelope.Payload["query"] == "headphones"
		})).Return(nil)

		id, err := AppendEvent(ctx, streams, event)
		require.NoError(t, err)
		assert.Equal(t, "1700000000000-0", id)
		streams.AssertExpectations(t)
	})

	t.Run("invalid payload is rejected before publishing", func(t *testing.T) {
		streams := new(MockStreamWriter)
		event := searchEvent("headphones")
		event.Payload = json.RawMessage(`not json`)

		_, err := AppendEvent(ctx, streams, event)
		assert.Error(t, err)
		streams.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})
}

func TestRelay_Run(t *testing.T) {
	store := new(MockOutboxStore)
	store.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil)
	relay := testRelay(store, new(MockStreamWriter), 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
	assert.GreaterOrEqual(t, len(store.Calls), 2)
}
