package events

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

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func streamFields(args *redis.XAddArgs) map[string]interface{} {
	fields, _ := args.Values.(map[string]interface{})
	return fields
}

func testSession() *scraper.Session {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &scraper.Session{
		ID:           uuid.NewString(),
		Query:        "headphones",
		MaxPages:     2,
		PagesVisited: 2,
		Records: []models.ProductRecord{
			{Name: "a", Price: models.Price{Numeric: "100"}, Reviews: models.Count{Value: 4}},
			{Name: "b", Price: models.Price{Numeric: "300"}, Sold: models.Count{Value: 7}},
		},
		Skipped:    1,
		Stop:       scraper.StopPageCeiling,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
	}
}

func TestNewSearchCompleted(t *testing.T) {
	session := testSession()
	payload := NewSearchCompleted(session)

	assert.Equal(t, string(EventTypeSearchCompleted), payload.EventType)
	assert.Equal(t, session.ID, payload.SessionID)
	assert.Equal(t, 2, payload.RecordCount)
	assert.Equal(t, 1, payload.Skipped)
	assert.Equal(t, "page_ceiling", payload.StopReason)
	assert.Equal(t, session.FinishedAt, payload.Timestamp)
	require.NotNil(t, payload.Stats)
	assert.Equal(t, 200.0, payload.Stats.AvgPrice)
	assert.Equal(t, 7, payload.Stats.TotalSold)
}

func TestNewSearchCompletedWithoutRecords(t *testing.T) {
	session := testSession()
	session.Records = nil
	session.Stop = scraper.StopInitialLoadTimeout

	payload := NewSearchCompleted(session)
	assert.Nil(t, payload.Stats)
	assert.Zero(t, payload.RecordCount)

	event, err := payload.OutboxEvent(database.DefaultStream)
	require.NoError(t, err)
	assert.NotContains(t, string(event.Payload), `"stats"`)
}

func TestOutboxEvent(t *testing.T) {
	payload := NewSearchCompleted(testSession())

	event, err := payload.OutboxEvent("stream:custom")
	require.NoError(t, err)

	assert.Equal(t, AggregateSearchRun, event.AggregateType)
	assert.Equal(t, payload.SessionID, event.AggregateID)
	assert.Equal(t, "stream:custom", event.TargetStream)

	var decoded SearchCompletedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, "headphones", decoded.Query)
}

func TestRunFromSession(t *testing.T) {
	session := testSession()

	run, err := RunFromSession(session)
	require.NoError(t, err)
	assert.Equal(t, session.ID, run.ID.String())
	assert.Equal(t, 2, run.RecordCount)
	assert.Equal(t, "page_ceiling", run.StopReason)

	session.ID = "not-a-uuid"
	_, err = RunFromSession(session)
	assert.Error(t, err)
}

func TestStreamPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes to configured stream", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		session := testSession()

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			fields := streamFields(args)
			return args.Stream == "stream:listing_searches" &&
				fields["event_type"] == "SEARCH_COMPLETED" &&
				fields["aggregate_id"] == session.ID
		})).Return(nil)

		p := NewStreamPublisher(mockRedis, "stream:listing_searches", slog.Default())
		require.NoError(t, p.RecordSearch(ctx, session))
		mockRedis.AssertExpectations(t)
	})

	t.Run("surfaces redis failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))

		p := NewStreamPublisher(mockRedis, "stream:listing_searches", slog.Default())
		assert.Error(t, p.RecordSearch(ctx, testSession()))
	})
}
