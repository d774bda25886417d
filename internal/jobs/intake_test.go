package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu        sync.Mutex
	groupErr  error
	batches   [][]redis.XMessage
	acked     []string
	groups    []string
	cancel    context.CancelFunc
	readCalls int
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, stream+"/"+group+"/"+start)
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++

	if len(f.batches) == 0 {
		f.cancel()
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: batch}}, nil)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		want    SearchRequest
		wantErr bool
	}{
		{
			name:   "JSON data",
			values: map[string]interface{}{"data": `{"query":"headphones","max_pages":2,"priority":1}`},
			want:   SearchRequest{Query: "headphones", MaxPages: 2, Priority: 1},
		},
		{
			name:   "Flat fields",
			values: map[string]interface{}{"query": "cable", "max_pages": "3"},
			want:   SearchRequest{Query: "cable", MaxPages: 3},
		},
		{
			name:    "Broken JSON",
			values:  map[string]interface{}{"data": `{"query":`},
			wantErr: true,
		},
		{
			name:    "Non numeric pages",
			values:  map[string]interface{}{"query": "cable", "max_pages": "many"},
			wantErr: true,
		},
		{
			name:    "Nothing usable",
			values:  map[string]interface{}{"type": "SEARCH_COMPLETED"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRequest(tt.values)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntakeRunQueuesRequests(t *testing.T) {
	m := newManager(t, &stubSearcher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &fakeStream{
		groupErr: errors.New("BUSYGROUP Consumer Group name already exists"),
		cancel:   cancel,
		batches: [][]redis.XMessage{{
			{ID: "1-0", Values: map[string]interface{}{"query": "headphones", "max_pages": "2"}},
			{ID: "2-0", Values: map[string]interface{}{"query": "   "}},
			{ID: "3-0", Values: map[string]interface{}{"data": "not json"}},
		}},
	}

	intake := NewIntake(stream, m, IntakeConfig{Stream: "stream:listing_requests", Group: "listing-api"}, discard)
	err := intake.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"stream:listing_requests/listing-api/$"}, stream.groups)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, stream.acked)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "headphones", list[0].Query)
	assert.Equal(t, 2, list[0].MaxPages)
}

func TestIntakeLeavesUnqueuedRequestsPending(t *testing.T) {
	m, err := NewManager(&stubSearcher{}, Config{QueueSize: 1}, nil, discard)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &fakeStream{
		cancel: cancel,
		batches: [][]redis.XMessage{{
			{ID: "1-0", Values: map[string]interface{}{"query": "first"}},
			{ID: "2-0", Values: map[string]interface{}{"query": "second"}},
		}},
	}

	err = NewIntake(stream, m, IntakeConfig{Stream: "s", Group: "g"}, discard).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"1-0"}, stream.acked)
}

func TestIntakeGroupCreationFailure(t *testing.T) {
	stream := &fakeStream{groupErr: errors.New("NOAUTH Authentication required")}

	err := NewIntake(stream, newManager(t, &stubSearcher{}), IntakeConfig{Stream: "s", Group: "g"}, discard).Run(context.Background())

	assert.ErrorContains(t, err, "NOAUTH")
	assert.Zero(t, stream.readCalls)
}
