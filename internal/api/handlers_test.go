package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Submit(query string, maxPages, priority int) (*jobs.Job, error) {
	args := m.Called(query, maxPages, priority)
	job, _ := args.Get(0).(*jobs.Job)
	return job, args.Error(1)
}

func (m *MockJobService) Get(id string) (*jobs.Job, error) {
	args := m.Called(id)
	job, _ := args.Get(0).(*jobs.Job)
	return job, args.Error(1)
}

func (m *MockJobService) List() []jobs.Job {
	args := m.Called()
	return args.Get(0).([]jobs.Job)
}

func (m *MockJobService) Session(id string) (*scraper.Session, error) {
	args := m.Called(id)
	session, _ := args.Get(0).(*scraper.Session)
	return session, args.Error(1)
}

func (m *MockJobService) Pending() int {
	return m.Called().Int(0)
}

type stubRuns struct {
	runs  []database.Run
	err   error
	limit int
}

func (s *stubRuns) RecentRuns(ctx context.Context, limit int) ([]database.Run, error) {
	s.limit = limit
	return s.runs, s.err
}

type stubOutbox struct {
	pending, deadLetter int64
	err                 error
}

func (s stubOutbox) Backlog(ctx context.Context) (int64, int64, error) {
	return s.pending, s.deadLetter, s.err
}

func newServer(svc JobService, runs RunStore, outbox OutboxStatus) http.Handler {
	return NewRouter(NewHandlers(svc, runs, outbox, discard), RouterConfig{SubmitRate: 100, SubmitBurst: 100})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func finishedSession() *scraper.Session {
	return &scraper.Session{
		ID:       "session-1",
		Query:    "headphones",
		MaxPages: 2,
		Records: []models.ProductRecord{
			{Name: "A", URL: "https://www.daraz.com.bd/a", Price: models.Price{Raw: "৳100", Numeric: "100"}, Sold: models.Count{Raw: "3 sold", Value: 3}, Rating: "4.0", Reviews: models.Count{Raw: "(2)", Value: 2}, Discount: "-5%"},
			{Name: "B", URL: "https://www.daraz.com.bd/b", Price: models.Price{Raw: "৳300", Numeric: "300"}, Sold: models.Count{Raw: models.NoSales}, Rating: models.NoRatings, Reviews: models.Count{Raw: models.NoReviews}, Discount: models.NoDiscount},
		},
		Stop: scraper.StopPageCeiling,
	}
}

func TestCreateSearch(t *testing.T) {
	svc := &MockJobService{}
	job := &jobs.Job{ID: "job-1", Query: "headphones", MaxPages: 2, Status: jobs.StatusPending}
	svc.On("Submit", "headphones", 2, 0).Return(job, nil)

	rec := do(t, newServer(svc, nil, nil), http.MethodPost, "/api/v1/searches", CreateSearchRequest{Query: "headphones", MaxPages: 2})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/v1/searches/job-1", rec.Header().Get("Location"))
	body := decode(t, rec)
	assert.Equal(t, "job-1", body["id"])
	assert.Equal(t, "pending", body["status"])
	svc.AssertExpectations(t)
}

func TestCreateSearchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty query", jobs.ErrEmptyQuery, http.StatusBadRequest},
		{"queue full", fmt.Errorf("failed to queue job: %w", queue.ErrQueueFull), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockJobService{}
			svc.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := do(t, newServer(svc, nil, nil), http.MethodPost, "/api/v1/searches", CreateSearchRequest{Query: "x"})
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestCreateSearchRejectsInvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/searches", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	newServer(&MockJobService{}, nil, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSearchThrottled(t *testing.T) {
	svc := &MockJobService{}
	svc.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(&jobs.Job{ID: "j"}, nil)
	h := NewRouter(NewHandlers(svc, nil, nil, discard), RouterConfig{SubmitRate: 0.001, SubmitBurst: 1})

	first := do(t, h, http.MethodPost, "/api/v1/searches", CreateSearchRequest{Query: "a"})
	second := do(t, h, http.MethodPost, "/api/v1/searches", CreateSearchRequest{Query: "b"})

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	svc.AssertNumberOfCalls(t, "Submit", 1)
}

func TestListSearches(t *testing.T) {
	svc := &MockJobService{}
	svc.On("List").Return([]jobs.Job{{ID: "b"}, {ID: "a"}})
	svc.On("Pending").Return(1)

	rec := do(t, newServer(svc, nil, nil), http.MethodGet, "/api/v1/searches", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["pending"])
}

func TestGetSearchStatusCodes(t *testing.T) {
	svc := &MockJobService{}
	svc.On("Get", "known").Return(&jobs.Job{ID: "known", Status: jobs.StatusRunning}, nil)
	svc.On("Get", "unknown").Return(nil, jobs.ErrJobNotFound)
	srv := newServer(svc, nil, nil)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/v1/searches/known", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/searches/unknown", nil).Code)
}

func TestGetRecords(t *testing.T) {
	svc := &MockJobService{}
	svc.On("Session", "done").Return(finishedSession(), nil)
	svc.On("Session", "busy").Return(nil, jobs.ErrJobNotFinished)
	srv := newServer(svc, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/searches/done/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, "page_ceiling", body["stop_reason"])

	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodGet, "/api/v1/searches/busy/records", nil).Code)
}

func TestGetStats(t *testing.T) {
	empty := finishedSession()
	empty.Records = []models.ProductRecord{}

	svc := &MockJobService{}
	svc.On("Session", "done").Return(finishedSession(), nil)
	svc.On("Session", "empty").Return(empty, nil)
	srv := newServer(svc, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/searches/done/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total_products"])
	assert.Equal(t, float64(200), body["avg_price"])

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodGet, "/api/v1/searches/empty/stats", nil).Code)
}

func TestExportCSV(t *testing.T) {
	svc := &MockJobService{}
	svc.On("Session", "done").Return(finishedSession(), nil)

	rec := do(t, newServer(svc, nil, nil), http.MethodGet, "/api/v1/searches/done/export.csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "\ufeffname,url,price_raw"))
	assert.Contains(t, body, "B,https://www.daraz.com.bd/b,৳300,300,0 sold,0,No ratings,0 reviews,0,No discount")
}

func TestListRuns(t *testing.T) {
	svc := &MockJobService{}
	runs := &stubRuns{runs: []database.Run{{ID: uuid.New(), Query: "headphones", StartedAt: time.Now()}}}
	srv := newServer(svc, runs, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/runs?limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"])
	assert.Equal(t, maxRunsLimit, runs.limit)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/runs?limit=x", nil).Code)
}

func TestListRunsWithoutDatabase(t *testing.T) {
	rec := do(t, newServer(&MockJobService{}, nil, nil), http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		outbox OutboxStatus
		code   int
		status string
	}{
		{"no database", nil, http.StatusOK, "ok"},
		{"healthy outbox", stubOutbox{pending: 3}, http.StatusOK, "ok"},
		{"backlog", stubOutbox{pending: 5000}, http.StatusOK, "warning"},
		{"dead letters", stubOutbox{deadLetter: 500}, http.StatusServiceUnavailable, "error"},
		{"database down", stubOutbox{err: errors.New("conn refused")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockJobService{}
			svc.On("Pending").Return(0)

			rec := do(t, newServer(svc, nil, tt.outbox), http.MethodGet, "/health", nil)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.status, decode(t, rec)["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := scraper.NewMetrics()
	metrics.IncPages()
	h := NewRouter(NewHandlers(&MockJobService{}, nil, nil, discard), RouterConfig{Registry: metrics.Registry})

	rec := do(t, h, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "listing_pages_extracted_total 1")
}
