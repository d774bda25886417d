package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maltedev/listing-scraper/internal/events"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotFinished = errors.New("job not finished")
	ErrEmptyQuery     = errors.New("query is required")
	ErrNoSession      = errors.New("job ended before searching")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Searcher runs one search session. *scraper.Collector implements it.
type Searcher interface {
	Search(ctx context.Context, query string, maxPages int) *scraper.Session
}

// Job is the externally visible state of a submitted search.
type Job struct {
	ID            string     `json:"id"`
	Query         string     `json:"query"`
	MaxPages      int        `json:"max_pages"`
	Priority      int        `json:"priority"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	RecordCount   int        `json:"record_count"`
	PagesVisited  int        `json:"pages_visited"`
	Skipped       int        `json:"skipped"`
	StopReason    string     `json:"stop_reason,omitempty"`
	LayoutSuspect bool       `json:"layout_suspect"`
	Error         string     `json:"error,omitempty"`
	RecordError   string     `json:"record_error,omitempty"`
}

type Config struct {
	DefaultMaxPages int
	// Retention bounds how many finished jobs, with their records, stay
	// queryable.
	Retention   int
	QueueSize   int
	IntervalMin time.Duration
	IntervalMax time.Duration
}

type finishedJob struct {
	job     Job
	session *scraper.Session
}

// Manager queues searches and runs them one at a time on a single worker.
type Manager struct {
	searcher        Searcher
	queue           queue.Queue
	limiter         ratelimit.RateLimiter
	recorders       []events.Recorder
	defaultMaxPages int
	logger          *slog.Logger

	mu       sync.RWMutex
	active   map[string]*Job
	finished *lru.Cache[string, *finishedJob]
}

func NewManager(searcher Searcher, cfg Config, recorders []events.Recorder, logger *slog.Logger) (*Manager, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 100
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 5
	}

	finished, err := lru.New[string, *finishedJob](cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("failed to create job cache: %w", err)
	}

	return &Manager{
		searcher:        searcher,
		queue:           queue.NewInMemoryQueue(cfg.QueueSize),
		limiter:         ratelimit.NewSimpleRateLimiter(cfg.IntervalMin, cfg.IntervalMax),
		recorders:       recorders,
		defaultMaxPages: cfg.DefaultMaxPages,
		logger:          logger.With("component", "job_manager"),
		active:          make(map[string]*Job),
		finished:        finished,
	}, nil
}

// Submit queues a search. maxPages <= 0 selects the configured default.
func (m *Manager) Submit(query string, maxPages, priority int) (*Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxPages <= 0 {
		maxPages = m.defaultMaxPages
	}

	job := &Job{
		ID:        uuid.NewString(),
		Query:     query,
		MaxPages:  maxPages,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.active[job.ID] = job
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:        job.ID,
		Query:     job.Query,
		MaxPages:  job.MaxPages,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.active, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "query", query, "max_pages", maxPages)

	snapshot := *job
	return &snapshot, nil
}

// Start runs queued jobs until ctx is done or the manager is closed. When
// ctx ends first, jobs still waiting in the queue are marked failed.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		if ctx.Err() != nil {
			m.stop(ctx.Err())
			return
		}

		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Error("failed to take next job", "error", err)
			}
			m.stop(err)
			return
		}

		if err := m.limiter.Wait(ctx); err != nil {
			m.fail(task.ID, err)
			m.stop(err)
			return
		}

		m.run(ctx, task)
	}
}

// stop closes the queue and fails whatever is left in it.
func (m *Manager) stop(cause error) {
	_ = m.queue.Close()

	left := m.queue.Drain()
	for _, task := range left {
		m.fail(task.ID, fmt.Errorf("worker stopped: %w", cause))
	}
	if len(left) > 0 {
		m.logger.Warn("abandoned queued jobs", "count", len(left), "cause", cause)
	}
	m.logger.Info("job worker stopping")
}

// Close stops accepting jobs. Queued jobs still run while the worker is up.
func (m *Manager) Close() error {
	return m.queue.Close()
}

func (m *Manager) run(ctx context.Context, task *queue.Task) {
	started := time.Now()

	m.mu.Lock()
	job, ok := m.active[task.ID]
	if ok {
		job.Status = StatusRunning
		job.StartedAt = &started
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("dropping unknown job", "id", task.ID)
		return
	}

	m.logger.Info("processing job", "id", task.ID, "query", task.Query)
	session := m.searcher.Search(ctx, task.Query, task.MaxPages)

	var recordErrs []error
	for _, r := range m.recorders {
		if err := r.RecordSearch(ctx, session); err != nil {
			m.logger.Error("failed to record search", "id", task.ID, "session", session.ID, "error", err)
			recordErrs = append(recordErrs, err)
		}
	}

	completed := time.Now()

	m.mu.Lock()
	job.CompletedAt = &completed
	job.SessionID = session.ID
	job.RecordCount = len(session.Records)
	job.PagesVisited = session.PagesVisited
	job.Skipped = session.Skipped
	job.StopReason = string(session.Stop)
	job.LayoutSuspect = session.LayoutSuspect
	if err := errors.Join(recordErrs...); err != nil {
		job.RecordError = err.Error()
	}
	if session.Stop.Fatal() {
		job.Status = StatusFailed
		job.Error = fmt.Sprintf("search stopped: %s", session.Stop)
	} else {
		job.Status = StatusCompleted
	}
	done := &finishedJob{job: *job, session: session}
	delete(m.active, job.ID)
	m.finished.Add(job.ID, done)
	m.mu.Unlock()

	m.logger.Info("job finished",
		"id", task.ID,
		"status", done.job.Status,
		"records", done.job.RecordCount,
		"stop_reason", done.job.StopReason,
		"duration", completed.Sub(started))
}

func (m *Manager) fail(id string, cause error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.active[id]
	if !ok {
		return
	}
	job.Status = StatusFailed
	job.CompletedAt = &now
	job.Error = cause.Error()
	delete(m.active, id)
	m.finished.Add(id, &finishedJob{job: *job})
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.active[id]; ok {
		snapshot := *job
		return &snapshot, nil
	}
	if done, ok := m.finished.Peek(id); ok {
		snapshot := done.job
		return &snapshot, nil
	}
	return nil, ErrJobNotFound
}

// List returns every known job, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	out := make([]Job, 0, len(m.active)+m.finished.Len())
	for _, job := range m.active {
		out = append(out, *job)
	}
	for _, done := range m.finished.Values() {
		out = append(out, done.job)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Session returns the finished session of a job. Jobs that are still queued
// or running report ErrJobNotFinished.
func (m *Manager) Session(id string) (*scraper.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.active[id]; ok {
		return nil, ErrJobNotFinished
	}
	done, ok := m.finished.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	if done.session == nil {
		return nil, ErrNoSession
	}
	return done.session, nil
}

// Pending is the number of queued jobs.
func (m *Manager) Pending() int {
	return m.queue.Size()
}
