package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/stats"
)

type EventType string

const (
	// EventTypeSearchCompleted is emitted once per finished search session,
	// whatever its stop reason.
	EventTypeSearchCompleted EventType = "SEARCH_COMPLETED"

	AggregateSearchRun = "search_run"
)

// Recorder receives every finished search session.
type Recorder interface {
	RecordSearch(ctx context.Context, session *scraper.Session) error
}

type SearchCompletedPayload struct {
	EventID       string       `json:"event_id"`
	EventType     string       `json:"event_type"`
	Timestamp     time.Time    `json:"timestamp"`
	SessionID     string       `json:"session_id"`
	Query         string       `json:"query"`
	MaxPages      int          `json:"max_pages"`
	PagesVisited  int          `json:"pages_visited"`
	RecordCount   int          `json:"record_count"`
	Skipped       int          `json:"skipped"`
	StopReason    string       `json:"stop_reason"`
	LayoutSuspect bool         `json:"layout_suspect"`
	Stats         *stats.Stats `json:"stats,omitempty"`
	Source        string       `json:"source"`
}

// NewSearchCompleted describes session. Stats are omitted when the session
// has no records.
func NewSearchCompleted(session *scraper.Session) *SearchCompletedPayload {
	summary, _ := stats.Summarize(session.Records)

	return &SearchCompletedPayload{
		EventID:       uuid.NewString(),
		EventType:     string(EventTypeSearchCompleted),
		Timestamp:     session.FinishedAt,
		SessionID:     session.ID,
		Query:         session.Query,
		MaxPages:      session.MaxPages,
		PagesVisited:  session.PagesVisited,
		RecordCount:   len(session.Records),
		Skipped:       session.Skipped,
		StopReason:    string(session.Stop),
		LayoutSuspect: session.LayoutSuspect,
		Stats:         summary,
		Source:        "scraper",
	}
}

// OutboxEvent wraps the payload for delivery to stream.
func (p *SearchCompletedPayload) OutboxEvent(stream string) (*database.OutboxEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: AggregateSearchRun,
		AggregateID:   p.SessionID,
		EventType:     p.EventType,
		Payload:       data,
		TargetStream:  stream,
	}, nil
}

// RunFromSession converts a session into its persisted summary.
func RunFromSession(session *scraper.Session) (*database.Run, error) {
	id, err := uuid.Parse(session.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", session.ID, err)
	}

	return &database.Run{
		ID:            id,
		Query:         session.Query,
		MaxPages:      session.MaxPages,
		PagesVisited:  session.PagesVisited,
		RecordCount:   len(session.Records),
		Skipped:       session.Skipped,
		StopReason:    string(session.Stop),
		LayoutSuspect: session.LayoutSuspect,
		StartedAt:     session.StartedAt,
		FinishedAt:    session.FinishedAt,
	}, nil
}
