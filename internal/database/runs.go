package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/models"
)

// Run is the persisted summary of one search session.
type Run struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Query         string    `db:"query" json:"query"`
	MaxPages      int       `db:"max_pages" json:"max_pages"`
	PagesVisited  int       `db:"pages_visited" json:"pages_visited"`
	RecordCount   int       `db:"record_count" json:"record_count"`
	Skipped       int       `db:"skipped" json:"skipped"`
	StopReason    string    `db:"stop_reason" json:"stop_reason"`
	LayoutSuspect bool      `db:"layout_suspect" json:"layout_suspect"`
	StartedAt     time.Time `db:"started_at" json:"started_at"`
	FinishedAt    time.Time `db:"finished_at" json:"finished_at"`
}

var recordColumns = []string{
	"run_id", "position",
	"name", "url",
	"price_raw", "price_numeric",
	"sold_raw", "sold_count",
	"rating_raw",
	"reviews_raw", "review_count",
	"discount_raw",
}

// SaveRun stores run and its records atomically.
func (db *DB) SaveRun(ctx context.Context, run *Run, records []models.ProductRecord) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		return InsertRunTx(ctx, tx, run, records)
	})
}

// InsertRunTx stores run and its records inside tx, so callers can add
// further writes such as outbox events to the same transaction.
func InsertRunTx(ctx context.Context, tx pgx.Tx, run *Run, records []models.ProductRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.RecordCount = len(records)

	query := `
		INSERT INTO search_runs (
			id, query, max_pages, pages_visited, record_count,
			skipped, stop_reason, layout_suspect, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		run.ID, run.Query, run.MaxPages, run.PagesVisited, run.RecordCount,
		run.Skipped, run.StopReason, run.LayoutSuspect, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"listing_records"},
		recordColumns,
		pgx.CopyFromRows(recordRows(run.ID, records)),
	)
	if err != nil {
		return fmt.Errorf("failed to copy records: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copied %d of %d records", n, len(records))
	}

	return nil
}

// recordRows lays records out in recordColumns order, positions 1-based.
func recordRows(runID uuid.UUID, records []models.ProductRecord) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			runID, i + 1,
			r.Name, r.URL,
			r.Price.Raw, r.Price.Numeric,
			r.Sold.Raw, r.Sold.Value,
			r.Rating,
			r.Reviews.Raw, r.Reviews.Value,
			r.Discount,
		}
	}
	return rows
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, query, max_pages, pages_visited, record_count,
			skipped, stop_reason, layout_suspect, started_at, finished_at
		FROM search_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, pgx.RowToStructByName[Run])
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

// RunRecords returns the records of a run in discovery order.
func (db *DB) RunRecords(ctx context.Context, runID uuid.UUID) ([]models.ProductRecord, error) {
	query := `
		SELECT name, url, price_raw, price_numeric, sold_raw, sold_count,
			rating_raw, reviews_raw, review_count, discount_raw
		FROM listing_records
		WHERE run_id = $1
		ORDER BY position`

	rows, err := db.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []models.ProductRecord{}
	for rows.Next() {
		var r models.ProductRecord
		err := rows.Scan(
			&r.Name, &r.URL, &r.Price.Raw, &r.Price.Numeric, &r.Sold.Raw, &r.Sold.Value,
			&r.Rating, &r.Reviews.Raw, &r.Reviews.Value, &r.Discount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
