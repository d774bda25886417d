package database

const schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	id             UUID PRIMARY KEY,
	query          TEXT NOT NULL,
	max_pages      INTEGER NOT NULL,
	pages_visited  INTEGER NOT NULL,
	record_count   INTEGER NOT NULL,
	skipped        INTEGER NOT NULL DEFAULT 0,
	stop_reason    TEXT NOT NULL,
	layout_suspect BOOLEAN NOT NULL DEFAULT FALSE,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_search_runs_started_at ON search_runs (started_at DESC);

CREATE TABLE IF NOT EXISTS listing_records (
	run_id        UUID NOT NULL REFERENCES search_runs (id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	name          TEXT NOT NULL,
	url           TEXT NOT NULL,
	price_raw     TEXT NOT NULL,
	price_numeric TEXT NOT NULL,
	sold_raw      TEXT NOT NULL,
	sold_count    INTEGER NOT NULL,
	rating_raw    TEXT NOT NULL,
	reviews_raw   TEXT NOT NULL,
	review_count  INTEGER NOT NULL,
	discount_raw  TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at);
`
