// Package usage keeps a persistent ledger of model completions and image
// batches. Records are append-only and indexed by timestamp for
// aggregation queries (the status command and the API read them).
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Modes recorded in Record.Mode.
const (
	ModeChat   = "chat"
	ModeSearch = "search"
)

// Record represents a single completion request's outcome and token usage.
type Record struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Mode         string // "chat", "search"
	Model        string
	Provider     string // "groq"
	InputTokens  int
	OutputTokens int
	Chunks       int
	Skipped      int
	Duration     time.Duration
	OK           bool
	Error        string
}

// Batch records one processed image job.
type Batch struct {
	ID        string
	Timestamp time.Time
	Prompt    string
	Requested int
	Saved     int
	Duration  time.Duration
}

// Summary holds aggregated completion totals.
type Summary struct {
	TotalRecords      int
	FailedRecords     int
	TotalInputTokens  int64
	TotalOutputTokens int64
}

// Store is an append-only SQLite ledger. All public methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS completions (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		mode          TEXT NOT NULL,
		model         TEXT NOT NULL,
		provider      TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		chunks        INTEGER NOT NULL,
		skipped       INTEGER NOT NULL,
		duration_ms   INTEGER NOT NULL,
		ok            INTEGER NOT NULL,
		error         TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_completions_timestamp ON completions(timestamp);

	CREATE TABLE IF NOT EXISTS image_batches (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		prompt      TEXT NOT NULL,
		requested   INTEGER NOT NULL,
		saved       INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_image_batches_timestamp ON image_batches(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Record persists a completion record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := newID()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions
			(id, timestamp, request_id, mode, model, provider,
			 input_tokens, output_tokens, chunks, skipped, duration_ms, ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.RequestID,
		rec.Mode,
		rec.Model,
		rec.Provider,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Chunks,
		rec.Skipped,
		rec.Duration.Milliseconds(),
		rec.OK,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// RecordBatch persists an image batch. If b.ID is empty, a UUIDv7 is
// generated.
func (s *Store) RecordBatch(ctx context.Context, b Batch) error {
	if b.ID == "" {
		id, err := newID()
		if err != nil {
			return fmt.Errorf("generate batch ID: %w", err)
		}
		b.ID = id
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_batches (id, timestamp, prompt, requested, saved, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.Timestamp.UTC().Format(time.RFC3339),
		b.Prompt,
		b.Requested,
		b.Saved,
		b.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert image batch: %w", err)
	}
	return nil
}

// RecentBatches returns up to limit image batches, newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, prompt, requested, saved, duration_ms
		 FROM image_batches
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query image batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var (
			b  Batch
			ts string
			ms int64
		)
		if err := rows.Scan(&b.ID, &ts, &b.Prompt, &b.Requested, &b.Saved, &ms); err != nil {
			return nil, fmt.Errorf("scan image batch: %w", err)
		}
		b.Timestamp, _ = time.Parse(time.RFC3339, ts)
		b.Duration = time.Duration(ms) * time.Millisecond
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Summary returns aggregated totals for completions within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(1 - ok), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM completions
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.FailedRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model aggregated totals for completions within [start, end).
func (s *Store) SummaryByModel(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("model", start, end)
}

// SummaryByMode returns per-mode (chat, search) aggregated totals for
// completions within [start, end).
func (s *Store) SummaryByMode(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("mode", start, end)
}

func (s *Store) summaryGroupedBy(column string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a constant from our own methods, never user input.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(1 - ok), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM completions
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s
		 ORDER BY COUNT(*) DESC`,
		column, column,
	)

	rows, err := s.db.Query(query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.FailedRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
