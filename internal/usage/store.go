// Package usage keeps an append-only ledger of completion calls so
// token consumption can be broken down by provider, model, and the
// operation that triggered it.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/ha-config-assistant/internal/llm"
)

// timestampLayout is fixed width so stored values compare lexically in
// time order at sub-second resolution.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Record is one completion call.
type Record struct {
	ID         string
	Timestamp  time.Time
	Operation  string // "generate", "validate", "improve", "explain", "test"
	Provider   string
	Model      string
	Tokens     int
	DurationMS int64
}

// Summary holds aggregated totals.
type Summary struct {
	TotalRecords int   `json:"total_records"`
	TotalTokens  int64 `json:"total_tokens"`
	AvgMS        int64 `json:"avg_duration_ms"`
}

// Store is an append-only SQLite store for usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle and ensures the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
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
	CREATE TABLE IF NOT EXISTS usage_records (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		operation   TEXT NOT NULL,
		provider    TEXT NOT NULL,
		model       TEXT NOT NULL,
		tokens      INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a usage record. If rec.ID is empty, a UUIDv7 is
// generated.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, operation, provider, model, tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		formatTimestamp(rec.Timestamp),
		rec.Operation,
		rec.Provider,
		rec.Model,
		rec.Tokens,
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// RecordUsage adapts a completion report from the provider manager.
func (s *Store) RecordUsage(ctx context.Context, u llm.Usage) error {
	return s.Record(ctx, Record{
		Operation:  u.Operation,
		Provider:   u.Provider,
		Model:      u.Model,
		Tokens:     u.TokensUsed,
		DurationMS: u.Duration.Milliseconds(),
	})
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens), 0), CAST(COALESCE(AVG(duration_ms), 0) AS INTEGER)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		formatTimestamp(start),
		formatTimestamp(end),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalTokens, &sum.AvgMS); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByProvider returns per-provider totals for records within [start, end).
func (s *Store) SummaryByProvider(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "provider", start, end)
}

// SummaryByModel returns per-model totals for records within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "model", start, end)
}

// SummaryByOperation returns per-operation totals for records within [start, end).
func (s *Store) SummaryByOperation(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "operation", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column comes from the exported wrappers above, never from input.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(tokens), 0), CAST(COALESCE(AVG(duration_ms), 0) AS INTEGER)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s
		 ORDER BY SUM(tokens) DESC`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		formatTimestamp(start),
		formatTimestamp(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalTokens, &sum.AvgMS); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
