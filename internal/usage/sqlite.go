package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"defgen/internal/rules"
)

// tsLayout has a fixed width so timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink stores events in a SQLite table.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// NewSQLiteSink opens (or creates) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("sqlite sink: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("sqlite sink: create dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	s := &SQLiteSink{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS validation_events (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		request_id TEXT,
		term TEXT NOT NULL,
		category TEXT NOT NULL,
		overall_score REAL NOT NULL,
		is_acceptable INTEGER NOT NULL,
		contradiction_count INTEGER NOT NULL,
		critical_failures INTEGER NOT NULL,
		catalog_version TEXT NOT NULL,
		over_budget INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_category ON validation_events(category);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON validation_events(ts);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before over_budget existed lack the column.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('validation_events') WHERE name = 'over_budget'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE validation_events ADD COLUMN over_budget INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts ev.
func (s *SQLiteSink) Record(ctx context.Context, ev Event) error {
	ev = ev.withDefaults()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_events
			(id, ts, request_id, term, category, overall_score, is_acceptable,
			 contradiction_count, critical_failures, catalog_version, over_budget)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp.UTC().Format(tsLayout), ev.RequestID, ev.Term, string(ev.Category),
		ev.OverallScore, ev.IsAcceptable, ev.ContradictionCount, ev.CriticalFailures, ev.CatalogVersion, ev.OverBudget)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

// Query returns up to limit events, newest first.
func (s *SQLiteSink) Query(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, request_id, term, category, overall_score, is_acceptable,
		       contradiction_count, critical_failures, catalog_version, over_budget
		FROM validation_events ORDER BY ts DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			ts       string
			reqID    sql.NullString
			category string
		)
		if err := rows.Scan(&ev.ID, &ts, &reqID, &ev.Term, &category, &ev.OverallScore, &ev.IsAcceptable,
			&ev.ContradictionCount, &ev.CriticalFailures, &ev.CatalogVersion, &ev.OverBudget); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("event %s: bad timestamp %q: %w", ev.ID, ts, err)
		}
		ev.RequestID = reqID.String
		ev.Category = rules.OntologicalCategory(category)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
