// Package history persists sealed runs to a local SQLite database so
// past bring-ups can be listed, inspected, pruned and archived.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labrig/labrig/internal/plan"
)

// Store manages run history in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Entry is one run's summary row, without the full outcome record.
type Entry struct {
	ID        string
	Lab       string
	Plan      string
	Status    plan.RunStatus
	StartedAt time.Time
	EndedAt   time.Time
	Succeeded int
	Skipped   int
	Failed    int
	Blocked   int
	Warned    int
}

// Open opens or creates the history database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure history db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	store := &Store{DBPath: absPath, db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	lab TEXT,
	plan TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	succeeded INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	blocked INTEGER NOT NULL,
	warned INTEGER NOT NULL,
	record_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// Save records a sealed run. Runs are immutable, so saving the same id
// twice is an error.
func (s *Store) Save(r *plan.Run) error {
	record, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	c := r.Counts()
	_, err = s.db.Exec(`
		INSERT INTO runs (id, lab, plan, status, started_at, ended_at,
		                  succeeded, skipped, failed, blocked, warned, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Lab, r.Plan, string(r.Status()),
		r.StartedAt.UTC().Format(time.RFC3339), r.EndedAt.UTC().Format(time.RFC3339),
		c.Succeeded, c.Skipped, c.Failed, c.Blocked, c.Warned, string(record))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// List returns up to limit run summaries, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, lab, plan, status, started_at, ended_at,
		       succeeded, skipped, failed, blocked, warned
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status, startedAt, endedAt string
		err := rows.Scan(&e.ID, &e.Lab, &e.Plan, &status, &startedAt, &endedAt,
			&e.Succeeded, &e.Skipped, &e.Failed, &e.Blocked, &e.Warned)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		e.Status = plan.RunStatus(status)
		e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		e.EndedAt, _ = time.Parse(time.RFC3339, endedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return entries, nil
}

// Get returns the full run record for an id. Unambiguous id prefixes
// are accepted, so "labrig runs show 3f2a" works with the short ids the
// summary prints.
func (s *Store) Get(id string) (*plan.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, record_json FROM runs
		WHERE id = ? OR id LIKE ?
		LIMIT 2
	`, id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	var matches []string
	var record string
	for rows.Next() {
		var matchID, matchRecord string
		if err := rows.Scan(&matchID, &matchRecord); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		matches = append(matches, matchID)
		record = matchRecord
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run not found: %s", id)
	case 1:
	default:
		return nil, fmt.Errorf("run id %s is ambiguous (matches %d runs)", id, len(matches))
	}

	var r plan.Run
	if err := json.Unmarshal([]byte(record), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &r, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned runs: %w", err)
	}
	return int(n), nil
}
