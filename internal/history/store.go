// Package history keeps past runs in a local SQLite database so that flaky
// checks can be spotted across runs.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pinchtab/mapcheck/internal/suite"
)

//go:embed schema.sql
var schemaSQL string

const (
	writeTimeout = 5 * time.Second
	// Fixed-width UTC so that stored times sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store is a run history database. It is a suite.Observer: every finished
// check is written as soon as it is recorded, so an interrupted run still
// leaves its checks behind.
type Store struct {
	db *sql.DB

	mu  sync.Mutex
	seq map[string]int
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db, seq: map[string]int{}}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun records the run before any check has finished.
func (s *Store) BeginRun(ctx context.Context, r *suite.Report) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, base_url, started_at) VALUES (?, ?, ?)`,
		r.RunID, r.BaseURL, formatTime(r.Started))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts.
func (s *Store) FinishRun(ctx context.Context, r *suite.Report) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, passed = ?, failed = ? WHERE id = ?`,
		formatTime(r.Finished), r.Passed, r.Failed, r.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	s.mu.Lock()
	delete(s.seq, r.RunID)
	s.mu.Unlock()
	return nil
}

// Save writes a complete report in one transaction.
func (s *Store) Save(ctx context.Context, r *suite.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, base_url, started_at, finished_at, passed, failed) VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.BaseURL, formatTime(r.Started), formatTime(r.Finished), r.Passed, r.Failed); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, c := range r.Checks {
		if err := insertCheck(ctx, tx, r.RunID, i, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCheck(ctx context.Context, db execer, runID string, seq int, c suite.Check) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO checks (run_id, seq, name, outcome, error, expected, actual, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, c.Name, string(c.Outcome), c.Error, c.Expected, c.Actual, c.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert check %q: %w", c.Name, err)
	}
	return nil
}

func (s *Store) CheckStarted(string, string) {}

func (s *Store) CheckFinished(runID string, c suite.Check) {
	s.mu.Lock()
	seq := s.seq[runID]
	s.seq[runID] = seq + 1
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := insertCheck(ctx, s.db, runID, seq, c); err != nil {
		slog.Warn("history write failed", "err", err)
	}
}

// Run is one stored run.
type Run struct {
	ID       string
	BaseURL  string
	Started  time.Time
	Finished time.Time
	Passed   int
	Failed   int
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, base_url, started_at, COALESCE(finished_at, ''), passed, failed
		   FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.BaseURL, &started, &finished, &r.Passed, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = parseTime(started)
		r.Finished = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckStat aggregates one check name over recent runs.
type CheckStat struct {
	Name      string
	Runs      int
	Failures  int
	LastError string
}

func (c CheckStat) FailureRate() float64 {
	if c.Runs == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Runs)
}

// FailureRates aggregates every check over the last n runs, most failing
// first.
func (s *Store) FailureRates(ctx context.Context, lastRuns int) ([]CheckStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH recent AS (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
		SELECT c.name,
		       COUNT(*),
		       SUM(CASE WHEN c.outcome = 'fail' THEN 1 ELSE 0 END),
		       COALESCE((SELECT c2.error FROM checks c2 JOIN runs r2 ON r2.id = c2.run_id
		                  WHERE c2.name = c.name AND c2.outcome = 'fail'
		                  ORDER BY r2.started_at DESC LIMIT 1), '')
		  FROM checks c
		 WHERE c.run_id IN (SELECT id FROM recent)
		 GROUP BY c.name
		 ORDER BY 3 DESC, c.name ASC`, lastRuns)
	if err != nil {
		return nil, fmt.Errorf("query failure rates: %w", err)
	}
	defer rows.Close()

	var out []CheckStat
	for rows.Next() {
		var c CheckStat
		if err := rows.Scan(&c.Name, &c.Runs, &c.Failures, &c.LastError); err != nil {
			return nil, fmt.Errorf("scan failure rate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
