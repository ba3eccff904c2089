// Package jobstore keeps a local sqlite record of every job this plugin has
// executed: which command ran, when, and how it ended. The ops server reads
// it back for status pages and debug charts.
package jobstore

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// Store wraps the sqlite connection holding the run history.
type Store struct {
	*sql.DB
}

// Open connects to the run database at path and applies any pending
// migrations.
func Open(path string) (*Store, error) {
	s, err := OpenWithoutMigrations(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate run database: %w", err)
	}
	return s, nil
}

// OpenWithoutMigrations connects without touching the schema. The migrate CLI
// uses this so migrations stay explicit there.
func OpenWithoutMigrations(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}
	return &Store{db}, nil
}

// Run is one recorded job execution.
type Run struct {
	ID         string
	JobID      string
	Command    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RecordStart inserts a running entry and returns the run id.
func (s *Store) RecordStart(jobID, command string) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(
		`INSERT INTO runs (run_id, job_id, command, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		id, jobID, command, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// RecordFinish marks a run as finished. errMsg empty means success.
func (s *Store) RecordFinish(runID string, errMsg string) error {
	status := "success"
	if errMsg != "" {
		status = "error"
	}
	res, err := s.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("unknown run id %s", runID)
	}
	return nil
}

// RecentRuns returns the newest runs, most recent first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Query(
		`SELECT run_id, job_id, command, status, COALESCE(error, ''), started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobID, &r.Command, &r.Status, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// RollupRow aggregates run history per command.
type RollupRow struct {
	Command       string  `json:"command"`
	Runs          int64   `json:"runs"`
	Errors        int64   `json:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// RunRollup returns per-command counts and mean durations over finished runs.
func (s *Store) RunRollup() ([]RollupRow, error) {
	rows, err := s.Query(`
		SELECT command,
		       COUNT(*),
		       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
		       COALESCE(AVG((julianday(finished_at) - julianday(started_at)) * 86400000.0), 0)
		FROM runs
		WHERE finished_at IS NOT NULL
		GROUP BY command
		ORDER BY command`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RollupRow
	for rows.Next() {
		var r RollupRow
		if err := rows.Scan(&r.Command, &r.Runs, &r.Errors, &r.AvgDurationMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AttachAdminRoutes mounts live SQL debugging for the run database on mux.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://runs.db", s.DB, &tailsql.DBOptions{
		Label: "Plugin run history",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
