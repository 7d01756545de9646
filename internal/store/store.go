// Package store persists build outcomes to a SQLite archive so past runs
// can be inspected after the engine exits. The archive is write-mostly:
// the engine appends, the host queries.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kiln/internal/logging"
	"kiln/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS builds (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	success     INTEGER NOT NULL,
	total_tests INTEGER NOT NULL,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sprints (
	id            TEXT NOT NULL,
	build_id      TEXT NOT NULL REFERENCES builds(id),
	name          TEXT NOT NULL,
	passed        INTEGER NOT NULL,
	tests_passed  INTEGER NOT NULL,
	tests_failed  INTEGER NOT NULL,
	tests_skipped INTEGER NOT NULL,
	quality_score REAL NOT NULL,
	iterations    INTEGER NOT NULL,
	integration   INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	PRIMARY KEY (id, build_id)
);

CREATE TABLE IF NOT EXISTS scores (
	build_id  TEXT NOT NULL,
	task_id   TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	score     REAL NOT NULL,
	PRIMARY KEY (build_id, task_id, iteration)
);
`

// Archive is the SQLite-backed build archive.
type Archive struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the archive at the given path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply archive schema: %w", err)
	}

	logging.Store("archive opened at %s", path)
	return &Archive{db: db, path: path}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveBuild appends a build and its sprint results in one transaction.
func (a *Archive) SaveBuild(runID string, build *types.BuildResult) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO builds (id, run_id, success, total_tests, started_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		build.BuildID, runID, boolInt(build.Success), build.TotalTests,
		build.StartedAt.UTC().Format(time.RFC3339), build.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert build: %w", err)
	}

	insert := func(res types.SprintResult) error {
		_, err := tx.Exec(
			`INSERT INTO sprints (id, build_id, name, passed, tests_passed, tests_failed, tests_skipped, quality_score, iterations, integration, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.SprintID, build.BuildID, res.Name, boolInt(res.Passed),
			res.TestsPassed, res.TestsFailed, res.TestsSkipped,
			res.QualityScore, res.Iterations, boolInt(res.Integration),
			res.Duration.Milliseconds(),
		)
		return err
	}

	for _, res := range build.Sprints {
		if err := insert(res); err != nil {
			return fmt.Errorf("failed to insert sprint %s: %w", res.SprintID, err)
		}
	}
	if build.Integration != nil {
		if err := insert(*build.Integration); err != nil {
			return fmt.Errorf("failed to insert integration sprint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Store("build %s archived (%d sprints)", build.BuildID, len(build.Sprints))
	return nil
}

// SaveScores appends one task's score history for a build.
func (a *Archive) SaveScores(buildID, taskID string, scores []float64) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, s := range scores {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO scores (build_id, task_id, iteration, score) VALUES (?, ?, ?, ?)`,
			buildID, taskID, i+1, s,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// BuildSummary is one archived build row.
type BuildSummary struct {
	BuildID    string
	RunID      string
	Success    bool
	TotalTests int
	StartedAt  time.Time
	Duration   time.Duration
}

// RecentBuilds returns up to limit builds, newest first.
func (a *Archive) RecentBuilds(limit int) ([]BuildSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.Query(
		`SELECT id, run_id, success, total_tests, started_at, duration_ms
		 FROM builds ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BuildSummary
	for rows.Next() {
		var (
			b         BuildSummary
			success   int
			started   string
			durMillis int64
		)
		if err := rows.Scan(&b.BuildID, &b.RunID, &success, &b.TotalTests, &started, &durMillis); err != nil {
			return nil, err
		}
		b.Success = success != 0
		b.StartedAt, _ = time.Parse(time.RFC3339, started)
		b.Duration = time.Duration(durMillis) * time.Millisecond
		out = append(out, b)
	}
	return out, rows.Err()
}

// ScoreHistory returns the archived score sequence for a task, ordered
// by iteration.
func (a *Archive) ScoreHistory(buildID, taskID string) ([]float64, error) {
	rows, err := a.db.Query(
		`SELECT score FROM scores WHERE build_id = ? AND task_id = ? ORDER BY iteration`,
		buildID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
