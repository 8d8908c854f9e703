// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides SQLite-backed persistence for workflows, runs,
// step runs and events. All mutating operations are transactional: on
// process restart the visible state is the last committed transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/staterail/staterail/pkg/errors"
	"github.com/staterail/staterail/pkg/workflow"
)

// Store provides SQLite-backed storage for the staterail data model.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// Option customises a Store. The clock and identifier generator are the
// boundary contracts the engine consumes; tests substitute them.
type Option func(*Store)

// WithClock sets the clock used for all persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the generator for new opaque identifiers.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New creates a new SQLite storage backend.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// SQLite connection string with WAL mode for better concurrency
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection, so the pool must not
	// grow beyond one connection there.
	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	if cfg.Path == ":memory:" {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	// Enable foreign keys (disabled by default in SQLite)
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			config TEXT NOT NULL,
			step_order INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow ON workflow_steps(workflow_id, step_order)`,

		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow ON workflow_runs(workflow_id, created_at)`,

		// workflow_step_id deliberately carries no foreign key: step runs
		// snapshot the step identity so definition edits never touch them.
		`CREATE TABLE IF NOT EXISTS step_runs (
			id TEXT PRIMARY KEY,
			workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			workflow_step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_runs_run ON step_runs(workflow_run_id)`,

		// seq is the stable tiebreak for events sharing a created_at.
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			workflow_run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			step_run_id TEXT,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(workflow_run_id, created_at, seq)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
// This is exported for testing and advanced use cases.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Timestamps are stored as ISO-8601 strings in UTC.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListWorkflows returns all workflows with their steps, newest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM workflows
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	rows.Close()

	for _, wf := range workflows {
		steps, err := s.listSteps(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		wf.Steps = steps
	}

	return workflows, nil
}

// GetWorkflow retrieves a workflow with its steps ordered by step order.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at
		FROM workflows WHERE id = ?
	`, id)

	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, err
	}

	steps, err := s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(r rowScanner) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	var description sql.NullString
	var createdAt string
	if err := r.Scan(&wf.ID, &wf.Name, &description, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	wf.Description = description.String
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow created_at: %w", err)
	}
	wf.CreatedAt = t
	return &wf, nil
}

func (s *Store) listSteps(ctx context.Context, workflowID string) ([]workflow.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, kind, config, step_order
		FROM workflow_steps
		WHERE workflow_id = ?
		ORDER BY step_order ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []workflow.Step
	for rows.Next() {
		var step workflow.Step
		var configJSON []byte
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Name, &step.Kind, &configJSON, &step.Order); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal(configJSON, &step.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// CreateWorkflow persists a new workflow and its step sequence atomically.
// Each step's order is honored as provided.
func (s *Store) CreateWorkflow(ctx context.Context, name, description string, steps []workflow.Step) (*workflow.Workflow, error) {
	if name == "" {
		return nil, &errors.ValidationError{Field: "name", Message: "workflow name cannot be empty"}
	}
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return nil, err
		}
	}

	id := s.newID()
	createdAt := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
	`, id, name, description, formatTime(createdAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}

	if err := insertSteps(ctx, tx, id, steps, s.newID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workflow: %w", err)
	}

	return s.GetWorkflow(ctx, id)
}

// UpdateWorkflow replaces the step sequence atomically: all existing steps
// are deleted and the provided list reinserted. Steps may carry an existing
// ID to preserve identity; absent IDs mean a fresh identifier. Name and
// description are updated only when non-nil.
func (s *Store) UpdateWorkflow(ctx context.Context, id string, name, description *string, steps []workflow.Step) (*workflow.Workflow, error) {
	if name != nil && *name == "" {
		return nil, &errors.ValidationError{Field: "name", Message: "workflow name cannot be empty"}
	}
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}

	if name != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET name = ? WHERE id = ?`, *name, id); err != nil {
			return nil, fmt.Errorf("failed to update workflow name: %w", err)
		}
	}
	if description != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET description = ? WHERE id = ?`, *description, id); err != nil {
			return nil, fmt.Errorf("failed to update workflow description: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_steps WHERE workflow_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete steps: %w", err)
	}
	if err := insertSteps(ctx, tx, id, steps, s.newID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workflow update: %w", err)
	}

	return s.GetWorkflow(ctx, id)
}

func insertSteps(ctx context.Context, tx *sql.Tx, workflowID string, steps []workflow.Step, newID func() string) error {
	for i := range steps {
		step := steps[i]
		if step.ID == "" {
			step.ID = newID()
		}
		configJSON, err := json.Marshal(step.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step config: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (id, workflow_id, name, kind, config, step_order)
			VALUES (?, ?, ?, ?, ?, ?)
		`, step.ID, workflowID, step.Name, step.Kind, configJSON, step.Order)
		if err != nil {
			return fmt.Errorf("failed to insert step: %w", err)
		}
	}
	return nil
}

// CreateRun creates a new pending run plus a pending step run for every step
// of the workflow, all in a single transaction.
func (s *Store) CreateRun(ctx context.Context, workflowID string) (*workflow.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM workflow_steps WHERE workflow_id = ? ORDER BY step_order ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	var stepIDs []string
	for rows.Next() {
		var stepID string
		if err := rows.Scan(&stepID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan step id: %w", err)
		}
		stepIDs = append(stepIDs, stepID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	rows.Close()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows WHERE id = ?`, workflowID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check workflow: %w", err)
	}
	if exists == 0 {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: workflowID}
	}

	runID := s.newID()
	createdAt := formatTime(s.now())

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`, runID, workflowID, workflow.StatusPending, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	for _, stepID := range stepIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_runs (id, workflow_run_id, workflow_step_id, status)
			VALUES (?, ?, ?, ?)
		`, s.newID(), runID, stepID, workflow.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("failed to insert step run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}

	return s.GetRun(ctx, runID)
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, created_at, started_at, finished_at
		FROM workflow_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	return run, err
}

func scanRun(r rowScanner) (*workflow.Run, error) {
	var run workflow.Run
	var createdAt string
	var startedAt, finishedAt sql.NullString
	if err := r.Scan(&run.ID, &run.WorkflowID, &run.Status, &createdAt, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run created_at: %w", err)
	}
	run.CreatedAt = t
	if run.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse run started_at: %w", err)
	}
	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse run finished_at: %w", err)
	}
	return &run, nil
}

// ListRuns returns the runs of a workflow, newest first.
func (s *Store) ListRuns(ctx context.Context, workflowID string) ([]*workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, created_at, started_at, finished_at
		FROM workflow_runs
		WHERE workflow_id = ?
		ORDER BY created_at DESC, id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListStepRuns returns the step runs of a run in step order. Step runs whose
// step definition has since been deleted sort last, in creation order.
func (s *Store) ListStepRuns(ctx context.Context, runID string) ([]workflow.StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.id, sr.workflow_run_id, sr.workflow_step_id, sr.status, sr.started_at, sr.finished_at
		FROM step_runs sr
		LEFT JOIN workflow_steps ws ON ws.id = sr.workflow_step_id
		WHERE sr.workflow_run_id = ?
		ORDER BY COALESCE(ws.step_order, 2147483647) ASC, sr.rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	defer rows.Close()

	var stepRuns []workflow.StepRun
	for rows.Next() {
		sr, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		stepRuns = append(stepRuns, *sr)
	}
	return stepRuns, rows.Err()
}

// GetStepRun retrieves a step run by ID.
func (s *Store) GetStepRun(ctx context.Context, id string) (*workflow.StepRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_run_id, workflow_step_id, status, started_at, finished_at
		FROM step_runs WHERE id = ?
	`, id)
	sr, err := scanStepRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "step run", ID: id}
	}
	return sr, err
}

func scanStepRun(r rowScanner) (*workflow.StepRun, error) {
	var sr workflow.StepRun
	var startedAt, finishedAt sql.NullString
	if err := r.Scan(&sr.ID, &sr.WorkflowRunID, &sr.WorkflowStepID, &sr.Status, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan step run: %w", err)
	}
	var err error
	if sr.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse step run started_at: %w", err)
	}
	if sr.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse step run finished_at: %w", err)
	}
	return &sr, nil
}

// SetRunStatus transitions a run's status atomically, setting started_at the
// first time the status becomes running and finished_at once on the first
// terminal transition. Terminal statuses are absorbing: the update is a no-op
// on a run already succeeded or failed, and changed reports false. Existing
// non-null timestamps are never overwritten.
func (s *Store) SetRunStatus(ctx context.Context, runID string, status workflow.Status) (run *workflow.Run, changed bool, err error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET
			status = ?,
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
			finished_at = CASE WHEN ? IN ('succeeded', 'failed') AND finished_at IS NULL THEN ? ELSE finished_at END
		WHERE id = ? AND status NOT IN ('succeeded', 'failed')
	`, status, status, now, status, now, runID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to set run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to set run status: %w", err)
	}

	run, err = s.GetRun(ctx, runID)
	if err != nil {
		return nil, false, err
	}
	return run, n > 0, nil
}

// SetStepRunStatus transitions a step run's status with the same timestamp
// and absorbing-terminal rules as SetRunStatus. The changed result is the
// store-level serialization point for concurrent manual completions: only
// one caller observes changed=true for a given terminal transition.
func (s *Store) SetStepRunStatus(ctx context.Context, stepRunID string, status workflow.Status) (stepRun *workflow.StepRun, changed bool, err error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_runs SET
			status = ?,
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
			finished_at = CASE WHEN ? IN ('succeeded', 'failed') AND finished_at IS NULL THEN ? ELSE finished_at END
		WHERE id = ? AND status NOT IN ('succeeded', 'failed')
	`, status, status, now, status, now, stepRunID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to set step run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to set step run status: %w", err)
	}

	stepRun, err = s.GetStepRun(ctx, stepRunID)
	if err != nil {
		return nil, false, err
	}
	return stepRun, n > 0, nil
}

// AppendEvent inserts a new immutable event with a fresh identifier and the
// current timestamp. stepRunID may be empty for run-scoped events.
func (s *Store) AppendEvent(ctx context.Context, runID, stepRunID string, eventType workflow.EventType, message string) (*workflow.Event, error) {
	event := workflow.Event{
		ID:            s.newID(),
		WorkflowRunID: runID,
		StepRunID:     stepRunID,
		Type:          eventType,
		Message:       message,
		CreatedAt:     s.now(),
	}

	var stepRunVal any
	if stepRunID != "" {
		stepRunVal = stepRunID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, workflow_run_id, step_run_id, type, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, runID, stepRunVal, eventType, message, formatTime(event.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	return &event, nil
}

// ListEvents returns the events of a run in creation order, using the
// insertion sequence as a stable tiebreak for identical timestamps.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]workflow.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_run_id, step_run_id, type, message, created_at
		FROM events
		WHERE workflow_run_id = ?
		ORDER BY created_at ASC, seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		var event workflow.Event
		var stepRunID sql.NullString
		var createdAt string
		if err := rows.Scan(&event.ID, &event.WorkflowRunID, &stepRunID, &event.Type, &event.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.StepRunID = stepRunID.String
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event created_at: %w", err)
		}
		event.CreatedAt = t
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetRunDetail loads a run snapshot with its step runs and events.
func (s *Store) GetRunDetail(ctx context.Context, runID string) (*workflow.RunDetail, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	stepRuns, err := s.ListStepRuns(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := s.ListEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &workflow.RunDetail{Run: *run, StepRuns: stepRuns, Events: events}, nil
}
