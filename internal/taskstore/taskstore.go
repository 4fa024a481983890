// Package taskstore persists generation task records so task state
// survives worker restarts. It speaks database/sql with either the sqlite
// or postgres driver selected by configuration.
package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Drivers are selected by name at open time.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// ErrTaskNotFound indicates no record matched the task ID.
var ErrTaskNotFound = errors.New("task not found")

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Record is one durable task row.
type Record struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Queue         string     `json:"queue"`
	Status        Status     `json:"status"`
	Progress      float64    `json:"progress"`
	RequestedDocs []string   `json:"requested_docs"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Store persists task records.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS generation_tasks (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	queue          TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	progress       REAL NOT NULL DEFAULT 0,
	requested_docs TEXT NOT NULL DEFAULT '[]',
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL,
	completed_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_generation_tasks_project ON generation_tasks (project_id);
CREATE INDEX IF NOT EXISTS idx_generation_tasks_status ON generation_tasks (status);
`

// Open connects with the given driver ("sqlite3" or "postgres") and
// ensures the schema exists.
func Open(driver, dsn string, logger *observability.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping task store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new task record.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	docs, err := json.Marshal(rec.RequestedDocs)
	if err != nil {
		return fmt.Errorf("marshal requested docs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generation_tasks (id, project_id, queue, status, progress, requested_docs, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ProjectID, rec.Queue, rec.Status, rec.Progress, string(docs), rec.Error, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateProgress records progress and status for a running task.
func (s *Store) UpdateProgress(ctx context.Context, id string, status Status, progress float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET status = $1, progress = $2, updated_at = $3 WHERE id = $4`,
		status, progress, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// Finish records a terminal status, error text, and completion time.
func (s *Store) Finish(ctx context.Context, id string, status Status, errText string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET status = $1, error = $2, updated_at = $3, completed_at = $4 WHERE id = $5`,
		status, errText, now, now, id)
	if err != nil {
		return fmt.Errorf("finish task %s: %w", id, err)
	}
	return checkAffected(res, id)
}

// Get returns one task record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, queue, status, progress, requested_docs, error, created_at, updated_at, completed_at
		 FROM generation_tasks WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get task %s: %w", id, ErrTaskNotFound)
	}
	return rec, err
}

// ListForProject returns a project's tasks, newest first.
func (s *Store) ListForProject(ctx context.Context, projectID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, queue, status, progress, requested_docs, error, created_at, updated_at, completed_at
		 FROM generation_tasks WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// FailRunning marks every running task failed with the given reason.
// Called on startup so crashed workers leave no task stuck in running.
func (s *Store) FailRunning(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET status = $1, error = $2, updated_at = $3, completed_at = $4 WHERE status = $5`,
		StatusFailed, reason, now, now, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fail running tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("marked orphaned running tasks as failed")
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*Record, error) {
	var rec Record
	var docs string
	var completed sql.NullTime
	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.Queue, &rec.Status, &rec.Progress,
		&docs, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(docs), &rec.RequestedDocs); err != nil {
		return nil, fmt.Errorf("decode requested docs for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return nil
}
