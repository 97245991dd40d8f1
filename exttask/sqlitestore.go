package exttask

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore persists external tasks to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite external task store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("exttask sqlite: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("exttask sqlite: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("exttask sqlite: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, task *Task) error {
	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("exttask sqlite: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO external_tasks
		 (id, topic, flow_node_id, flow_node_instance_id, process_instance_id, process_model_id, correlation_id, payload, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Topic,
		task.FlowNodeID,
		task.FlowNodeInstanceID,
		task.ProcessInstanceID,
		task.ProcessModelID,
		task.CorrelationID,
		string(payloadJSON),
		string(StatePending),
		time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("exttask sqlite: insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, flow_node_id, flow_node_instance_id, process_instance_id, process_model_id, correlation_id, payload, result, error_message, state, worker_id, lock_expires_at, created_at, finished_at
		 FROM external_tasks WHERE id = ?`, taskID)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("exttask sqlite: %w: %s", ErrTaskNotFound, taskID)
	}
	return task, err
}

func (s *SQLiteStore) GetByFlowNodeInstance(ctx context.Context, flowNodeInstanceID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, flow_node_id, flow_node_instance_id, process_instance_id, process_model_id, correlation_id, payload, result, error_message, state, worker_id, lock_expires_at, created_at, finished_at
		 FROM external_tasks WHERE flow_node_instance_id = ? ORDER BY created_at DESC LIMIT 1`, flowNodeInstanceID)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("exttask sqlite: %w: flow node instance %s", ErrTaskNotFound, flowNodeInstanceID)
	}
	return task, err
}

func (s *SQLiteStore) FetchAndLock(ctx context.Context, topic, workerID string, maxTasks int, lockUntil time.Time) ([]*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("exttask sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Format(time.RFC3339Nano)
	query := `SELECT id FROM external_tasks
	          WHERE topic = ? AND (state = ? OR (state = ? AND lock_expires_at < ?))
	          ORDER BY created_at ASC`
	args := []any{topic, string(StatePending), string(StateLocked), now}
	if maxTasks > 0 {
		query += " LIMIT ?"
		args = append(args, maxTasks)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exttask sqlite: fetch: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("exttask sqlite: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exttask sqlite: fetch rows: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE external_tasks SET state = ?, worker_id = ?, lock_expires_at = ? WHERE id = ?`,
			string(StateLocked), workerID, lockUntil.Format(time.RFC3339Nano), id,
		); err != nil {
			return nil, fmt.Errorf("exttask sqlite: lock %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("exttask sqlite: commit: %w", err)
	}

	var claimed []*Task
	for _, id := range ids {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}

func (s *SQLiteStore) MarkFinished(ctx context.Context, taskID string, result any) (*Task, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("exttask sqlite: marshal result: %w", err)
	}

	return s.complete(ctx, taskID,
		`UPDATE external_tasks SET state = ?, result = ?, finished_at = ? WHERE id = ?`,
		string(StateFinished), string(resultJSON), time.Now().Format(time.RFC3339Nano), taskID)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, taskID string, message string) (*Task, error) {
	return s.complete(ctx, taskID,
		`UPDATE external_tasks SET state = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(StateFailed), message, time.Now().Format(time.RFC3339Nano), taskID)
}

func (s *SQLiteStore) complete(ctx context.Context, taskID, query string, args ...any) (*Task, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exttask sqlite: complete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("exttask sqlite: complete: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("exttask sqlite: %w: %s", ErrTaskNotFound, taskID)
	}
	return s.Get(ctx, taskID)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task        Task
		payloadJSON string
		resultJSON  string
		state       string
		lockStr     string
		createdStr  string
		finishedStr string
	)
	err := row.Scan(
		&task.ID,
		&task.Topic,
		&task.FlowNodeID,
		&task.FlowNodeInstanceID,
		&task.ProcessInstanceID,
		&task.ProcessModelID,
		&task.CorrelationID,
		&payloadJSON,
		&resultJSON,
		&task.ErrorMessage,
		&state,
		&task.WorkerID,
		&lockStr,
		&createdStr,
		&finishedStr,
	)
	if err != nil {
		return nil, err
	}

	task.State = State(state)
	if payloadJSON != "" && payloadJSON != "null" {
		if err := json.Unmarshal([]byte(payloadJSON), &task.Payload); err != nil {
			return nil, fmt.Errorf("exttask sqlite: unmarshal payload: %w", err)
		}
	}
	if resultJSON != "" && resultJSON != "null" {
		if err := json.Unmarshal([]byte(resultJSON), &task.Result); err != nil {
			return nil, fmt.Errorf("exttask sqlite: unmarshal result: %w", err)
		}
	}

	for _, pair := range []struct {
		value string
		dest  *time.Time
	}{
		{lockStr, &task.LockExpiresAt},
		{createdStr, &task.CreatedAt},
		{finishedStr, &task.FinishedAt},
	} {
		if pair.value == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, pair.value)
		if err != nil {
			return nil, fmt.Errorf("exttask sqlite: parse time %q: %w", pair.value, err)
		}
		*pair.dest = t
	}

	return &task, nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
