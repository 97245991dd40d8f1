package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteLogConfig configures the SQLite instance log.
type SQLiteLogConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes finished instances older than this duration
	// (0 = keep everything). Running and suspended instances are never pruned.
	RetentionAge time.Duration

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteLog persists flow node instances to a SQLite database. It satisfies
// the InstanceLog interface and supports WAL mode for concurrent read access
// and an optional background pruner goroutine.
type SQLiteLog struct {
	db   *sql.DB
	cfg  SQLiteLogConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteLog opens (or creates) a SQLite instance log.
func NewSQLiteLog(cfg SQLiteLogConfig) (*SQLiteLog, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitelog: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitelog: set WAL mode: %w", err)
	}

	// Create schema.
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitelog: create schema: %w", err)
	}

	l := &SQLiteLog{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 {
		go l.pruneLoop()
	} else {
		close(l.done)
	}

	return l, nil
}

func (l *SQLiteLog) PersistOnEnter(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, previousInstanceID string) error {
	now := time.Now().Format(time.RFC3339Nano)

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO flow_node_instances
		 (id, flow_node_id, flow_node_type, process_instance_id, process_model_id, correlation_id, previous_instance_id, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instanceID,
		flowNode.ID,
		string(flowNode.Type),
		token.ProcessInstanceID,
		token.ProcessModelID,
		token.CorrelationID,
		previousInstanceID,
		string(StateRunning),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlitelog: persist on enter: %w", err)
	}

	return l.insertToken(ctx, instanceID, StageOnEnter, token, now)
}

func (l *SQLiteLog) PersistOnSuspend(ctx context.Context, _ *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	return l.transition(ctx, instanceID, StateSuspended, StageOnSuspend, token, nil)
}

func (l *SQLiteLog) PersistOnResume(ctx context.Context, _ *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	return l.transition(ctx, instanceID, StateRunning, StageOnResume, token, nil)
}

func (l *SQLiteLog) PersistOnExit(ctx context.Context, _ *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	return l.transition(ctx, instanceID, StateFinished, StageOnExit, token, nil)
}

func (l *SQLiteLog) PersistOnTerminate(ctx context.Context, _ *model.FlowNode, instanceID string, _ *core.ProcessToken) error {
	return l.transition(ctx, instanceID, StateTerminated, "", nil, nil)
}

func (l *SQLiteLog) PersistOnError(ctx context.Context, _ *model.FlowNode, instanceID string, _ *core.ProcessToken, cause error) error {
	return l.transition(ctx, instanceID, StateError, "", nil, NewInstanceError(cause))
}

func (l *SQLiteLog) transition(ctx context.Context, instanceID string, state State, stage Stage, token *core.ProcessToken, instErr *InstanceError) error {
	now := time.Now().Format(time.RFC3339Nano)

	var result sql.Result
	var err error
	if instErr != nil {
		result, err = l.db.ExecContext(ctx,
			`UPDATE flow_node_instances
			 SET state = ?, error_name = ?, error_code = ?, error_message = ?, updated_at = ?
			 WHERE id = ?`,
			string(state), instErr.Name, instErr.Code, instErr.Message, now, instanceID,
		)
	} else {
		result, err = l.db.ExecContext(ctx,
			`UPDATE flow_node_instances SET state = ?, updated_at = ? WHERE id = ?`,
			string(state), now, instanceID,
		)
	}
	if err != nil {
		return fmt.Errorf("sqlitelog: transition to %s: %w", state, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitelog: transition to %s: %w", state, err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlitelog: %w: %s", ErrInstanceNotFound, instanceID)
	}

	if stage != "" && token != nil {
		return l.insertToken(ctx, instanceID, stage, token, now)
	}
	return nil
}

func (l *SQLiteLog) insertToken(ctx context.Context, instanceID string, stage Stage, token *core.ProcessToken, now string) error {
	payloadJSON, err := json.Marshal(token.Payload)
	if err != nil {
		return fmt.Errorf("sqlitelog: marshal payload: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO process_tokens (instance_id, stage, payload, caller, identity_user_id, identity_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		instanceID,
		string(stage),
		string(payloadJSON),
		token.Caller,
		token.Identity.UserID,
		token.Identity.Token,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlitelog: insert token: %w", err)
	}
	return nil
}

func (l *SQLiteLog) QueryActive(ctx context.Context) ([]*FlowNodeInstance, error) {
	return l.queryInstances(ctx,
		`SELECT id, flow_node_id, flow_node_type, process_instance_id, process_model_id, correlation_id, previous_instance_id, state, error_name, error_code, error_message, created_at, updated_at
		 FROM flow_node_instances WHERE state IN (?, ?) ORDER BY created_at ASC`,
		string(StateRunning), string(StateSuspended),
	)
}

func (l *SQLiteLog) QueryByProcessModel(ctx context.Context, processModelID string) ([]*FlowNodeInstance, error) {
	return l.queryInstances(ctx,
		`SELECT id, flow_node_id, flow_node_type, process_instance_id, process_model_id, correlation_id, previous_instance_id, state, error_name, error_code, error_message, created_at, updated_at
		 FROM flow_node_instances WHERE process_model_id = ? ORDER BY created_at ASC`,
		processModelID,
	)
}

func (l *SQLiteLog) QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*FlowNodeInstance, error) {
	return l.queryInstances(ctx,
		`SELECT id, flow_node_id, flow_node_type, process_instance_id, process_model_id, correlation_id, previous_instance_id, state, error_name, error_code, error_message, created_at, updated_at
		 FROM flow_node_instances WHERE process_instance_id = ? ORDER BY created_at ASC`,
		processInstanceID,
	)
}

func (l *SQLiteLog) queryInstances(ctx context.Context, query string, args ...any) ([]*FlowNodeInstance, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitelog: query instances: %w", err)
	}
	defer rows.Close()

	instances, err := scanInstances(rows)
	if err != nil {
		return nil, err
	}

	for _, instance := range instances {
		if err := l.loadTokens(ctx, instance); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

func (l *SQLiteLog) loadTokens(ctx context.Context, instance *FlowNodeInstance) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT stage, payload, caller, identity_user_id, identity_token, created_at
		 FROM process_tokens WHERE instance_id = ? ORDER BY id ASC`,
		instance.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlitelog: load tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stage       string
			payloadJSON string
			snapshot    TokenSnapshot
			timeStr     string
		)
		err := rows.Scan(&stage, &payloadJSON, &snapshot.Caller, &snapshot.Identity.UserID, &snapshot.Identity.Token, &timeStr)
		if err != nil {
			return fmt.Errorf("sqlitelog: scan token: %w", err)
		}

		snapshot.Stage = Stage(stage)
		if payloadJSON != "" && payloadJSON != "null" {
			if err := json.Unmarshal([]byte(payloadJSON), &snapshot.Payload); err != nil {
				return fmt.Errorf("sqlitelog: unmarshal payload: %w", err)
			}
		}

		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return fmt.Errorf("sqlitelog: parse time %q: %w", timeStr, err)
		}
		snapshot.CreatedAt = t

		instance.Tokens = append(instance.Tokens, snapshot)
	}
	return rows.Err()
}

func scanInstances(rows *sql.Rows) ([]*FlowNodeInstance, error) {
	var instances []*FlowNodeInstance
	for rows.Next() {
		var (
			instance     FlowNodeInstance
			flowNodeType string
			state        string
			errName      string
			errCode      string
			errMessage   string
			createdStr   string
			updatedStr   string
		)
		err := rows.Scan(
			&instance.ID,
			&instance.FlowNodeID,
			&flowNodeType,
			&instance.ProcessInstanceID,
			&instance.ProcessModelID,
			&instance.CorrelationID,
			&instance.PreviousInstanceID,
			&state,
			&errName,
			&errCode,
			&errMessage,
			&createdStr,
			&updatedStr,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlitelog: scan instance: %w", err)
		}

		instance.FlowNodeType = model.NodeType(flowNodeType)
		instance.State = State(state)
		if instance.State == StateError {
			instance.Error = &InstanceError{Name: errName, Code: errCode, Message: errMessage}
		}

		created, err := time.Parse(time.RFC3339Nano, createdStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitelog: parse time %q: %w", createdStr, err)
		}
		updated, err := time.Parse(time.RFC3339Nano, updatedStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitelog: parse time %q: %w", updatedStr, err)
		}
		instance.CreatedAt = created
		instance.UpdatedAt = updated

		instances = append(instances, &instance)
	}
	return instances, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (l *SQLiteLog) Close() error {
	select {
	case <-l.stop:
		// Already closed.
	default:
		close(l.stop)
	}
	<-l.done
	return l.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (l *SQLiteLog) Prune(ctx context.Context) error {
	if l.cfg.RetentionAge <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-l.cfg.RetentionAge).Format(time.RFC3339Nano)

	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM process_tokens WHERE instance_id IN (
			SELECT id FROM flow_node_instances
			WHERE state NOT IN (?, ?) AND updated_at < ?
		)`,
		string(StateRunning), string(StateSuspended), cutoff,
	); err != nil {
		return fmt.Errorf("sqlitelog: prune tokens: %w", err)
	}

	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM flow_node_instances WHERE state NOT IN (?, ?) AND updated_at < ?`,
		string(StateRunning), string(StateSuspended), cutoff,
	); err != nil {
		return fmt.Errorf("sqlitelog: prune instances: %w", err)
	}
	return nil
}

func (l *SQLiteLog) pruneLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			_ = l.Prune(context.Background())
		}
	}
}

// Compile-time interface check.
var _ InstanceLog = (*SQLiteLog)(nil)
