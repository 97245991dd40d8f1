// Package exttask manages external service tasks: work items created by the
// engine for a worker topic, fetched and locked by polling workers, and
// finished or failed with a result that resumes the waiting handler.
package exttask

import (
	"context"
	"errors"
	"time"
)

// State is the life-cycle state of an external task.
type State string

const (
	StatePending  State = "pending"
	StateLocked   State = "locked"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Task is one unit of external work.
type Task struct {
	ID                 string
	Topic              string
	FlowNodeID         string
	FlowNodeInstanceID string
	ProcessInstanceID  string
	ProcessModelID     string
	CorrelationID      string
	Payload            any
	Result             any
	ErrorMessage       string
	State              State
	WorkerID           string
	LockExpiresAt      time.Time
	CreatedAt          time.Time
	FinishedAt         time.Time
}

// ErrTaskNotFound is returned for operations on unknown task ids.
var ErrTaskNotFound = errors.New("external task not found")

// Store is the persistence contract for external tasks.
type Store interface {
	// Insert stores a new pending task.
	Insert(ctx context.Context, task *Task) error

	// Get returns the task with the given id.
	Get(ctx context.Context, taskID string) (*Task, error)

	// GetByFlowNodeInstance returns the latest task created for the given
	// flow node instance. Used by resumed handlers to learn about results
	// that arrived while the engine was down.
	GetByFlowNodeInstance(ctx context.Context, flowNodeInstanceID string) (*Task, error)

	// FetchAndLock atomically claims up to maxTasks pending tasks of the
	// topic for the worker. Tasks whose lock expired count as pending.
	FetchAndLock(ctx context.Context, topic, workerID string, maxTasks int, lockUntil time.Time) ([]*Task, error)

	// MarkFinished stores the result and finishes the task.
	MarkFinished(ctx context.Context, taskID string, result any) (*Task, error)

	// MarkFailed stores the failure message and fails the task.
	MarkFailed(ctx context.Context, taskID string, message string) (*Task, error)
}
