package exttask

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is a thread-safe in-memory external task store.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

// NewMemStore creates a new in-memory external task store.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks: make(map[string]*Task),
	}
}

func (s *MemStore) Insert(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("memstore: task %s already exists", task.ID)
	}

	clone := *task
	clone.State = StatePending
	clone.CreatedAt = time.Now()
	s.tasks[task.ID] = &clone
	s.order = append(s.order, task.ID)
	return nil
}

func (s *MemStore) Get(_ context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", ErrTaskNotFound, taskID)
	}
	clone := *task
	return &clone, nil
}

func (s *MemStore) GetByFlowNodeInstance(_ context.Context, flowNodeInstanceID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		task := s.tasks[s.order[i]]
		if task.FlowNodeInstanceID == flowNodeInstanceID {
			clone := *task
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("memstore: %w: flow node instance %s", ErrTaskNotFound, flowNodeInstanceID)
}

func (s *MemStore) FetchAndLock(_ context.Context, topic, workerID string, maxTasks int, lockUntil time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var claimed []*Task
	for _, id := range s.order {
		if maxTasks > 0 && len(claimed) >= maxTasks {
			break
		}
		task := s.tasks[id]
		if task.Topic != topic {
			continue
		}
		lockExpired := task.State == StateLocked && task.LockExpiresAt.Before(now)
		if task.State != StatePending && !lockExpired {
			continue
		}

		task.State = StateLocked
		task.WorkerID = workerID
		task.LockExpiresAt = lockUntil

		clone := *task
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (s *MemStore) MarkFinished(_ context.Context, taskID string, result any) (*Task, error) {
	return s.complete(taskID, StateFinished, result, "")
}

func (s *MemStore) MarkFailed(_ context.Context, taskID string, message string) (*Task, error) {
	return s.complete(taskID, StateFailed, nil, message)
}

func (s *MemStore) complete(taskID string, state State, result any, message string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %s", ErrTaskNotFound, taskID)
	}

	task.State = state
	task.Result = result
	task.ErrorMessage = message
	task.FinishedAt = time.Now()

	clone := *task
	return &clone, nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
