package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
)

// MemLog is a thread-safe in-memory instance log.
type MemLog struct {
	mu        sync.RWMutex
	instances map[string]*FlowNodeInstance // instance id -> record
	order     []string                     // instance ids in creation order
}

// NewMemLog creates a new in-memory instance log.
func NewMemLog() *MemLog {
	return &MemLog{
		instances: make(map[string]*FlowNodeInstance),
	}
}

func (l *MemLog) PersistOnEnter(_ context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, previousInstanceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.instances[instanceID]; exists {
		return fmt.Errorf("memlog: instance %s already entered", instanceID)
	}

	now := time.Now()
	l.instances[instanceID] = &FlowNodeInstance{
		ID:                 instanceID,
		FlowNodeID:         flowNode.ID,
		FlowNodeType:       flowNode.Type,
		ProcessInstanceID:  token.ProcessInstanceID,
		ProcessModelID:     token.ProcessModelID,
		CorrelationID:      token.CorrelationID,
		PreviousInstanceID: previousInstanceID,
		State:              StateRunning,
		Tokens:             []TokenSnapshot{snapshotOf(StageOnEnter, token, now)},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	l.order = append(l.order, instanceID)
	return nil
}

func (l *MemLog) PersistOnSuspend(_ context.Context, _ *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	return l.transition(instanceID, StateSuspended, StageOnSuspend, token, nil)
}

func (l *MemLog) PersistOnResume(_ context.Context, _ *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	return l.transition(instanceID, StateRunning, StageOnResume, token, nil)
}

func (l *MemLog) PersistOnExit(_ context.Context, _ *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	return l.transition(instanceID, StateFinished, StageOnExit, token, nil)
}

func (l *MemLog) PersistOnTerminate(_ context.Context, _ *model.FlowNode, instanceID string, _ *core.ProcessToken) error {
	return l.transition(instanceID, StateTerminated, "", nil, nil)
}

func (l *MemLog) PersistOnError(_ context.Context, _ *model.FlowNode, instanceID string, _ *core.ProcessToken, cause error) error {
	return l.transition(instanceID, StateError, "", nil, NewInstanceError(cause))
}

// transition updates an instance's state, optionally recording a token
// snapshot and a persisted error.
func (l *MemLog) transition(instanceID string, state State, stage Stage, token *core.ProcessToken, instErr *InstanceError) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	instance, ok := l.instances[instanceID]
	if !ok {
		return fmt.Errorf("memlog: %w: %s", ErrInstanceNotFound, instanceID)
	}

	now := time.Now()
	instance.State = state
	instance.UpdatedAt = now
	if instErr != nil {
		instance.Error = instErr
	}
	if stage != "" && token != nil {
		instance.Tokens = append(instance.Tokens, snapshotOf(stage, token, now))
	}
	return nil
}

func (l *MemLog) QueryActive(_ context.Context) ([]*FlowNodeInstance, error) {
	return l.query(func(i *FlowNodeInstance) bool { return i.IsActive() }), nil
}

func (l *MemLog) QueryByProcessModel(_ context.Context, processModelID string) ([]*FlowNodeInstance, error) {
	return l.query(func(i *FlowNodeInstance) bool { return i.ProcessModelID == processModelID }), nil
}

func (l *MemLog) QueryByProcessInstance(_ context.Context, processInstanceID string) ([]*FlowNodeInstance, error) {
	return l.query(func(i *FlowNodeInstance) bool { return i.ProcessInstanceID == processInstanceID }), nil
}

// query returns copies of matching instances in creation order.
func (l *MemLog) query(match func(*FlowNodeInstance) bool) []*FlowNodeInstance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*FlowNodeInstance
	for _, id := range l.order {
		instance := l.instances[id]
		if match(instance) {
			result = append(result, copyInstance(instance))
		}
	}
	return result
}

func snapshotOf(stage Stage, token *core.ProcessToken, at time.Time) TokenSnapshot {
	return TokenSnapshot{
		Stage:     stage,
		Payload:   token.Payload,
		Caller:    token.Caller,
		Identity:  token.Identity,
		CreatedAt: at,
	}
}

func copyInstance(instance *FlowNodeInstance) *FlowNodeInstance {
	clone := *instance
	clone.Tokens = make([]TokenSnapshot, len(instance.Tokens))
	copy(clone.Tokens, instance.Tokens)
	return &clone
}

// Compile-time interface check.
var _ InstanceLog = (*MemLog)(nil)
