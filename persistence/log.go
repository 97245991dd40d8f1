package persistence

import (
	"context"
	"errors"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
)

// ErrInstanceNotFound is returned by persistence hooks that require an
// existing flow node instance record.
var ErrInstanceNotFound = errors.New("flow node instance not found")

// InstanceLog is the read/write contract the engine requires from the store
// behind the instance log. Implementations must keep every record and every
// token snapshot; resumption depends on the full staged history.
type InstanceLog interface {
	// PersistOnEnter creates the instance record in running state and
	// records the onEnter token snapshot.
	PersistOnEnter(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, previousInstanceID string) error

	// PersistOnSuspend moves the instance to suspended and records the
	// onSuspend token snapshot.
	PersistOnSuspend(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error

	// PersistOnResume moves the instance back to running and records the
	// onResume token snapshot.
	PersistOnResume(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error

	// PersistOnExit finishes the instance and records the onExit snapshot.
	PersistOnExit(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error

	// PersistOnTerminate marks the instance terminated.
	PersistOnTerminate(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error

	// PersistOnError marks the instance failed with the given cause.
	PersistOnError(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, cause error) error

	// QueryActive returns all instances in running or suspended state.
	QueryActive(ctx context.Context) ([]*FlowNodeInstance, error)

	// QueryByProcessModel returns all instances of the given process model.
	QueryByProcessModel(ctx context.Context, processModelID string) ([]*FlowNodeInstance, error)

	// QueryByProcessInstance returns all instances of one process instance,
	// ordered by creation time.
	QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*FlowNodeInstance, error)
}
