package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/exttask"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/token"
)

// scriptTaskHandler evaluates the task expression against the token view;
// the result becomes the new payload.
type scriptTaskHandler struct {
	*baseHandler
}

func newScriptTaskHandler(node *model.FlowNode, s *session) *scriptTaskHandler {
	h := &scriptTaskHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *scriptTaskHandler) executeInternally(_ context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	node := h.flowNode
	if node.Expression == "" {
		return nil, core.NewConfigurationError(node.ID, "script task has no expression")
	}

	result, err := h.session.deps.Evaluator.Evaluate(node.Expression, tf.GetOldTokenFormat())
	if err != nil {
		return nil, fmt.Errorf("script task %s: %w", node.ID, err)
	}

	next := t.Clone()
	next.Payload = result
	return h.proceed(next, tf, mf)
}

// internalServiceTaskHandler invokes a registered service method in-process.
// The optional params expression is evaluated against the token view; without
// one the current payload is passed through.
type internalServiceTaskHandler struct {
	*baseHandler
}

func newInternalServiceTaskHandler(node *model.FlowNode, s *session) *internalServiceTaskHandler {
	h := &internalServiceTaskHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *internalServiceTaskHandler) executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	node := h.flowNode
	if node.Invocation == nil {
		return nil, core.NewConfigurationError(node.ID, "service task has no invocation")
	}

	method, err := h.session.deps.Registry.Lookup(node.Invocation.Module, node.Invocation.Method)
	if err != nil {
		return nil, err
	}

	params := t.Payload
	if node.Invocation.Params != "" {
		params, err = h.session.deps.Evaluator.Evaluate(node.Invocation.Params, tf.GetOldTokenFormat())
		if err != nil {
			return nil, core.NewConfigurationError(node.ID, "params expression failed: %v", err)
		}
	}

	result, err := method(ctx, t.Identity, params)
	if err != nil {
		return nil, err
	}

	next := t.Clone()
	next.Payload = result
	return h.proceed(next, tf, mf)
}

// externalServiceTaskHandler hands the work to a polling worker: it creates
// an external task for the node's topic, suspends, and waits for the worker
// to finish or fail it.
type externalServiceTaskHandler struct {
	*baseHandler
}

func newExternalServiceTaskHandler(node *model.FlowNode, s *session) *externalServiceTaskHandler {
	h := &externalServiceTaskHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *externalServiceTaskHandler) executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	node := h.flowNode
	if node.Topic == "" {
		return nil, core.NewConfigurationError(node.ID, "external service task has no worker topic")
	}

	// Subscribe before creating the task so a fast worker cannot slip in
	// between creation and subscription.
	sub := h.session.deps.Bus.SubscribeOnce(bus.ExternalTaskFinishedTopic(h.instanceID))
	defer func() { _ = sub.Close() }()

	if _, err := h.session.deps.ExternalTasks.Create(ctx, node.Topic, node.ID, t); err != nil {
		return nil, err
	}
	if err := h.suspend(ctx, t); err != nil {
		return nil, err
	}
	return h.awaitResult(ctx, t, tf, mf, sub)
}

// resumeSuspended re-enters the wait. The task may have been finished by a
// worker while the engine was down; the store is the source of truth then.
func (h *externalServiceTaskHandler) resumeSuspended(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	sub := h.session.deps.Bus.SubscribeOnce(bus.ExternalTaskFinishedTopic(h.instanceID))
	defer func() { _ = sub.Close() }()

	task, err := h.session.deps.ExternalTasks.ByFlowNodeInstance(ctx, h.instanceID)
	if err == nil {
		switch task.State {
		case exttask.StateFinished:
			return h.completeWith(ctx, t, tf, mf, task.Result)
		case exttask.StateFailed:
			if _, lerr := h.liftSuspension(ctx, t, nil); lerr != nil {
				return nil, lerr
			}
			return nil, errors.New(task.ErrorMessage)
		}
	}
	return h.awaitResult(ctx, t, tf, mf, sub)
}

func (h *externalServiceTaskHandler) awaitResult(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, sub bus.Subscription) (*Outcome, error) {
	select {
	case msg, ok := <-sub.Events():
		if !ok {
			return nil, fmt.Errorf("engine: event bus closed while %s waited for its worker", h.flowNode.ID)
		}
		if msg.Err != nil {
			if _, err := h.liftSuspension(ctx, t, nil); err != nil {
				return nil, err
			}
			return nil, msg.Err
		}
		return h.completeWith(ctx, t, tf, mf, msg.Payload)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *externalServiceTaskHandler) completeWith(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, result any) (*Outcome, error) {
	resumed, err := h.liftSuspension(ctx, t, result)
	if err != nil {
		return nil, err
	}
	return h.proceed(resumed, tf, mf)
}

// userTaskHandler suspends until a human (or the API acting for one)
// finishes the task with a result payload.
type userTaskHandler struct {
	*baseHandler
}

func newUserTaskHandler(node *model.FlowNode, s *session) *userTaskHandler {
	h := &userTaskHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *userTaskHandler) executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	if err := h.suspend(ctx, t); err != nil {
		return nil, err
	}
	return h.awaitCompletion(ctx, t, tf, mf)
}

func (h *userTaskHandler) resumeSuspended(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	return h.awaitCompletion(ctx, t, tf, mf)
}

func (h *userTaskHandler) awaitCompletion(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	sub := h.session.deps.Bus.SubscribeOnce(bus.UserTaskFinishedTopic(h.instanceID))
	defer func() { _ = sub.Close() }()

	h.session.deps.Bus.Publish(bus.UserTaskWaitingTopic(t.CorrelationID, t.ProcessModelID), bus.Message{
		CorrelationID:      t.CorrelationID,
		ProcessModelID:     t.ProcessModelID,
		ProcessInstanceID:  t.ProcessInstanceID,
		FlowNodeID:         h.flowNode.ID,
		FlowNodeInstanceID: h.instanceID,
		Payload:            t.Payload,
		CreatedAt:          time.Now(),
	})

	select {
	case msg, ok := <-sub.Events():
		if !ok {
			return nil, fmt.Errorf("engine: event bus closed while user task %s waited", h.flowNode.ID)
		}
		resumed, err := h.liftSuspension(ctx, t, msg.Payload)
		if err != nil {
			return nil, err
		}
		return h.proceed(resumed, tf, mf)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
