package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/token"
)

// startEventHandler begins a process instance. Timer, message and signal
// start definitions govern when an instance is created; once a token exists
// the start event is a pass-through.
type startEventHandler struct {
	*baseHandler
}

func newStartEventHandler(node *model.FlowNode, s *session) *startEventHandler {
	h := &startEventHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *startEventHandler) executeInternally(_ context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	return h.proceed(t, tf, mf)
}

// endEventHandler finishes a branch. The event definition selects the
// variant: terminate aborts the whole instance, error raises a business
// error, message and signal publish before the reached notifications.
type endEventHandler struct {
	*baseHandler
}

func newEndEventHandler(node *model.FlowNode, s *session) *endEventHandler {
	h := &endEventHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *endEventHandler) executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, _ *model.Facade) (*Outcome, error) {
	node := h.flowNode

	switch {
	case node.TerminateDefinition != nil:
		if err := h.session.deps.Persistence.PersistOnTerminate(ctx, node, h.instanceID, t); err != nil {
			return nil, err
		}
		h.finalStateRecorded = true
		tf.AddResultForFlowNode(node.ID, h.instanceID, t.Payload)
		h.publishReached(t)
		h.session.deps.Bus.Publish(bus.ProcessInstanceTerminatedTopic(t.ProcessInstanceID), h.message(t, t.Payload))
		h.session.markTerminated()
		return &Outcome{Token: t, TokenFacade: tf}, nil

	case node.ErrorDefinition != nil:
		def := node.ErrorDefinition
		cause := &core.BusinessError{Name: def.Name, Code: def.Code, Message: def.Message}
		if err := h.session.deps.Persistence.PersistOnExit(ctx, node, h.instanceID, t); err != nil {
			return nil, err
		}
		h.finalStateRecorded = true
		tf.AddResultForFlowNode(node.ID, h.instanceID, errorPayload(cause))
		return nil, cause
	}

	return &Outcome{Token: t, TokenFacade: tf}, nil
}

// afterExit runs once the exit is persisted: throw definitions first, then
// the reached notifications awaited by callers.
func (h *endEventHandler) afterExit(_ context.Context, t *core.ProcessToken, _ *token.Facade) {
	node := h.flowNode
	switch {
	case node.MessageDefinition != nil:
		h.session.deps.Bus.Publish(bus.MessageTopic(node.MessageDefinition.Name), h.message(t, t.Payload))
	case node.SignalDefinition != nil:
		h.session.deps.Bus.Publish(bus.SignalTopic(node.SignalDefinition.Name), h.message(t, t.Payload))
	}
	h.publishReached(t)
}

// publishReached announces the end event. Sub-process runs report back to
// their spawning node instance instead of the instance-level topics.
func (h *endEventHandler) publishReached(t *core.ProcessToken) {
	msg := h.message(t, t.Payload)
	if t.Caller != "" {
		h.session.deps.Bus.Publish(bus.SubProcessEndedTopic(t.Caller), msg)
		return
	}
	h.session.deps.Bus.Publish(bus.EndEventReachedTopic(t.CorrelationID, t.ProcessModelID), msg)
	h.session.deps.Bus.Publish(bus.SpecificEndEventReachedTopic(t.CorrelationID, t.ProcessModelID, h.flowNode.ID), msg)
}

func (h *endEventHandler) message(t *core.ProcessToken, payload any) bus.Message {
	return bus.Message{
		CorrelationID:      t.CorrelationID,
		ProcessModelID:     t.ProcessModelID,
		ProcessInstanceID:  t.ProcessInstanceID,
		FlowNodeID:         h.flowNode.ID,
		FlowNodeInstanceID: h.instanceID,
		Payload:            payload,
		CreatedAt:          time.Now(),
	}
}

// intermediateCatchHandler suspends the branch until its event arrives:
// a timer firing, a matching message or a matching signal. An event without
// any definition passes through immediately.
type intermediateCatchHandler struct {
	*baseHandler
}

func newIntermediateCatchHandler(node *model.FlowNode, s *session) *intermediateCatchHandler {
	h := &intermediateCatchHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *intermediateCatchHandler) executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	return h.await(ctx, t, tf, mf, true)
}

func (h *intermediateCatchHandler) resumeSuspended(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	return h.await(ctx, t, tf, mf, false)
}

func (h *intermediateCatchHandler) await(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, persistSuspend bool) (*Outcome, error) {
	node := h.flowNode
	switch {
	case node.TimerDefinition != nil:
		return h.awaitTimer(ctx, t, tf, mf, persistSuspend)
	case node.MessageDefinition != nil:
		return h.awaitTopic(ctx, t, tf, mf, bus.MessageTopic(node.MessageDefinition.Name), persistSuspend)
	case node.SignalDefinition != nil:
		return h.awaitTopic(ctx, t, tf, mf, bus.SignalTopic(node.SignalDefinition.Name), persistSuspend)
	}
	// Empty event: a modelling no-op.
	return h.proceed(t, tf, mf)
}

// awaitTimer re-arms the full timer on resumption; elapsed wait time before
// a crash is not credited.
func (h *intermediateCatchHandler) awaitTimer(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, persistSuspend bool) (*Outcome, error) {
	if persistSuspend {
		if err := h.suspend(ctx, t); err != nil {
			return nil, err
		}
	}

	fired := make(chan struct{}, 1)
	cancel, err := h.session.deps.Timer.Start(h.flowNode, h.flowNode.TimerDefinition, tf.GetOldTokenFormat(), func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	select {
	case <-fired:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	resumed, err := h.liftSuspension(ctx, t, nil)
	if err != nil {
		return nil, err
	}
	return h.proceed(resumed, tf, mf)
}

func (h *intermediateCatchHandler) awaitTopic(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, topic string, persistSuspend bool) (*Outcome, error) {
	sub := h.session.deps.Bus.SubscribeOnce(topic)
	defer func() { _ = sub.Close() }()

	if persistSuspend {
		if err := h.suspend(ctx, t); err != nil {
			return nil, err
		}
	}

	select {
	case msg, ok := <-sub.Events():
		if !ok {
			return nil, fmt.Errorf("engine: event bus closed while %s waited on %s", h.flowNode.ID, topic)
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

// intermediateThrowHandler publishes its message or signal and continues.
type intermediateThrowHandler struct {
	*baseHandler
}

func newIntermediateThrowHandler(node *model.FlowNode, s *session) *intermediateThrowHandler {
	h := &intermediateThrowHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *intermediateThrowHandler) executeInternally(_ context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	node := h.flowNode
	msg := bus.Message{
		CorrelationID:      t.CorrelationID,
		ProcessModelID:     t.ProcessModelID,
		ProcessInstanceID:  t.ProcessInstanceID,
		FlowNodeID:         node.ID,
		FlowNodeInstanceID: h.instanceID,
		Payload:            t.Payload,
		CreatedAt:          time.Now(),
	}

	switch {
	case node.MessageDefinition != nil:
		h.session.deps.Bus.Publish(bus.MessageTopic(node.MessageDefinition.Name), msg)
	case node.SignalDefinition != nil:
		h.session.deps.Bus.Publish(bus.SignalTopic(node.SignalDefinition.Name), msg)
	}
	return h.proceed(t, tf, mf)
}
