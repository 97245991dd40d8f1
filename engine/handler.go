package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/persistence"
	"github.com/plusxp/process-engine-core/token"
)

// Outcome is what a handler hands back to the driver: the successors to
// activate and the execution context they continue with. An empty Next
// consumes the branch.
type Outcome struct {
	Next               []*model.FlowNode
	Token              *core.ProcessToken
	TokenFacade        *token.Facade
	PreviousInstanceID string
}

// Handler executes or resumes one flow node instance.
type Handler interface {
	Execute(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, previousInstanceID string) (*Outcome, error)
	Resume(ctx context.Context, instance *persistence.FlowNodeInstance, tf *token.Facade, mf *model.Facade) (*Outcome, error)
	FlowNode() *model.FlowNode
	InstanceID() string
}

// executor is the one hook every concrete handler implements: the node's
// semantics, run after onEnter was persisted and before onExit.
type executor interface {
	executeInternally(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error)
}

// suspendResumer is implemented by handlers that suspend mid-execution
// (external tasks, user tasks, catch events). It re-enters the suspension
// with the persisted onSuspend token instead of redoing the entry work.
type suspendResumer interface {
	resumeSuspended(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error)
}

// exitNotifier is implemented by handlers that publish notifications after
// their exit was persisted; end events use it for their reached topics.
type exitNotifier interface {
	afterExit(ctx context.Context, t *core.ProcessToken, tf *token.Facade)
}

// baseHandler carries the life-cycle shared by all handlers: persistence
// hooks in order, the resume state table, error-boundary matching and the
// race between activity completion and attached boundary events.
type baseHandler struct {
	flowNode   *model.FlowNode
	instanceID string
	session    *session
	hooks      executor

	// finalStateRecorded is set once the instance reached a terminal
	// persisted state through a non-default path (terminate end events,
	// error end events, interrupted activities). It suppresses the default
	// onExit / onError persistence.
	finalStateRecorded bool
}

func newBaseHandler(flowNode *model.FlowNode, s *session) *baseHandler {
	return &baseHandler{
		flowNode:   flowNode,
		instanceID: uuid.NewString(),
		session:    s,
	}
}

func (b *baseHandler) FlowNode() *model.FlowNode { return b.flowNode }
func (b *baseHandler) InstanceID() string        { return b.instanceID }

// Execute runs the full handler life cycle for a fresh token.
func (b *baseHandler) Execute(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, previousInstanceID string) (*Outcome, error) {
	t = t.Clone()
	t.FlowNodeInstanceID = b.instanceID

	if err := b.session.deps.Persistence.PersistOnEnter(ctx, b.flowNode, b.instanceID, t, previousInstanceID); err != nil {
		return nil, err
	}
	return b.run(ctx, t, tf, mf)
}

// Resume continues a persisted flow node instance according to its state:
//
//	running, no resume token  -> re-run the node
//	running, resume token     -> record result, exit, hand off successors
//	suspended                 -> re-enter the suspension
//	finished                  -> skip side effects, hand off successors
//	error                     -> re-raise the stored error
//	terminated                -> not resumable
func (b *baseHandler) Resume(ctx context.Context, instance *persistence.FlowNodeInstance, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	b.instanceID = instance.ID

	switch instance.State {
	case persistence.StateRunning:
		if t, ok := instance.TokenFor(persistence.StageOnResume); ok {
			// The suspension was already lifted; only the exit is missing.
			outcome, err := b.proceed(t, tf, mf)
			if err != nil {
				return nil, err
			}
			return b.finish(ctx, outcome, tf)
		}
		t, ok := instance.TokenFor(persistence.StageOnEnter)
		if !ok {
			return nil, fmt.Errorf("engine: instance %s has no entry token", instance.ID)
		}
		return b.run(ctx, t, tf, mf)

	case persistence.StateSuspended:
		t, ok := instance.TokenFor(persistence.StageOnSuspend)
		if !ok {
			t, ok = instance.TokenFor(persistence.StageOnEnter)
			if !ok {
				return nil, fmt.Errorf("engine: instance %s has no suspension token", instance.ID)
			}
		}
		if resumer, canResume := b.hooks.(suspendResumer); canResume {
			outcome, err := resumer.resumeSuspended(ctx, t, tf, mf)
			if err != nil {
				return b.handleError(ctx, t, tf, mf, err)
			}
			return b.finish(ctx, outcome, tf)
		}
		return b.run(ctx, t, tf, mf)

	case persistence.StateFinished:
		t, ok := instance.TokenFor(persistence.StageOnExit)
		if !ok {
			t, _ = instance.TokenFor(persistence.StageOnEnter)
		}
		if t == nil {
			return nil, fmt.Errorf("engine: instance %s has no exit token", instance.ID)
		}
		tf.AddResultForFlowNode(b.flowNode.ID, instance.ID, t.Payload)
		next, err := mf.GetNextFlowNodesFor(b.flowNode)
		if err != nil {
			return nil, err
		}
		return &Outcome{Next: next, Token: t, TokenFacade: tf, PreviousInstanceID: instance.ID}, nil

	case persistence.StateError:
		return nil, instance.Error.ToError()

	case persistence.StateTerminated:
		return nil, &core.TerminationError{EndEventID: ""}
	}

	return nil, fmt.Errorf("engine: instance %s has unknown state %q", instance.ID, instance.State)
}

func (b *baseHandler) run(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	outcome, err := b.executeGuarded(ctx, t, tf, mf)
	if err != nil {
		return b.handleError(ctx, t, tf, mf, err)
	}
	return b.finish(ctx, outcome, tf)
}

// executeGuarded runs the node's semantics, racing them against any attached
// timer, message or signal boundary events. A boundary firing first
// interrupts the activity and takes over the branch.
func (b *baseHandler) executeGuarded(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	armed := nonErrorBoundaries(mf.GetBoundaryEventsFor(b.flowNode))
	if len(armed) == 0 {
		return b.hooks.executeInternally(ctx, t, tf, mf)
	}

	activityCtx, cancelActivity := context.WithCancel(ctx)
	defer cancelActivity()

	fired := make(chan boundaryFiring, 1)
	disarm, err := b.armBoundaries(activityCtx, armed, tf, fired)
	if err != nil {
		return nil, err
	}
	defer disarm()

	type result struct {
		outcome *Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := b.hooks.executeInternally(activityCtx, t, tf, mf)
		done <- result{outcome, err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err

	case firing := <-fired:
		cancelActivity()
		<-done // wait for the activity to observe the interrupt

		if err := b.session.deps.Persistence.PersistOnTerminate(ctx, b.flowNode, b.instanceID, t); err != nil {
			return nil, err
		}
		b.finalStateRecorded = true
		// The interrupted activity still leaves its entry payload in the
		// history before the boundary takes over the branch.
		tf.AddResultForFlowNode(b.flowNode.ID, b.instanceID, t.Payload)
		return b.fireBoundary(ctx, firing.boundary, t, tf, mf, firing.payload)

	case <-ctx.Done():
		<-done
		return nil, ctx.Err()
	}
}

type boundaryFiring struct {
	boundary *model.FlowNode
	payload  any
}

func nonErrorBoundaries(boundaries []*model.FlowNode) []*model.FlowNode {
	var armed []*model.FlowNode
	for _, boundary := range boundaries {
		if boundary.ErrorDefinition == nil {
			armed = append(armed, boundary)
		}
	}
	return armed
}

// armBoundaries sets up one firing source per boundary event: a timer, a
// message subscription or a signal subscription. Only the first firing wins;
// the rest are disarmed with the returned function.
func (b *baseHandler) armBoundaries(ctx context.Context, boundaries []*model.FlowNode, tf *token.Facade, fired chan<- boundaryFiring) (func(), error) {
	var disarms []func()
	disarm := func() {
		for _, d := range disarms {
			d()
		}
	}

	for _, boundary := range boundaries {
		switch {
		case boundary.TimerDefinition != nil:
			cancel, err := b.session.deps.Timer.Start(boundary, boundary.TimerDefinition, tf.GetOldTokenFormat(), func() {
				select {
				case fired <- boundaryFiring{boundary: boundary}:
				default:
				}
			})
			if err != nil {
				disarm()
				return nil, err
			}
			disarms = append(disarms, func() { cancel() })

		case boundary.MessageDefinition != nil:
			disarms = append(disarms, b.armSubscription(ctx, boundary, bus.MessageTopic(boundary.MessageDefinition.Name), fired))

		case boundary.SignalDefinition != nil:
			disarms = append(disarms, b.armSubscription(ctx, boundary, bus.SignalTopic(boundary.SignalDefinition.Name), fired))

		default:
			disarm()
			return nil, core.NewConfigurationError(boundary.ID, "boundary event has no event definition")
		}
	}
	return disarm, nil
}

func (b *baseHandler) armSubscription(ctx context.Context, boundary *model.FlowNode, topic string, fired chan<- boundaryFiring) func() {
	sub := b.session.deps.Bus.SubscribeOnce(topic)
	go func() {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case fired <- boundaryFiring{boundary: boundary, payload: msg.Payload}:
			default:
			}
		case <-ctx.Done():
		}
	}()
	return func() { _ = sub.Close() }
}

// fireBoundary runs the boundary event's own short life cycle and hands off
// its successors. A nil payload keeps the activity token's payload.
func (b *baseHandler) fireBoundary(ctx context.Context, boundary *model.FlowNode, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, payload any) (*Outcome, error) {
	boundaryInstanceID := uuid.NewString()
	bt := t.Clone()
	bt.FlowNodeInstanceID = boundaryInstanceID
	if payload != nil {
		bt.Payload = payload
	}

	if err := b.session.deps.Persistence.PersistOnEnter(ctx, boundary, boundaryInstanceID, bt, b.instanceID); err != nil {
		return nil, err
	}
	tf.AddResultForFlowNode(boundary.ID, boundaryInstanceID, bt.Payload)
	if err := b.session.deps.Persistence.PersistOnExit(ctx, boundary, boundaryInstanceID, bt); err != nil {
		return nil, err
	}

	next, err := mf.GetNextFlowNodesFor(boundary)
	if err != nil {
		return nil, err
	}
	return &Outcome{Next: next, Token: bt, TokenFacade: tf, PreviousInstanceID: boundaryInstanceID}, nil
}

// handleError routes a failed execution: termination passes through, a
// matching error boundary event takes over the branch, anything else is
// persisted as an error and re-raised.
func (b *baseHandler) handleError(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, cause error) (*Outcome, error) {
	if core.IsTerminationError(cause) || errors.Is(cause, context.Canceled) {
		if !b.finalStateRecorded {
			_ = b.session.deps.Persistence.PersistOnTerminate(ctx, b.flowNode, b.instanceID, t)
		}
		return nil, cause
	}

	for _, boundary := range mf.GetBoundaryEventsFor(b.flowNode) {
		if boundary.ErrorDefinition == nil {
			continue
		}
		if !errorDefinitionMatches(boundary.ErrorDefinition, cause) {
			continue
		}
		if !b.finalStateRecorded {
			if err := b.session.deps.Persistence.PersistOnError(ctx, b.flowNode, b.instanceID, t, cause); err != nil {
				return nil, err
			}
			b.finalStateRecorded = true
		}
		return b.fireBoundary(ctx, boundary, t, tf, mf, errorPayload(cause))
	}

	if !b.finalStateRecorded {
		_ = b.session.deps.Persistence.PersistOnError(ctx, b.flowNode, b.instanceID, t, cause)
		b.finalStateRecorded = true
	}
	return nil, cause
}

// errorDefinitionMatches reports whether the boundary's error definition
// catches the cause. A definition without name, code and message catches
// everything; otherwise every set field must equal the thrown error's field.
func errorDefinitionMatches(def *model.ErrorEventDefinition, cause error) bool {
	if def.Name == "" && def.Code == "" && def.Message == "" {
		return true
	}
	be, ok := core.IsBusinessError(cause)
	if !ok {
		return false
	}
	if def.Name != "" && def.Name != be.Name {
		return false
	}
	if def.Code != "" && def.Code != be.Code {
		return false
	}
	if def.Message != "" && def.Message != be.Message {
		return false
	}
	return true
}

// errorPayload is the token payload a caught error continues with.
func errorPayload(cause error) any {
	payload := map[string]any{"errorMessage": cause.Error()}
	if be, ok := core.IsBusinessError(cause); ok {
		payload["errorName"] = be.Name
		payload["errorCode"] = be.Code
		payload["errorMessage"] = be.Message
	}
	return payload
}

// finish records the node's result, persists the exit and fires any
// post-exit notifications.
func (b *baseHandler) finish(ctx context.Context, outcome *Outcome, fallback *token.Facade) (*Outcome, error) {
	if outcome == nil {
		outcome = &Outcome{}
	}
	if outcome.TokenFacade == nil {
		outcome.TokenFacade = fallback
	}
	if outcome.PreviousInstanceID == "" {
		outcome.PreviousInstanceID = b.instanceID
	}
	if b.finalStateRecorded || outcome.Token == nil {
		return outcome, nil
	}

	outcome.TokenFacade.AddResultForFlowNode(b.flowNode.ID, b.instanceID, outcome.Token.Payload)
	if err := b.session.deps.Persistence.PersistOnExit(ctx, b.flowNode, b.instanceID, outcome.Token); err != nil {
		return nil, err
	}
	if notifier, ok := b.hooks.(exitNotifier); ok {
		notifier.afterExit(ctx, outcome.Token, outcome.TokenFacade)
	}
	return outcome, nil
}

// proceed builds the default outcome: continue with all successors.
func (b *baseHandler) proceed(t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	next, err := mf.GetNextFlowNodesFor(b.flowNode)
	if err != nil {
		return nil, err
	}
	return &Outcome{Next: next, Token: t, TokenFacade: tf, PreviousInstanceID: b.instanceID}, nil
}

// suspend persists the onSuspend stage before a handler starts waiting.
func (b *baseHandler) suspend(ctx context.Context, t *core.ProcessToken) error {
	return b.session.deps.Persistence.PersistOnSuspend(ctx, b.flowNode, b.instanceID, t)
}

// liftSuspension persists the onResume stage with the received payload and
// returns the token the handler continues with.
func (b *baseHandler) liftSuspension(ctx context.Context, t *core.ProcessToken, payload any) (*core.ProcessToken, error) {
	resumed := t.Clone()
	if payload != nil {
		resumed.Payload = payload
	}
	if err := b.session.deps.Persistence.PersistOnResume(ctx, b.flowNode, b.instanceID, resumed); err != nil {
		return nil, err
	}
	return resumed, nil
}
