package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/persistence"
	"github.com/plusxp/process-engine-core/token"
)

// exclusiveGatewayHandler routes a token along exactly one outgoing flow.
// Conditions are evaluated in declaration order; the first true condition
// wins, the default flow catches the rest. A converging exclusive gateway is
// a pass-through.
type exclusiveGatewayHandler struct {
	*baseHandler
}

func newExclusiveGatewayHandler(node *model.FlowNode, s *session) *exclusiveGatewayHandler {
	h := &exclusiveGatewayHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *exclusiveGatewayHandler) executeInternally(_ context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	node := h.flowNode
	flows := mf.GetOutgoingSequenceFlowsFor(node.ID)

	if node.GatewayDirection == model.GatewayDirectionConverging || len(flows) <= 1 {
		return h.proceed(t, tf, mf)
	}

	env := tf.GetOldTokenFormat()
	var defaultFlow *model.SequenceFlow

	for _, flow := range flows {
		if node.DefaultFlowID != "" && flow.ID == node.DefaultFlowID {
			// The designated default wins over implicit ones.
			defaultFlow = flow
			continue
		}
		if flow.Condition == "" {
			// A condition-less flow is the implicit default: only taken
			// when no condition matches.
			if defaultFlow == nil {
				defaultFlow = flow
			}
			continue
		}

		matched, err := h.session.deps.Evaluator.EvaluateBool(flow.Condition, env)
		if err != nil {
			return nil, core.NewConfigurationError(node.ID, "condition on flow to %q failed: %v", flow.Target, err)
		}
		if matched {
			return h.routeTo(flow, t, tf, mf)
		}
	}

	if defaultFlow != nil {
		return h.routeTo(defaultFlow, t, tf, mf)
	}
	return nil, core.NewConfigurationError(node.ID, "no condition matched and no default flow is set")
}

func (h *exclusiveGatewayHandler) routeTo(flow *model.SequenceFlow, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	target, ok := mf.GetFlowNodeByID(flow.Target)
	if !ok {
		return nil, core.NewConfigurationError(h.flowNode.ID, "flow target %q does not exist", flow.Target)
	}
	return &Outcome{
		Next:               []*model.FlowNode{target},
		Token:              t,
		TokenFacade:        tf,
		PreviousInstanceID: h.instanceID,
	}, nil
}

// parallelSplitHandler activates every successor; the driver fans each one
// out onto its own branch with an independent token.
type parallelSplitHandler struct {
	*baseHandler
}

func newParallelSplitHandler(node *model.FlowNode, s *session) *parallelSplitHandler {
	h := &parallelSplitHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

func (h *parallelSplitHandler) executeInternally(_ context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	return h.proceed(t, tf, mf)
}

// parallelJoinHandler synchronizes the branches of one parallel split. It is
// created once per session and shared by all arriving branches; arrivals
// merge their branch histories under the handler mutex and the successor is
// produced exactly once, by the arrival that completes the incoming set.
//
// A join that fired before a crash is replayed instead of fired again: the
// branches still merge their histories on re-arrival, and the completing
// arrival hands the successors off with the persisted result, so downstream
// expressions see the same history a fresh run would have produced.
type parallelJoinHandler struct {
	*baseHandler

	mu          sync.Mutex
	handedOff   bool
	replayed    *persistence.FlowNodeInstance // persisted record of a pre-crash firing
	accumulator *token.Facade
	arrivedFrom []string // previous flow node instance ids, arrival order
	caller      string
}

func newParallelJoinHandler(node *model.FlowNode, s *session) *parallelJoinHandler {
	h := &parallelJoinHandler{baseHandler: newBaseHandler(node, s)}
	h.hooks = h
	return h
}

// executeInternally is never reached; the join overrides Execute entirely.
func (h *parallelJoinHandler) executeInternally(context.Context, *core.ProcessToken, *token.Facade, *model.Facade) (*Outcome, error) {
	return nil, core.NewConfigurationError(h.flowNode.ID, "parallel join must be driven through Execute")
}

func (h *parallelJoinHandler) Execute(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, previousInstanceID string) (*Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.arrive(ctx, t, tf, mf, previousInstanceID)
}

// arrive merges one branch into the join. The caller must hold h.mu.
func (h *parallelJoinHandler) arrive(ctx context.Context, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, previousInstanceID string) (*Outcome, error) {
	if h.handedOff {
		// The successors were already handed off; late arrivals are consumed.
		return &Outcome{}, nil
	}

	if h.accumulator == nil {
		h.accumulator = tf.ForParallelBranch()
	} else {
		h.accumulator.MergeResults(tf.GetAllResults())
	}
	h.arrivedFrom = append(h.arrivedFrom, previousInstanceID)
	h.caller = t.Caller

	for _, flow := range mf.GetIncomingSequenceFlowsFor(h.flowNode.ID) {
		if !h.accumulator.HasResultForFlowNode(flow.Source) {
			// Not all branches are in; this arrival's branch is consumed.
			return &Outcome{}, nil
		}
	}
	h.handedOff = true

	if h.replayed != nil {
		return h.replay(mf)
	}
	return h.fire(ctx, mf)
}

// fire persists the firing and hands off the successors. First run only.
func (h *parallelJoinHandler) fire(ctx context.Context, mf *model.Facade) (*Outcome, error) {
	view := h.accumulator.GetOldTokenFormat()
	out := h.accumulator.CreateProcessToken(view["current"])
	out.Caller = h.caller
	out.FlowNodeInstanceID = h.instanceID

	joined := persistence.JoinPreviousInstanceIDs(h.arrivedFrom)
	if err := h.session.deps.Persistence.PersistOnEnter(ctx, h.flowNode, h.instanceID, out, joined); err != nil {
		return nil, err
	}
	h.accumulator.AddResultForFlowNode(h.flowNode.ID, h.instanceID, out.Payload)
	if err := h.session.deps.Persistence.PersistOnExit(ctx, h.flowNode, h.instanceID, out); err != nil {
		return nil, err
	}

	next, err := mf.GetNextFlowNodesFor(h.flowNode)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Next:               next,
		Token:              out,
		TokenFacade:        h.accumulator,
		PreviousInstanceID: h.instanceID,
	}, nil
}

// replay hands the successors off with the persisted result of a firing from
// a previous run, keeping the merged branch histories.
func (h *parallelJoinHandler) replay(mf *model.Facade) (*Outcome, error) {
	out, ok := h.replayed.TokenFor(persistence.StageOnExit)
	if !ok {
		out, ok = h.replayed.TokenFor(persistence.StageOnEnter)
	}
	if !ok {
		return nil, fmt.Errorf("engine: join instance %s has no token snapshot", h.replayed.ID)
	}
	h.accumulator.AddResultForFlowNode(h.flowNode.ID, h.replayed.ID, out.Payload)

	next, err := mf.GetNextFlowNodesFor(h.flowNode)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Next:               next,
		Token:              out,
		TokenFacade:        h.accumulator,
		PreviousInstanceID: h.replayed.ID,
	}, nil
}

// Resume treats a persisted firing as a replay: the re-arriving branch is
// merged like any other arrival, and the completing arrival reuses the
// persisted result instead of firing a second time.
func (h *parallelJoinHandler) Resume(ctx context.Context, instance *persistence.FlowNodeInstance, tf *token.Facade, mf *model.Facade) (*Outcome, error) {
	if instance.State == persistence.StateTerminated {
		return nil, &core.TerminationError{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if instance.State == persistence.StateFinished && h.replayed == nil {
		h.replayed = instance
	}

	t, ok := instance.TokenFor(persistence.StageOnExit)
	if !ok {
		t, ok = instance.TokenFor(persistence.StageOnEnter)
	}
	if !ok {
		return nil, fmt.Errorf("engine: join instance %s has no token snapshot", instance.ID)
	}
	return h.arrive(ctx, t, tf, mf, instance.PreviousInstanceID)
}

// primeReplay seeds the join with the persisted record of a firing from a
// previous run, before the resumed drive starts re-arriving branches.
func (h *parallelJoinHandler) primeReplay(instance *persistence.FlowNodeInstance) {
	h.mu.Lock()
	if h.replayed == nil {
		h.replayed = instance
	}
	h.mu.Unlock()
}
