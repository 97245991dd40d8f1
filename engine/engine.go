// Package engine executes deployed process models: it drives tokens through
// the flow node graph, persists every life-cycle transition to the instance
// log and coordinates parallel branches, boundary events and sub-processes.
//
// The two entry points are ExecuteProcessService for fresh instances and
// ResumeProcessService for instances interrupted by a crash or shutdown.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/expression"
	"github.com/plusxp/process-engine-core/exttask"
	"github.com/plusxp/process-engine-core/invocation"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/persistence"
	"github.com/plusxp/process-engine-core/timer"
	"github.com/plusxp/process-engine-core/token"
)

// Deps bundles the collaborators every handler needs. One Deps value is
// shared by all sessions of an engine.
type Deps struct {
	Persistence   *persistence.Facade
	Bus           bus.EventBus
	Timer         *timer.Facade
	Evaluator     expression.Evaluator
	Registry      *invocation.Registry
	ExternalTasks *exttask.Service
	Logger        *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// session is the execution state of one process instance run: the per-run
// handler factory (join gateways are cached per session), the persisted
// instances still pending resumption, and the termination hook.
type session struct {
	deps    Deps
	factory *handlerFactory
	pending *pendingInstances

	// terminate cancels the instance context after a TerminateEndEvent.
	terminate func()
}

func newSession(deps Deps, pending *pendingInstances) *session {
	s := &session{
		deps:    deps,
		pending: pending,
	}
	s.factory = newHandlerFactory(s)
	return s
}

func (s *session) markTerminated() {
	if s.terminate != nil {
		s.terminate()
	}
}

// drive moves one token through the graph starting at node. It runs until
// the branch is consumed (an end event, an incomplete join arrival) or a
// handler fails. Fan-out at a node with several successors runs each branch
// on its own goroutine with an independent token and token facade.
func (s *session) drive(ctx context.Context, node *model.FlowNode, t *core.ProcessToken, tf *token.Facade, mf *model.Facade, previousInstanceID string) error {
	for node != nil {
		handler, err := s.factory.create(node)
		if err != nil {
			return err
		}

		var outcome *Outcome
		if instance := s.pending.take(node.ID); instance != nil {
			outcome, err = handler.Resume(ctx, instance, tf, mf)
		} else {
			outcome, err = handler.Execute(ctx, t, tf, mf, previousInstanceID)
		}
		if err != nil {
			return err
		}
		if outcome == nil || len(outcome.Next) == 0 {
			return nil
		}

		t = outcome.Token
		tf = outcome.TokenFacade
		previousInstanceID = outcome.PreviousInstanceID

		if len(outcome.Next) == 1 {
			node = outcome.Next[0]
			continue
		}

		// Fan out: every successor gets its own token and an independent
		// facade sharing the history recorded so far.
		g, gctx := errgroup.WithContext(ctx)
		for _, next := range outcome.Next {
			branchToken := tf.CreateProcessToken(t.Payload)
			branchToken.Caller = t.Caller
			branchFacade := tf.ForParallelBranch()
			g.Go(func() error {
				return s.drive(gctx, next, branchToken, branchFacade, mf, previousInstanceID)
			})
		}
		return g.Wait()
	}
	return nil
}

// pendingInstances indexes the persisted flow node instances of a resumed
// process instance by flow node id. Branches consume entries as they reach
// the corresponding nodes; a node without a pending entry is executed fresh.
type pendingInstances struct {
	mu     sync.Mutex
	byNode map[string][]*persistence.FlowNodeInstance
}

func newPendingInstances(instances []*persistence.FlowNodeInstance) *pendingInstances {
	p := &pendingInstances{
		byNode: make(map[string][]*persistence.FlowNodeInstance),
	}
	for _, instance := range instances {
		p.byNode[instance.FlowNodeID] = append(p.byNode[instance.FlowNodeID], instance)
	}
	return p
}

// take pops the oldest pending instance for the flow node, or nil.
// Safe to call on a nil receiver (fresh executions have no pending set).
func (p *pendingInstances) take(flowNodeID string) *persistence.FlowNodeInstance {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.byNode[flowNodeID]
	if len(queue) == 0 {
		return nil
	}
	instance := queue[0]
	p.byNode[flowNodeID] = queue[1:]
	return instance
}
