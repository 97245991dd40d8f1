package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/timer"
	"github.com/plusxp/process-engine-core/token"
)

// StartRequest describes one process instance to start.
type StartRequest struct {
	ProcessModelID string
	StartEventID   string // optional when the model has exactly one start event
	CorrelationID  string // optional; generated when empty
	Payload        any
}

// StartResult identifies a started process instance.
type StartResult struct {
	ProcessInstanceID string
	CorrelationID     string
}

// EndResult is the final state of a completed process instance.
type EndResult struct {
	ProcessInstanceID string
	CorrelationID     string
	EndEventID        string
	Payload           any
	Terminated        bool
}

// ExecuteProcessService starts process instances from deployed models.
type ExecuteProcessService struct {
	deps     Deps
	models   *model.Repository
	identity core.IdentityProvider
}

// NewExecuteProcessService creates an execute service. A nil identity
// provider falls back to an anonymous static identity.
func NewExecuteProcessService(deps Deps, models *model.Repository, identity core.IdentityProvider) *ExecuteProcessService {
	if identity == nil {
		identity = core.StaticIdentityProvider{}
	}
	return &ExecuteProcessService{
		deps:     deps,
		models:   models,
		identity: identity,
	}
}

// Start launches the instance in the background and returns its ids as soon
// as the model is resolved.
func (s *ExecuteProcessService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	go func() {
		if _, err := s.runPrepared(context.WithoutCancel(ctx), prep); err != nil {
			s.deps.logger().Error("process instance failed",
				"process_instance_id", prep.tokenFacade.ProcessInstanceID(),
				"process_model_id", req.ProcessModelID,
				"error", err,
			)
		}
	}()

	return &StartResult{
		ProcessInstanceID: prep.tokenFacade.ProcessInstanceID(),
		CorrelationID:     prep.tokenFacade.CorrelationID(),
	}, nil
}

// StartAndAwaitEndEvent runs the instance to completion and returns the
// payload of the last end event reached.
func (s *ExecuteProcessService) StartAndAwaitEndEvent(ctx context.Context, req StartRequest) (*EndResult, error) {
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.runPrepared(ctx, prep)
}

// StartAndAwaitSpecificEndEvent runs the instance and returns once the named
// end event was reached. Reaching only other end events is an error.
func (s *ExecuteProcessService) StartAndAwaitSpecificEndEvent(ctx context.Context, req StartRequest, endEventID string) (*EndResult, error) {
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if !hasEndEvent(prep.facade, endEventID) {
		return nil, core.NewConfigurationError(endEventID, "process %q has no end event %q", req.ProcessModelID, endEventID)
	}

	corr := prep.tokenFacade.CorrelationID()
	sub := s.deps.Bus.SubscribeOnce(bus.SpecificEndEventReachedTopic(corr, req.ProcessModelID, endEventID))
	defer func() { _ = sub.Close() }()

	result, err := s.runPrepared(ctx, prep)
	if err != nil {
		return nil, err
	}

	select {
	case msg, ok := <-sub.Events():
		if ok {
			result.EndEventID = msg.FlowNodeID
			result.Payload = msg.Payload
			return result, nil
		}
	default:
	}
	return nil, fmt.Errorf("engine: process instance %s ended without reaching end event %q", result.ProcessInstanceID, endEventID)
}

func hasEndEvent(mf *model.Facade, endEventID string) bool {
	for _, end := range mf.GetEndEvents() {
		if end.ID == endEventID {
			return true
		}
	}
	return false
}

type preparedInstance struct {
	facade      *model.Facade
	startEvent  *model.FlowNode
	token       *core.ProcessToken
	tokenFacade *token.Facade
}

func (s *ExecuteProcessService) prepare(ctx context.Context, req StartRequest) (*preparedInstance, error) {
	mf, err := s.models.Get(req.ProcessModelID)
	if err != nil {
		return nil, err
	}
	start, err := mf.GetStartEventByID(req.StartEventID)
	if err != nil {
		return nil, err
	}
	identity, err := s.identity.GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	tf := token.NewFacade(uuid.NewString(), mf.ProcessModelID(), correlationID, identity)
	return &preparedInstance{
		facade:      mf,
		startEvent:  start,
		token:       tf.CreateProcessToken(req.Payload),
		tokenFacade: tf,
	}, nil
}

func (s *ExecuteProcessService) runPrepared(ctx context.Context, prep *preparedInstance) (*EndResult, error) {
	sess := newSession(s.deps, nil)
	return runInstance(ctx, s.deps, sess, prep.facade, prep.startEvent, prep.token, prep.tokenFacade)
}

// ScheduleTimerStartEvents arms every timer start event of a deployed model:
// one-shot timers start one instance, cycle timers start an instance per
// firing until cancelled. The returned cancel disarms all of them.
func (s *ExecuteProcessService) ScheduleTimerStartEvents(ctx context.Context, processModelID string) (timer.CancelFunc, error) {
	mf, err := s.models.Get(processModelID)
	if err != nil {
		return nil, err
	}

	var cancels []timer.CancelFunc
	for _, start := range mf.GetStartEvents() {
		if start.TimerDefinition == nil {
			continue
		}
		cancel, err := s.deps.Timer.Start(start, start.TimerDefinition, nil, func() {
			req := StartRequest{ProcessModelID: processModelID, StartEventID: start.ID}
			if _, err := s.Start(context.WithoutCancel(ctx), req); err != nil {
				s.deps.logger().Error("timer start event failed",
					"process_model_id", processModelID,
					"start_event_id", start.ID,
					"error", err,
				)
			}
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, err
		}
		cancels = append(cancels, cancel)
	}

	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

// runInstance drives a session to completion and assembles the end result.
// Shared by fresh executions and resumptions.
func runInstance(ctx context.Context, deps Deps, sess *session, mf *model.Facade, start *model.FlowNode, t *core.ProcessToken, tf *token.Facade) (*EndResult, error) {
	processInstanceID := tf.ProcessInstanceID()
	correlationID := tf.CorrelationID()

	instanceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var terminated atomic.Bool
	sess.terminate = func() {
		terminated.Store(true)
		cancel()
	}

	// External termination requests arrive over the bus.
	termSub := deps.Bus.SubscribeOnce(bus.ProcessInstanceTerminatedTopic(processInstanceID))
	defer func() { _ = termSub.Close() }()
	go func() {
		if _, ok := <-termSub.Events(); ok {
			terminated.Store(true)
			cancel()
		}
	}()

	endSub := deps.Bus.Subscribe(bus.EndEventReachedTopic(correlationID, tf.ProcessModelID()))
	defer func() { _ = endSub.Close() }()

	deps.logger().Info("process instance started",
		"process_instance_id", processInstanceID,
		"process_model_id", tf.ProcessModelID(),
		"correlation_id", correlationID,
	)

	err := sess.drive(instanceCtx, start, t, tf, mf, "")

	result := &EndResult{
		ProcessInstanceID: processInstanceID,
		CorrelationID:     correlationID,
		Terminated:        terminated.Load(),
	}
drain:
	for {
		select {
		case msg, ok := <-endSub.Events():
			if !ok {
				break drain
			}
			result.EndEventID = msg.FlowNodeID
			result.Payload = msg.Payload
		default:
			break drain
		}
	}

	if err != nil && !result.Terminated {
		return nil, err
	}

	deps.Bus.Publish(bus.ProcessInstanceEndedTopic(processInstanceID), bus.Message{
		CorrelationID:     correlationID,
		ProcessModelID:    tf.ProcessModelID(),
		ProcessInstanceID: processInstanceID,
		FlowNodeID:        result.EndEventID,
		Payload:           result.Payload,
		CreatedAt:         time.Now(),
	})
	deps.logger().Info("process instance ended",
		"process_instance_id", processInstanceID,
		"end_event_id", result.EndEventID,
		"terminated", result.Terminated,
	)
	return result, nil
}
