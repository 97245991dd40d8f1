package exttask

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
)

// Service is the external task API shared by the engine and worker-facing
// surfaces. It wraps a Store and announces task life-cycle changes on the
// event bus: creation to polling workers, completion to the suspended
// handler waiting on the flow node instance.
type Service struct {
	store  Store
	bus    bus.EventBus
	logger *slog.Logger
}

// NewService creates an external task service. A nil logger falls back to
// slog.Default.
func NewService(store Store, eventBus bus.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		bus:    eventBus,
		logger: logger,
	}
}

// Create stores a new pending task for the topic and notifies workers.
func (s *Service) Create(ctx context.Context, topic, flowNodeID string, token *core.ProcessToken) (*Task, error) {
	task := &Task{
		ID:                 uuid.NewString(),
		Topic:              topic,
		FlowNodeID:         flowNodeID,
		FlowNodeInstanceID: token.FlowNodeInstanceID,
		ProcessInstanceID:  token.ProcessInstanceID,
		ProcessModelID:     token.ProcessModelID,
		CorrelationID:      token.CorrelationID,
		Payload:            token.Payload,
	}
	if err := s.store.Insert(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Debug("external task created",
		"task_id", task.ID,
		"topic", topic,
		"flow_node_instance_id", task.FlowNodeInstanceID,
	)
	s.bus.Publish(bus.ExternalTaskCreatedTopic(topic), bus.Message{
		CorrelationID:      task.CorrelationID,
		ProcessModelID:     task.ProcessModelID,
		ProcessInstanceID:  task.ProcessInstanceID,
		FlowNodeID:         task.FlowNodeID,
		FlowNodeInstanceID: task.FlowNodeInstanceID,
		Payload:            task.Payload,
		CreatedAt:          time.Now(),
	})
	return task, nil
}

// ByFlowNodeInstance returns the latest task created for a flow node
// instance, so a resumed handler can pick up a result that arrived while the
// engine was down.
func (s *Service) ByFlowNodeInstance(ctx context.Context, flowNodeInstanceID string) (*Task, error) {
	return s.store.GetByFlowNodeInstance(ctx, flowNodeInstanceID)
}

// FetchAndLock claims up to maxTasks pending tasks of the topic for a worker.
func (s *Service) FetchAndLock(ctx context.Context, topic, workerID string, maxTasks int, lockDuration time.Duration) ([]*Task, error) {
	if lockDuration <= 0 {
		lockDuration = 30 * time.Second
	}
	return s.store.FetchAndLock(ctx, topic, workerID, maxTasks, time.Now().Add(lockDuration))
}

// Finish stores the worker result and resumes the waiting handler.
func (s *Service) Finish(ctx context.Context, taskID string, result any) error {
	task, err := s.store.MarkFinished(ctx, taskID, result)
	if err != nil {
		return err
	}

	s.logger.Debug("external task finished", "task_id", taskID, "topic", task.Topic)
	s.publishFinished(task, nil)
	return nil
}

// Fail stores the worker failure and resumes the waiting handler with the
// error. Workers report business failures as named errors through cause.
func (s *Service) Fail(ctx context.Context, taskID string, cause error) error {
	if cause == nil {
		cause = errors.New("external task failed")
	}
	task, err := s.store.MarkFailed(ctx, taskID, cause.Error())
	if err != nil {
		return err
	}

	s.logger.Warn("external task failed", "task_id", taskID, "topic", task.Topic, "error", cause)
	s.publishFinished(task, cause)
	return nil
}

func (s *Service) publishFinished(task *Task, cause error) {
	s.bus.Publish(bus.ExternalTaskFinishedTopic(task.FlowNodeInstanceID), bus.Message{
		CorrelationID:      task.CorrelationID,
		ProcessModelID:     task.ProcessModelID,
		ProcessInstanceID:  task.ProcessInstanceID,
		FlowNodeID:         task.FlowNodeID,
		FlowNodeInstanceID: task.FlowNodeInstanceID,
		Payload:            task.Result,
		Err:                cause,
		CreatedAt:          time.Now(),
	})
}
