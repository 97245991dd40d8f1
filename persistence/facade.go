package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
)

// Facade wraps an InstanceLog with structured logging and life-cycle event
// publication. Handlers persist through the facade, never through the log
// directly, so every state change is observable on the bus.
type Facade struct {
	log    InstanceLog
	bus    bus.EventBus
	logger *slog.Logger
}

// NewFacade creates a persistence facade. A nil logger falls back to
// slog.Default.
func NewFacade(log InstanceLog, eventBus bus.EventBus, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		log:    log,
		bus:    eventBus,
		logger: logger,
	}
}

func (f *Facade) PersistOnEnter(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, previousInstanceID string) error {
	if err := f.log.PersistOnEnter(ctx, flowNode, instanceID, token, previousInstanceID); err != nil {
		return err
	}

	f.logger.Debug("flow node entered",
		"process_instance_id", token.ProcessInstanceID,
		"flow_node_id", flowNode.ID,
		"flow_node_type", string(flowNode.Type),
		"flow_node_instance_id", instanceID,
	)
	f.publish(bus.FlowNodeEnteredTopic(token.ProcessInstanceID), flowNode, instanceID, token, nil)
	return nil
}

func (f *Facade) PersistOnSuspend(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	if err := f.log.PersistOnSuspend(ctx, flowNode, instanceID, token); err != nil {
		return err
	}

	f.logger.Debug("flow node suspended",
		"process_instance_id", token.ProcessInstanceID,
		"flow_node_id", flowNode.ID,
		"flow_node_instance_id", instanceID,
	)
	return nil
}

func (f *Facade) PersistOnResume(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	if err := f.log.PersistOnResume(ctx, flowNode, instanceID, token); err != nil {
		return err
	}

	f.logger.Debug("flow node resumed",
		"process_instance_id", token.ProcessInstanceID,
		"flow_node_id", flowNode.ID,
		"flow_node_instance_id", instanceID,
	)
	return nil
}

func (f *Facade) PersistOnExit(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	if err := f.log.PersistOnExit(ctx, flowNode, instanceID, token); err != nil {
		return err
	}

	f.logger.Debug("flow node exited",
		"process_instance_id", token.ProcessInstanceID,
		"flow_node_id", flowNode.ID,
		"flow_node_instance_id", instanceID,
	)
	f.publish(bus.FlowNodeExitedTopic(token.ProcessInstanceID), flowNode, instanceID, token, nil)
	return nil
}

func (f *Facade) PersistOnTerminate(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken) error {
	if err := f.log.PersistOnTerminate(ctx, flowNode, instanceID, token); err != nil {
		return err
	}

	f.logger.Info("flow node terminated",
		"process_instance_id", token.ProcessInstanceID,
		"flow_node_id", flowNode.ID,
		"flow_node_instance_id", instanceID,
	)
	f.publish(bus.FlowNodeExitedTopic(token.ProcessInstanceID), flowNode, instanceID, token, nil)
	return nil
}

func (f *Facade) PersistOnError(ctx context.Context, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, cause error) error {
	if err := f.log.PersistOnError(ctx, flowNode, instanceID, token, cause); err != nil {
		return err
	}

	f.logger.Error("flow node errored",
		"process_instance_id", token.ProcessInstanceID,
		"flow_node_id", flowNode.ID,
		"flow_node_instance_id", instanceID,
		"error", cause,
	)
	f.publish(bus.FlowNodeErroredTopic(token.ProcessInstanceID), flowNode, instanceID, token, cause)
	return nil
}

func (f *Facade) QueryActive(ctx context.Context) ([]*FlowNodeInstance, error) {
	return f.log.QueryActive(ctx)
}

func (f *Facade) QueryByProcessModel(ctx context.Context, processModelID string) ([]*FlowNodeInstance, error) {
	return f.log.QueryByProcessModel(ctx, processModelID)
}

func (f *Facade) QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*FlowNodeInstance, error) {
	return f.log.QueryByProcessInstance(ctx, processInstanceID)
}

func (f *Facade) publish(topic string, flowNode *model.FlowNode, instanceID string, token *core.ProcessToken, cause error) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(topic, bus.Message{
		CorrelationID:      token.CorrelationID,
		ProcessModelID:     token.ProcessModelID,
		ProcessInstanceID:  token.ProcessInstanceID,
		FlowNodeID:         flowNode.ID,
		FlowNodeInstanceID: instanceID,
		Payload:            token.Payload,
		Err:                cause,
		CreatedAt:          time.Now(),
	})
}
