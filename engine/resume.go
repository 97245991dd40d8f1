package engine

import (
	"context"
	"fmt"

	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/persistence"
	"github.com/plusxp/process-engine-core/token"
)

// ResumeProcessService brings interrupted process instances back to life
// from the instance log, typically right after engine startup. Each
// persisted flow node instance is replayed according to its state; finished
// work is skipped, suspended work re-enters its wait.
type ResumeProcessService struct {
	deps   Deps
	models *model.Repository
}

// NewResumeProcessService creates a resume service.
func NewResumeProcessService(deps Deps, models *model.Repository) *ResumeProcessService {
	return &ResumeProcessService{
		deps:   deps,
		models: models,
	}
}

// FindAndResumeInterruptedInstances resumes every process instance with
// running or suspended flow node instances. Instances that fail to resume
// are logged and skipped; one broken instance must not block the rest.
func (s *ResumeProcessService) FindAndResumeInterruptedInstances(ctx context.Context) ([]*EndResult, error) {
	active, err := s.deps.Persistence.QueryActive(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var results []*EndResult
	for _, instance := range active {
		if seen[instance.ProcessInstanceID] {
			continue
		}
		seen[instance.ProcessInstanceID] = true

		result, err := s.ResumeProcessInstanceByID(ctx, instance.ProcessInstanceID)
		if err != nil {
			s.deps.logger().Error("resuming process instance failed",
				"process_instance_id", instance.ProcessInstanceID,
				"process_model_id", instance.ProcessModelID,
				"error", err,
			)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// ResumeProcessInstanceByID replays one process instance from its persisted
// flow node instances and drives it to completion.
func (s *ResumeProcessService) ResumeProcessInstanceByID(ctx context.Context, processInstanceID string) (*EndResult, error) {
	instances, err := s.deps.Persistence.QueryByProcessInstance(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("engine: no persisted state for process instance %s", processInstanceID)
	}

	processModelID := instances[0].ProcessModelID
	mf, err := s.models.Get(processModelID)
	if err != nil {
		return nil, err
	}

	seed := findSeedInstance(instances)
	if seed == nil {
		return nil, fmt.Errorf("engine: process instance %s has no entry instance", processInstanceID)
	}
	seedToken, ok := seed.TokenFor(persistence.StageOnEnter)
	if !ok {
		return nil, fmt.Errorf("engine: instance %s has no entry token", seed.ID)
	}

	startNode, ok := mf.GetFlowNodeByID(seed.FlowNodeID)
	if !ok {
		return nil, fmt.Errorf("engine: flow node %q of instance %s no longer exists in model %q", seed.FlowNodeID, seed.ID, processModelID)
	}

	tf := token.NewFacade(processInstanceID, processModelID, seed.CorrelationID, seedToken.Identity)
	sess := newSession(s.deps, newPendingInstances(instances))
	primeCompletedJoins(sess, mf.Process(), instances)

	s.deps.logger().Info("resuming process instance",
		"process_instance_id", processInstanceID,
		"process_model_id", processModelID,
		"persisted_instances", len(instances),
	)
	return runInstance(ctx, s.deps, sess, mf, startNode, seedToken, tf)
}

// findSeedInstance returns the earliest instance the drive restarts from:
// the one without a predecessor that does not belong to a sub-process run.
func findSeedInstance(instances []*persistence.FlowNodeInstance) *persistence.FlowNodeInstance {
	for _, instance := range instances {
		if instance.PreviousInstanceID != "" {
			continue
		}
		if snapshot, ok := instance.TokenAt(persistence.StageOnEnter); ok && snapshot.Caller != "" {
			continue
		}
		return instance
	}
	return nil
}

// primeCompletedJoins seeds join gateways that fired before the interruption
// with their persisted records, so re-arriving branches replay the firing
// instead of producing a second one.
func primeCompletedJoins(sess *session, process *model.Process, instances []*persistence.FlowNodeInstance) {
	for _, instance := range instances {
		if instance.State != persistence.StateFinished {
			continue
		}
		node, ok := findFlowNode(process, instance.FlowNodeID)
		if !ok || node.Type != model.NodeTypeParallelGateway || node.GatewayDirection != model.GatewayDirectionConverging {
			continue
		}
		sess.factory.joinFor(node).primeReplay(instance)
	}
}

// findFlowNode looks a node up across the process and its sub-processes.
func findFlowNode(process *model.Process, id string) (*model.FlowNode, bool) {
	for i := range process.FlowNodes {
		node := &process.FlowNodes[i]
		if node.ID == id {
			return node, true
		}
		if node.SubProcess != nil {
			if found, ok := findFlowNode(node.SubProcess, id); ok {
				return found, true
			}
		}
	}
	return nil, false
}
