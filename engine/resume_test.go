package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/engine"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/persistence"
)

// seeder writes flow node instances into the instance log the way a previous
// engine run would have, so resume tests can replay a crash.
type seeder struct {
	t                 *testing.T
	te                *testEngine
	mf                *model.Facade
	processInstanceID string
	correlationID     string
}

func newSeeder(t *testing.T, te *testEngine, processModelID, processInstanceID string) *seeder {
	t.Helper()
	mf, err := te.models.Get(processModelID)
	if err != nil {
		t.Fatalf("getting model %s: %v", processModelID, err)
	}
	return &seeder{
		t:                 t,
		te:                te,
		mf:                mf,
		processInstanceID: processInstanceID,
		correlationID:     "corr-" + processInstanceID,
	}
}

func (s *seeder) token(flowNodeInstanceID string, payload any) *core.ProcessToken {
	return &core.ProcessToken{
		ProcessInstanceID:  s.processInstanceID,
		ProcessModelID:     s.mf.ProcessModelID(),
		CorrelationID:      s.correlationID,
		FlowNodeInstanceID: flowNodeInstanceID,
		Payload:            payload,
	}
}

func (s *seeder) node(flowNodeID string) *model.FlowNode {
	s.t.Helper()
	node, ok := s.mf.GetFlowNodeByID(flowNodeID)
	if !ok {
		s.t.Fatalf("model has no flow node %s", flowNodeID)
	}
	return node
}

func (s *seeder) finished(flowNodeID, instanceID, previousInstanceID string, payload any) {
	s.t.Helper()
	ctx := context.Background()
	node := s.node(flowNodeID)
	tk := s.token(instanceID, payload)
	if err := s.te.deps.Persistence.PersistOnEnter(ctx, node, instanceID, tk, previousInstanceID); err != nil {
		s.t.Fatalf("seeding enter for %s: %v", flowNodeID, err)
	}
	if err := s.te.deps.Persistence.PersistOnExit(ctx, node, instanceID, tk); err != nil {
		s.t.Fatalf("seeding exit for %s: %v", flowNodeID, err)
	}
}

func (s *seeder) running(flowNodeID, instanceID, previousInstanceID string, payload any) {
	s.t.Helper()
	node := s.node(flowNodeID)
	tk := s.token(instanceID, payload)
	if err := s.te.deps.Persistence.PersistOnEnter(context.Background(), node, instanceID, tk, previousInstanceID); err != nil {
		s.t.Fatalf("seeding enter for %s: %v", flowNodeID, err)
	}
}

func (s *seeder) suspended(flowNodeID, instanceID, previousInstanceID string, payload any) {
	s.t.Helper()
	s.running(flowNodeID, instanceID, previousInstanceID, payload)
	node := s.node(flowNodeID)
	tk := s.token(instanceID, payload)
	if err := s.te.deps.Persistence.PersistOnSuspend(context.Background(), node, instanceID, tk); err != nil {
		s.t.Fatalf("seeding suspend for %s: %v", flowNodeID, err)
	}
}

func (s *seeder) resumed(flowNodeID, instanceID string, payload any) {
	s.t.Helper()
	node := s.node(flowNodeID)
	tk := s.token(instanceID, payload)
	if err := s.te.deps.Persistence.PersistOnResume(context.Background(), node, instanceID, tk); err != nil {
		s.t.Fatalf("seeding resume for %s: %v", flowNodeID, err)
	}
}

func (s *seeder) errored(flowNodeID, instanceID, previousInstanceID string, payload any, cause error) {
	s.t.Helper()
	s.running(flowNodeID, instanceID, previousInstanceID, payload)
	node := s.node(flowNodeID)
	tk := s.token(instanceID, payload)
	if err := s.te.deps.Persistence.PersistOnError(context.Background(), node, instanceID, tk, cause); err != nil {
		s.t.Fatalf("seeding error for %s: %v", flowNodeID, err)
	}
}

func approvalModel() *model.Process {
	return &model.Process{
		ID: "approval-resume",
		FlowNodes: []model.FlowNode{
			{ID: "start", Type: model.NodeTypeStartEvent},
			{ID: "review", Type: model.NodeTypeUserTask},
			{ID: "done", Type: model.NodeTypeEndEvent},
		},
		SequenceFlows: []model.SequenceFlow{
			{Source: "start", Target: "review"},
			{Source: "review", Target: "done"},
		},
	}
}

func TestResumeSuspendedUserTask(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, approvalModel())

	seed := newSeeder(t, te, "approval-resume", "pi-1")
	seed.finished("start", "fn-start", "", map[string]any{"orderId": "o-1"})
	seed.suspended("review", "fn-review", "fn-start", map[string]any{"orderId": "o-1"})

	waiting := te.bus.SubscribeOnce(bus.UserTaskWaitingTopic(seed.correlationID, "approval-resume"))
	defer func() { _ = waiting.Close() }()

	type run struct {
		result *engine.EndResult
		err    error
	}
	runCh := make(chan run, 1)
	go func() {
		result, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-1")
		runCh <- run{result, err}
	}()

	var announce bus.Message
	select {
	case announce = <-waiting.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the resumed user task announcement")
	}
	// The resumed handler keeps the persisted instance identity.
	if announce.FlowNodeInstanceID != "fn-review" {
		t.Errorf("announced instance id = %q, want %q", announce.FlowNodeInstanceID, "fn-review")
	}

	te.bus.Publish(bus.UserTaskFinishedTopic("fn-review"), bus.Message{
		Payload:   map[string]any{"approved": true},
		CreatedAt: time.Now(),
	})

	select {
	case r := <-runCh:
		if r.err != nil {
			t.Fatalf("resume failed: %v", r.err)
		}
		if r.result.EndEventID != "done" {
			t.Errorf("EndEventID = %q, want %q", r.result.EndEventID, "done")
		}
		payload := r.result.Payload.(map[string]any)
		if payload["approved"] != true {
			t.Errorf("approved = %v, want true", payload["approved"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the resume to finish")
	}

	// Finished work was replayed, not redone.
	if got := len(te.instancesFor(t, "pi-1", "start")); got != 1 {
		t.Errorf("start has %d instances after resume, want 1", got)
	}
	if got := len(te.instancesFor(t, "pi-1", "review")); got != 1 {
		t.Errorf("review has %d instances after resume, want 1", got)
	}
}

func TestResumeReRunsRunningNode(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, &model.Process{
		ID: "compute-resume",
		FlowNodes: []model.FlowNode{
			{ID: "start", Type: model.NodeTypeStartEvent},
			{ID: "compute", Type: model.NodeTypeScriptTask, Expression: "7"},
			{ID: "done", Type: model.NodeTypeEndEvent},
		},
		SequenceFlows: []model.SequenceFlow{
			{Source: "start", Target: "compute"},
			{Source: "compute", Target: "done"},
		},
	})

	seed := newSeeder(t, te, "compute-resume", "pi-2")
	seed.finished("start", "fn-start", "", nil)
	// Crashed mid-execution: entered, never exited.
	seed.running("compute", "fn-compute", "fn-start", nil)

	result, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-2")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.EndEventID != "done" {
		t.Errorf("EndEventID = %q, want %q", result.EndEventID, "done")
	}
	if result.Payload != 7 {
		t.Errorf("Payload = %v, want 7", result.Payload)
	}

	computes := te.instancesFor(t, "pi-2", "compute")
	if len(computes) != 1 {
		t.Fatalf("compute has %d instances after resume, want 1", len(computes))
	}
	if computes[0].State != persistence.StateFinished {
		t.Errorf("compute state = %q, want finished", computes[0].State)
	}
}

func TestResumeRunningNodeWithResumeToken(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, approvalModel())

	// The user task's suspension was already lifted before the crash; only
	// the exit is missing. Resume must not wait for the task again.
	seed := newSeeder(t, te, "approval-resume", "pi-3")
	seed.finished("start", "fn-start", "", nil)
	seed.suspended("review", "fn-review", "fn-start", nil)
	seed.resumed("review", "fn-review", map[string]any{"approved": true})

	result, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-3")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.EndEventID != "done" {
		t.Errorf("EndEventID = %q, want %q", result.EndEventID, "done")
	}
	payload := result.Payload.(map[string]any)
	if payload["approved"] != true {
		t.Errorf("approved = %v, want true", payload["approved"])
	}
}

func TestResumeErroredInstanceReRaises(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, &model.Process{
		ID: "charge-resume",
		FlowNodes: []model.FlowNode{
			{ID: "start", Type: model.NodeTypeStartEvent},
			{ID: "charge", Type: model.NodeTypeServiceTask, Invocation: &model.Invocation{Module: "billing", Method: "charge"}},
			{ID: "done", Type: model.NodeTypeEndEvent},
		},
		SequenceFlows: []model.SequenceFlow{
			{Source: "start", Target: "charge"},
			{Source: "charge", Target: "done"},
		},
	})

	seed := newSeeder(t, te, "charge-resume", "pi-4")
	seed.finished("start", "fn-start", "", nil)
	seed.errored("charge", "fn-charge", "fn-start", nil,
		&core.BusinessError{Name: "PaymentDeclined", Code: "PAY-42", Message: "card declined"})

	_, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-4")
	be, ok := core.IsBusinessError(err)
	if !ok {
		t.Fatalf("error = %v, want the persisted business error", err)
	}
	if be.Name != "PaymentDeclined" || be.Code != "PAY-42" {
		t.Errorf("business error = %s/%s, want PaymentDeclined/PAY-42", be.Name, be.Code)
	}
}

func TestResumeCompletedJoinDoesNotRefire(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, &model.Process{
		ID: "fanout-resume",
		FlowNodes: []model.FlowNode{
			{ID: "start", Type: model.NodeTypeStartEvent},
			{ID: "split", Type: model.NodeTypeParallelGateway, GatewayDirection: model.GatewayDirectionDiverging},
			{ID: "left", Type: model.NodeTypeScriptTask, Expression: "10"},
			{ID: "right", Type: model.NodeTypeScriptTask, Expression: "20"},
			{ID: "join", Type: model.NodeTypeParallelGateway, GatewayDirection: model.GatewayDirectionConverging},
			{ID: "done", Type: model.NodeTypeEndEvent},
		},
		SequenceFlows: []model.SequenceFlow{
			{Source: "start", Target: "split"},
			{Source: "split", Target: "left"},
			{Source: "split", Target: "right"},
			{Source: "left", Target: "join"},
			{Source: "right", Target: "join"},
			{Source: "join", Target: "done"},
		},
	})

	// Crashed after the join fired but before the end event ran.
	seed := newSeeder(t, te, "fanout-resume", "pi-5")
	seed.finished("start", "fn-start", "", nil)
	seed.finished("split", "fn-split", "fn-start", nil)
	seed.finished("left", "fn-left", "fn-split", 10)
	seed.finished("right", "fn-right", "fn-split", 20)
	seed.finished("join", "fn-join", persistence.JoinPreviousInstanceIDs([]string{"fn-left", "fn-right"}), 20)

	result, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-5")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.EndEventID != "done" {
		t.Errorf("EndEventID = %q, want %q", result.EndEventID, "done")
	}

	if got := len(te.instancesFor(t, "pi-5", "join")); got != 1 {
		t.Errorf("join has %d instances after resume, want 1", got)
	}
	if got := len(te.instancesFor(t, "pi-5", "done")); got != 1 {
		t.Errorf("done has %d instances after resume, want 1", got)
	}
}

func TestResumeReplayedJoinKeepsBranchHistory(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, &model.Process{
		ID: "fanout-history",
		FlowNodes: []model.FlowNode{
			{ID: "start", Type: model.NodeTypeStartEvent},
			{ID: "split", Type: model.NodeTypeParallelGateway, GatewayDirection: model.GatewayDirectionDiverging},
			{ID: "left", Type: model.NodeTypeScriptTask, Expression: "10"},
			{ID: "right", Type: model.NodeTypeScriptTask, Expression: "20"},
			{ID: "join", Type: model.NodeTypeParallelGateway, GatewayDirection: model.GatewayDirectionConverging},
			{ID: "route", Type: model.NodeTypeExclusiveGateway, GatewayDirection: model.GatewayDirectionDiverging, DefaultFlowID: "to-bad"},
			{ID: "ok", Type: model.NodeTypeEndEvent},
			{ID: "bad", Type: model.NodeTypeEndEvent},
		},
		SequenceFlows: []model.SequenceFlow{
			{Source: "start", Target: "split"},
			{Source: "split", Target: "left"},
			{Source: "split", Target: "right"},
			{Source: "left", Target: "join"},
			{Source: "right", Target: "join"},
			{Source: "join", Target: "route"},
			// Sees both branches only when their histories were merged.
			{ID: "to-ok", Source: "route", Target: "ok", Condition: "history.left == 10 && history.right == 20"},
			{ID: "to-bad", Source: "route", Target: "bad"},
		},
	})

	fresh, err := te.exec.StartAndAwaitEndEvent(context.Background(), engine.StartRequest{ProcessModelID: "fanout-history"})
	if err != nil {
		t.Fatalf("fresh run failed: %v", err)
	}
	if fresh.EndEventID != "ok" {
		t.Fatalf("fresh run EndEventID = %q, want %q", fresh.EndEventID, "ok")
	}

	// Crashed after the join fired; resuming must route the same way the
	// fresh run did, with both branch results visible downstream.
	seed := newSeeder(t, te, "fanout-history", "pi-7")
	seed.finished("start", "fn-start", "", nil)
	seed.finished("split", "fn-split", "fn-start", nil)
	seed.finished("left", "fn-left", "fn-split", 10)
	seed.finished("right", "fn-right", "fn-split", 20)
	seed.finished("join", "fn-join", persistence.JoinPreviousInstanceIDs([]string{"fn-left", "fn-right"}), 20)

	resumed, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-7")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.EndEventID != "ok" {
		t.Errorf("resumed EndEventID = %q, want %q", resumed.EndEventID, "ok")
	}
	if got := len(te.instancesFor(t, "pi-7", "join")); got != 1 {
		t.Errorf("join has %d instances after resume, want 1", got)
	}
}

func TestResumeUnknownInstance(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.resume.ResumeProcessInstanceByID(context.Background(), "pi-missing")
	if err == nil {
		t.Fatal("expected an error for an unknown process instance")
	}
	if !strings.Contains(err.Error(), "no persisted state") {
		t.Errorf("error = %v, want a 'no persisted state' error", err)
	}
}

func TestFindAndResumeInterruptedInstances(t *testing.T) {
	te := newTestEngine(t)
	te.deploy(t, &model.Process{
		ID: "pause-resume",
		FlowNodes: []model.FlowNode{
			{ID: "start", Type: model.NodeTypeStartEvent},
			{ID: "hold", Type: model.NodeTypeIntermediateCatchEvent, TimerDefinition: &model.TimerEventDefinition{
				Kind: model.TimerKindDuration, Value: "PT0S",
			}},
			{ID: "done", Type: model.NodeTypeEndEvent},
		},
		SequenceFlows: []model.SequenceFlow{
			{Source: "start", Target: "hold"},
			{Source: "hold", Target: "done"},
		},
	})

	seed := newSeeder(t, te, "pause-resume", "pi-6")
	seed.finished("start", "fn-start", "", "payload-6")
	seed.suspended("hold", "fn-hold", "fn-start", "payload-6")

	// A second interrupted instance whose model is gone; it must be skipped
	// without blocking the first.
	brokenNode := &model.FlowNode{ID: "lost", Type: model.NodeTypeUserTask}
	brokenToken := &core.ProcessToken{
		ProcessInstanceID:  "pi-broken",
		ProcessModelID:     "undeployed-model",
		CorrelationID:      "corr-broken",
		FlowNodeInstanceID: "fn-lost",
	}
	if err := te.deps.Persistence.PersistOnEnter(context.Background(), brokenNode, "fn-lost", brokenToken, ""); err != nil {
		t.Fatalf("seeding broken instance: %v", err)
	}

	results, err := te.resume.FindAndResumeInterruptedInstances(context.Background())
	if err != nil {
		t.Fatalf("FindAndResumeInterruptedInstances: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("resumed %d instances, want 1", len(results))
	}
	if results[0].ProcessInstanceID != "pi-6" {
		t.Errorf("resumed instance = %q, want %q", results[0].ProcessInstanceID, "pi-6")
	}
	if results[0].EndEventID != "done" {
		t.Errorf("EndEventID = %q, want %q", results[0].EndEventID, "done")
	}
	if results[0].Payload != "payload-6" {
		t.Errorf("Payload = %v, want %q", results[0].Payload, "payload-6")
	}
}
