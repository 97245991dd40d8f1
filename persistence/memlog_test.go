package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
)

func testNode(id string, nodeType model.NodeType) *model.FlowNode {
	return &model.FlowNode{ID: id, Type: nodeType}
}

func testToken(processInstanceID string) *core.ProcessToken {
	return &core.ProcessToken{
		ProcessInstanceID: processInstanceID,
		ProcessModelID:    "order-process",
		CorrelationID:     "corr-1",
		Payload:           map[string]any{"amount": 10},
	}
}

func TestMemLogLifecycle(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()
	node := testNode("task-1", model.NodeTypeServiceTask)
	token := testToken("pi-1")

	if err := log.PersistOnEnter(ctx, node, "fni-1", token, "fni-0"); err != nil {
		t.Fatalf("PersistOnEnter: %v", err)
	}
	if err := log.PersistOnSuspend(ctx, node, "fni-1", token); err != nil {
		t.Fatalf("PersistOnSuspend: %v", err)
	}
	if err := log.PersistOnResume(ctx, node, "fni-1", token); err != nil {
		t.Fatalf("PersistOnResume: %v", err)
	}
	if err := log.PersistOnExit(ctx, node, "fni-1", token); err != nil {
		t.Fatalf("PersistOnExit: %v", err)
	}

	instances, err := log.QueryByProcessInstance(ctx, "pi-1")
	if err != nil {
		t.Fatalf("QueryByProcessInstance: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("got %d instances, want 1", len(instances))
	}

	instance := instances[0]
	if instance.State != StateFinished {
		t.Errorf("state = %s, want %s", instance.State, StateFinished)
	}
	if instance.PreviousInstanceID != "fni-0" {
		t.Errorf("previous instance id = %q, want %q", instance.PreviousInstanceID, "fni-0")
	}
	if len(instance.Tokens) != 4 {
		t.Fatalf("got %d token snapshots, want 4", len(instance.Tokens))
	}

	wantStages := []Stage{StageOnEnter, StageOnSuspend, StageOnResume, StageOnExit}
	for i, want := range wantStages {
		if instance.Tokens[i].Stage != want {
			t.Errorf("token %d stage = %s, want %s", i, instance.Tokens[i].Stage, want)
		}
	}
}

func TestMemLogQueryActive(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()
	node := testNode("task-1", model.NodeTypeServiceTask)

	if err := log.PersistOnEnter(ctx, node, "fni-1", testToken("pi-1"), ""); err != nil {
		t.Fatal(err)
	}
	if err := log.PersistOnEnter(ctx, node, "fni-2", testToken("pi-2"), ""); err != nil {
		t.Fatal(err)
	}
	if err := log.PersistOnSuspend(ctx, node, "fni-2", testToken("pi-2")); err != nil {
		t.Fatal(err)
	}
	if err := log.PersistOnEnter(ctx, node, "fni-3", testToken("pi-3"), ""); err != nil {
		t.Fatal(err)
	}
	if err := log.PersistOnExit(ctx, node, "fni-3", testToken("pi-3")); err != nil {
		t.Fatal(err)
	}

	active, err := log.QueryActive(ctx)
	if err != nil {
		t.Fatalf("QueryActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active instances, want 2", len(active))
	}
	if active[0].ID != "fni-1" || active[1].ID != "fni-2" {
		t.Errorf("active ids = %s, %s; want fni-1, fni-2", active[0].ID, active[1].ID)
	}
}

func TestMemLogPersistOnErrorKeepsBusinessError(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()
	node := testNode("task-1", model.NodeTypeServiceTask)
	token := testToken("pi-1")

	if err := log.PersistOnEnter(ctx, node, "fni-1", token, ""); err != nil {
		t.Fatal(err)
	}

	cause := &core.BusinessError{Name: "OutOfStock", Code: "OOS-1", Message: "no stock left"}
	if err := log.PersistOnError(ctx, node, "fni-1", token, cause); err != nil {
		t.Fatalf("PersistOnError: %v", err)
	}

	instances, err := log.QueryByProcessInstance(ctx, "pi-1")
	if err != nil {
		t.Fatal(err)
	}

	restored := instances[0].Error.ToError()
	be, ok := core.IsBusinessError(restored)
	if !ok {
		t.Fatalf("restored error %v is not a business error", restored)
	}
	if be.Name != "OutOfStock" || be.Code != "OOS-1" {
		t.Errorf("restored error = %+v, want name OutOfStock code OOS-1", be)
	}
}

func TestMemLogTransitionUnknownInstance(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()
	node := testNode("task-1", model.NodeTypeServiceTask)

	err := log.PersistOnExit(ctx, node, "missing", testToken("pi-1"))
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("got %v, want ErrInstanceNotFound", err)
	}
}

func TestSplitPreviousInstanceIDs(t *testing.T) {
	joined := JoinPreviousInstanceIDs([]string{"a", "b", "c"})
	ids := SplitPreviousInstanceIDs(joined)
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("got %v, want [a b c]", ids)
	}
	if got := SplitPreviousInstanceIDs(""); got != nil {
		t.Errorf("empty input: got %v, want nil", got)
	}
}
