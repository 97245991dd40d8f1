package token

import (
	"testing"

	"github.com/plusxp/process-engine-core/core"
)

func newTestFacade() *Facade {
	return NewFacade("pi-1", "model-1", "corr-1", core.Identity{UserID: "tester"})
}

func TestOldTokenFormatKeepsFirstValuePerFlowNode(t *testing.T) {
	f := newTestFacade()
	f.AddResultForFlowNode("fetch", "fn-1", 10)
	f.AddResultForFlowNode("fetch", "fn-2", 99)
	f.AddResultForFlowNode("score", "fn-3", 20)

	view := f.GetOldTokenFormat()
	if view["current"] != 20 {
		t.Errorf("current = %v, want the most recent value 20", view["current"])
	}

	history := view["history"].(map[string]any)
	// A second run of the same flow node must not shadow the first.
	if history["fetch"] != 10 {
		t.Errorf("history.fetch = %v, want the first recorded value 10", history["fetch"])
	}
	if history["score"] != 20 {
		t.Errorf("history.score = %v, want 20", history["score"])
	}
}

func TestAddResultIgnoresDuplicateInstanceID(t *testing.T) {
	f := newTestFacade()
	f.AddResultForFlowNode("fetch", "fn-1", 10)
	f.AddResultForFlowNode("fetch", "fn-1", 99)

	results := f.GetAllResults()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Value != 10 {
		t.Errorf("recorded value = %v, want the original 10", results[0].Value)
	}
}

func TestForParallelBranchIsolation(t *testing.T) {
	parent := newTestFacade()
	parent.AddResultForFlowNode("shared", "fn-1", 1)

	branch := parent.ForParallelBranch()
	if !branch.HasResultForFlowNode("shared") {
		t.Error("branch is missing the history recorded before the fork")
	}

	branch.AddResultForFlowNode("left", "fn-2", 2)
	parent.AddResultForFlowNode("right", "fn-3", 3)

	// Results recorded after the fork stay on their own side.
	if parent.HasResultForFlowNode("left") {
		t.Error("branch result leaked into the parent")
	}
	if branch.HasResultForFlowNode("right") {
		t.Error("parent result leaked into the branch")
	}
}

func TestMergeResultsNeverOverwrites(t *testing.T) {
	f := newTestFacade()
	f.AddResultForFlowNode("fetch", "fn-1", 10)

	f.MergeResults([]Result{
		{FlowNodeID: "fetch", FlowNodeInstanceID: "fn-1", Value: 99},
		{FlowNodeID: "score", FlowNodeInstanceID: "fn-2", Value: 20},
	})

	results := f.GetAllResults()
	if len(results) != 2 {
		t.Fatalf("got %d results after merge, want 2", len(results))
	}

	view := f.GetOldTokenFormat()
	history := view["history"].(map[string]any)
	if history["fetch"] != 10 {
		t.Errorf("history.fetch = %v, want the pre-merge value 10", history["fetch"])
	}
	if history["score"] != 20 {
		t.Errorf("history.score = %v, want the merged value 20", history["score"])
	}
}
