// Package token owns the token-result history for one process-instance
// execution context, including per-branch sub-contexts for parallel
// execution.
package token

import (
	"sync"

	"github.com/plusxp/process-engine-core/core"
)

// Result is the recorded outcome of one flow node instance.
type Result struct {
	FlowNodeID         string
	FlowNodeInstanceID string
	Value              any
}

// Facade accumulates flow node results for one execution context.
//
// A facade created via ForParallelBranch shares the history recorded so far
// but accumulates further results independently, so concurrent branches
// never race on the same mutable history. Join gateways merge branch
// histories back together via MergeResults.
type Facade struct {
	processInstanceID string
	processModelID    string
	correlationID     string
	identity          core.Identity

	mu      sync.Mutex
	results []Result
	seen    map[string]bool // flow node instance ids already recorded
}

// NewFacade creates an empty result facade for one process instance.
func NewFacade(processInstanceID, processModelID, correlationID string, identity core.Identity) *Facade {
	return &Facade{
		processInstanceID: processInstanceID,
		processModelID:    processModelID,
		correlationID:     correlationID,
		identity:          identity,
		seen:              make(map[string]bool),
	}
}

// ProcessInstanceID returns the process instance this facade belongs to.
func (f *Facade) ProcessInstanceID() string { return f.processInstanceID }

// ProcessModelID returns the process model id of this execution context.
func (f *Facade) ProcessModelID() string { return f.processModelID }

// CorrelationID returns the correlation id of this execution context.
func (f *Facade) CorrelationID() string { return f.correlationID }

// Identity returns the principal that started the process instance.
func (f *Facade) Identity() core.Identity { return f.identity }

// AddResultForFlowNode records the result of one flow node instance.
// Re-recording an instance id that already has a result is a no-op; this
// guards against duplicate recording after a broken execution chain.
func (f *Facade) AddResultForFlowNode(flowNodeID, flowNodeInstanceID string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seen[flowNodeInstanceID] {
		return
	}
	f.seen[flowNodeInstanceID] = true
	f.results = append(f.results, Result{
		FlowNodeID:         flowNodeID,
		FlowNodeInstanceID: flowNodeInstanceID,
		Value:              value,
	})
}

// GetAllResults returns all recorded results, ordered by recording time.
func (f *Facade) GetAllResults() []Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	results := make([]Result, len(f.results))
	copy(results, f.results)
	return results
}

// HasResultForFlowNode reports whether any result was recorded for the
// given flow node id. Used by join gateways to check their predecessor set.
func (f *Facade) HasResultForFlowNode(flowNodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.results {
		if r.FlowNodeID == flowNodeID {
			return true
		}
	}
	return false
}

// GetOldTokenFormat builds the {current, history} token view by replaying
// all recorded results: history holds the first recorded value per flow node
// key, current is the most recently recorded payload.
func (f *Facade) GetOldTokenFormat() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	history := make(map[string]any, len(f.results))
	var current any
	for _, r := range f.results {
		if _, ok := history[r.FlowNodeID]; !ok {
			history[r.FlowNodeID] = r.Value
		}
		current = r.Value
	}

	return map[string]any{
		"current": current,
		"history": history,
	}
}

// CreateProcessToken mints a new token for this execution context.
func (f *Facade) CreateProcessToken(payload any) *core.ProcessToken {
	return &core.ProcessToken{
		ProcessInstanceID: f.processInstanceID,
		ProcessModelID:    f.processModelID,
		CorrelationID:     f.correlationID,
		Identity:          f.identity,
		Payload:           payload,
	}
}

// ForParallelBranch returns a facade that shares the history recorded so far
// but accumulates further results independently.
func (f *Facade) ForParallelBranch() *Facade {
	f.mu.Lock()
	defer f.mu.Unlock()

	branch := NewFacade(f.processInstanceID, f.processModelID, f.correlationID, f.identity)
	branch.results = make([]Result, len(f.results))
	copy(branch.results, f.results)
	for id := range f.seen {
		branch.seen[id] = true
	}
	return branch
}

// MergeResults folds another context's results into this facade. Only
// results whose flow node instance id has no matching entry yet are
// inserted; existing entries are never overwritten.
func (f *Facade) MergeResults(results []Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range results {
		if f.seen[r.FlowNodeInstanceID] {
			continue
		}
		f.seen[r.FlowNodeInstanceID] = true
		f.results = append(f.results, r)
	}
}
