package model

import (
	"fmt"

	"github.com/plusxp/process-engine-core/core"
)

// Facade provides read-only navigation over one process definition.
// It is built once per process model and safely shared across all instances.
type Facade struct {
	process    *Process
	nodesByID  map[string]*FlowNode
	outgoing   map[string][]*SequenceFlow
	incoming   map[string][]*SequenceFlow
	boundaries map[string][]*FlowNode // activity id -> attached boundary events
}

// NewFacade indexes the given process for navigation.
func NewFacade(process *Process) *Facade {
	f := &Facade{
		process:    process,
		nodesByID:  make(map[string]*FlowNode, len(process.FlowNodes)),
		outgoing:   make(map[string][]*SequenceFlow),
		incoming:   make(map[string][]*SequenceFlow),
		boundaries: make(map[string][]*FlowNode),
	}

	for i := range process.FlowNodes {
		node := &process.FlowNodes[i]
		f.nodesByID[node.ID] = node
		if node.Type == NodeTypeBoundaryEvent {
			f.boundaries[node.AttachedToID] = append(f.boundaries[node.AttachedToID], node)
		}
	}
	for i := range process.SequenceFlows {
		flow := &process.SequenceFlows[i]
		f.outgoing[flow.Source] = append(f.outgoing[flow.Source], flow)
		f.incoming[flow.Target] = append(f.incoming[flow.Target], flow)
	}

	return f
}

// ProcessModelID returns the id of the underlying process definition.
func (f *Facade) ProcessModelID() string {
	return f.process.ID
}

// Process returns the underlying process definition.
func (f *Facade) Process() *Process {
	return f.process
}

// GetFlowNodeByID returns the flow node with the given id.
func (f *Facade) GetFlowNodeByID(id string) (*FlowNode, bool) {
	node, ok := f.nodesByID[id]
	return node, ok
}

// GetStartEvents returns all start events of the process.
func (f *Facade) GetStartEvents() []*FlowNode {
	return f.nodesOfType(NodeTypeStartEvent)
}

// GetStartEventByID returns the start event with the given id. If id is
// empty and the process has exactly one start event, that one is returned.
func (f *Facade) GetStartEventByID(id string) (*FlowNode, error) {
	startEvents := f.GetStartEvents()

	if id == "" {
		if len(startEvents) == 1 {
			return startEvents[0], nil
		}
		return nil, core.NewConfigurationError("", "process %q has %d start events; a start event id is required", f.process.ID, len(startEvents))
	}

	for _, event := range startEvents {
		if event.ID == id {
			return event, nil
		}
	}
	return nil, core.NewConfigurationError(id, "process %q has no start event %q", f.process.ID, id)
}

// GetEndEvents returns all end events of the process.
func (f *Facade) GetEndEvents() []*FlowNode {
	return f.nodesOfType(NodeTypeEndEvent)
}

// GetNextFlowNodesFor returns the targets of all outgoing sequence flows of
// the given node, in declaration order.
func (f *Facade) GetNextFlowNodesFor(node *FlowNode) ([]*FlowNode, error) {
	flows := f.outgoing[node.ID]
	next := make([]*FlowNode, 0, len(flows))
	for _, flow := range flows {
		target, ok := f.nodesByID[flow.Target]
		if !ok {
			return nil, fmt.Errorf("sequence flow %s -> %s: target node not found", flow.Source, flow.Target)
		}
		next = append(next, target)
	}
	return next, nil
}

// GetOutgoingSequenceFlowsFor returns all outgoing flows of the node,
// in declaration order.
func (f *Facade) GetOutgoingSequenceFlowsFor(nodeID string) []*SequenceFlow {
	return f.outgoing[nodeID]
}

// GetIncomingSequenceFlowsFor returns all incoming flows of the node.
func (f *Facade) GetIncomingSequenceFlowsFor(nodeID string) []*SequenceFlow {
	return f.incoming[nodeID]
}

// GetBoundaryEventsFor returns the boundary events attached to the activity.
func (f *Facade) GetBoundaryEventsFor(node *FlowNode) []*FlowNode {
	return f.boundaries[node.ID]
}

// GetSubProcessFacade returns a facade over the nested graph of the given
// sub-process node.
func (f *Facade) GetSubProcessFacade(node *FlowNode) (*Facade, error) {
	if node.Type != NodeTypeSubProcess || node.SubProcess == nil {
		return nil, core.NewConfigurationError(node.ID, "node %q is not a sub-process", node.ID)
	}
	return NewFacade(node.SubProcess), nil
}

func (f *Facade) nodesOfType(t NodeType) []*FlowNode {
	var nodes []*FlowNode
	for i := range f.process.FlowNodes {
		node := &f.process.FlowNodes[i]
		if node.Type == t {
			nodes = append(nodes, node)
		}
	}
	return nodes
}
