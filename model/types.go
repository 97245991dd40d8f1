// Package model defines the immutable process graph consumed by the engine:
// typed flow nodes, sequence flows, lanes and the read-only facade used to
// navigate one process definition.
//
// A Process is created at deploy time, never mutated at runtime, and shared
// read-only by all of its instances.
package model

// NodeType identifies the type of a flow node.
type NodeType string

const (
	NodeTypeStartEvent             NodeType = "startEvent"
	NodeTypeEndEvent               NodeType = "endEvent"
	NodeTypeExclusiveGateway       NodeType = "exclusiveGateway"
	NodeTypeParallelGateway        NodeType = "parallelGateway"
	NodeTypeServiceTask            NodeType = "serviceTask"
	NodeTypeUserTask               NodeType = "userTask"
	NodeTypeScriptTask             NodeType = "scriptTask"
	NodeTypeSubProcess             NodeType = "subProcess"
	NodeTypeIntermediateCatchEvent NodeType = "intermediateCatchEvent"
	NodeTypeIntermediateThrowEvent NodeType = "intermediateThrowEvent"
	NodeTypeBoundaryEvent          NodeType = "boundaryEvent"
)

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// knownNodeTypes is the set of node types the engine can execute.
var knownNodeTypes = map[NodeType]bool{
	NodeTypeStartEvent:             true,
	NodeTypeEndEvent:               true,
	NodeTypeExclusiveGateway:       true,
	NodeTypeParallelGateway:        true,
	NodeTypeServiceTask:            true,
	NodeTypeUserTask:               true,
	NodeTypeScriptTask:             true,
	NodeTypeSubProcess:             true,
	NodeTypeIntermediateCatchEvent: true,
	NodeTypeIntermediateThrowEvent: true,
	NodeTypeBoundaryEvent:          true,
}

// GatewayDirection tells a gateway apart as split or join.
// A gateway must be one or the other; mixed gateways are not supported.
type GatewayDirection string

const (
	GatewayDirectionDiverging  GatewayDirection = "diverging"  // split
	GatewayDirectionConverging GatewayDirection = "converging" // join
)

// TimerKind is the kind of a timer event definition.
type TimerKind string

const (
	TimerKindDuration TimerKind = "duration" // ISO-8601 duration, one-shot
	TimerKindDate     TimerKind = "date"     // ISO-8601 timestamp, one-shot
	TimerKindCycle    TimerKind = "cycle"    // ISO-8601 duration, periodic; start events only
)

// TimerEventDefinition configures a timer event.
type TimerEventDefinition struct {
	Kind  TimerKind `yaml:"kind" json:"kind"`
	Value string    `yaml:"value" json:"value"`
}

// MessageEventDefinition names the message a message event throws or catches.
type MessageEventDefinition struct {
	Name string `yaml:"name" json:"name"`
}

// SignalEventDefinition names the signal a signal event throws or catches.
type SignalEventDefinition struct {
	Name string `yaml:"name" json:"name"`
}

// ErrorEventDefinition describes the business error raised by an
// ErrorEndEvent or matched by an ErrorBoundaryEvent. Empty fields match any
// error on boundary events.
type ErrorEventDefinition struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Code    string `yaml:"code,omitempty" json:"code,omitempty"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// TerminateEventDefinition marks a TerminateEndEvent.
type TerminateEventDefinition struct{}

// Invocation is the invocation spec of an internal service task: a named
// method in a named module of the service registry, with an optional
// argument expression evaluated against the token.
type Invocation struct {
	Module string `yaml:"module" json:"module"`
	Method string `yaml:"method" json:"method"`
	Params string `yaml:"params,omitempty" json:"params,omitempty"`
}

// FlowNode is one typed vertex in a process graph. Only the fields matching
// its Type are set; event definitions are mutually exclusive.
type FlowNode struct {
	ID     string   `yaml:"id" json:"id"`
	Name   string   `yaml:"name,omitempty" json:"name,omitempty"`
	Type   NodeType `yaml:"type" json:"type"`
	LaneID string   `yaml:"lane,omitempty" json:"lane,omitempty"`

	// Event definitions (mutually exclusive, may all be absent).
	TimerDefinition     *TimerEventDefinition     `yaml:"timer,omitempty" json:"timer,omitempty"`
	MessageDefinition   *MessageEventDefinition   `yaml:"message,omitempty" json:"message,omitempty"`
	SignalDefinition    *SignalEventDefinition    `yaml:"signal,omitempty" json:"signal,omitempty"`
	ErrorDefinition     *ErrorEventDefinition     `yaml:"error,omitempty" json:"error,omitempty"`
	TerminateDefinition *TerminateEventDefinition `yaml:"terminate,omitempty" json:"terminate,omitempty"`

	// Gateways.
	GatewayDirection GatewayDirection `yaml:"direction,omitempty" json:"direction,omitempty"`
	DefaultFlowID    string           `yaml:"defaultFlow,omitempty" json:"defaultFlow,omitempty"`

	// Service tasks. External tasks carry a worker topic instead of an
	// invocation spec.
	Invocation *Invocation `yaml:"invocation,omitempty" json:"invocation,omitempty"`
	External   bool        `yaml:"external,omitempty" json:"external,omitempty"`
	Topic      string      `yaml:"topic,omitempty" json:"topic,omitempty"`

	// Script tasks.
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`

	// Boundary events.
	AttachedToID string `yaml:"attachedTo,omitempty" json:"attachedTo,omitempty"`

	// Sub-processes carry their own nested graph.
	SubProcess *Process `yaml:"subProcess,omitempty" json:"subProcess,omitempty"`
}

// SequenceFlow connects a source flow node to a target flow node. The
// optional condition expression is evaluated by exclusive split gateways.
type SequenceFlow struct {
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Source    string `yaml:"source" json:"source"`
	Target    string `yaml:"target" json:"target"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Lane groups flow nodes under a role.
type Lane struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Role string `yaml:"role,omitempty" json:"role,omitempty"`
}

// Process is the immutable graph for one process definition.
type Process struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name,omitempty" json:"name,omitempty"`
	Version       string            `yaml:"version,omitempty" json:"version,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Lanes         []Lane            `yaml:"lanes,omitempty" json:"lanes,omitempty"`
	FlowNodes     []FlowNode        `yaml:"nodes" json:"nodes"`
	SequenceFlows []SequenceFlow    `yaml:"flows" json:"flows"`
}
