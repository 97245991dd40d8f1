package model

import "fmt"

// Diagnostic represents a validation error or warning produced by process
// model validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "PM-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // path to the offending element
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ExprValidator checks a condition or script expression for syntax errors.
// Returns nil if valid.
type ExprValidator func(expression string) error

// Validate checks structural integrity of the process definition:
//   - PM-001: sequence flow source/target reference existing nodes
//   - PM-002: orphan nodes (warning)
//   - PM-003: node type must be a known type
//   - PM-004: at least one start event
//   - PM-005: duplicate node IDs
//   - PM-006: parallel gateways must declare a single direction
//   - PM-007: cyclic timers are only allowed on start events
//   - PM-008: boundary events must attach to an existing activity
//   - PM-009: at most one event definition per node
//
// Sub-processes are validated recursively.
func (p *Process) Validate() []Diagnostic {
	return p.validate("", nil)
}

// ValidateWithEvaluator runs Validate plus expression syntax checks
// (PM-010) on sequence flow conditions and script task expressions.
func (p *Process) ValidateWithEvaluator(v ExprValidator) []Diagnostic {
	return p.validate("", v)
}

func (p *Process) validate(pathPrefix string, v ExprValidator) []Diagnostic {
	var diags []Diagnostic

	nodeIDs := make(map[string]bool, len(p.FlowNodes))
	nodesByID := make(map[string]*FlowNode, len(p.FlowNodes))

	// PM-005: duplicate node IDs
	for i := range p.FlowNodes {
		node := &p.FlowNodes[i]
		if nodeIDs[node.ID] {
			diags = append(diags, Diagnostic{
				Code:     "PM-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Duplicate node ID %q", node.ID),
				Path:     fmt.Sprintf("%snodes[%d].id", pathPrefix, i),
			})
		}
		nodeIDs[node.ID] = true
		nodesByID[node.ID] = node
	}

	hasStartEvent := false

	for i := range p.FlowNodes {
		node := &p.FlowNodes[i]
		path := fmt.Sprintf("%snodes[%d]", pathPrefix, i)

		// PM-003: unknown node type
		if !knownNodeTypes[node.Type] {
			diags = append(diags, Diagnostic{
				Code:     "PM-003",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q has unknown type %q", node.ID, node.Type),
				Path:     path + ".type",
			})
			continue
		}

		if node.Type == NodeTypeStartEvent {
			hasStartEvent = true
		}

		// PM-006: parallel gateways must be split or join, never both
		if node.Type == NodeTypeParallelGateway &&
			node.GatewayDirection != GatewayDirectionDiverging &&
			node.GatewayDirection != GatewayDirectionConverging {
			diags = append(diags, Diagnostic{
				Code:     "PM-006",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Parallel gateway %q must declare direction %q or %q", node.ID, GatewayDirectionDiverging, GatewayDirectionConverging),
				Path:     path + ".direction",
			})
		}

		// PM-007: cyclic timers only on start events
		if node.TimerDefinition != nil && node.TimerDefinition.Kind == TimerKindCycle && node.Type != NodeTypeStartEvent {
			diags = append(diags, Diagnostic{
				Code:     "PM-007",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q uses a cyclic timer; cyclic timers are only allowed on start events", node.ID),
				Path:     path + ".timer",
			})
		}

		// PM-008: boundary events attach to an existing activity
		if node.Type == NodeTypeBoundaryEvent {
			attached, ok := nodesByID[node.AttachedToID]
			if !ok {
				diags = append(diags, Diagnostic{
					Code:     "PM-008",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Boundary event %q attaches to unknown node %q", node.ID, node.AttachedToID),
					Path:     path + ".attachedTo",
				})
			} else if attached.Type == NodeTypeBoundaryEvent {
				diags = append(diags, Diagnostic{
					Code:     "PM-008",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Boundary event %q cannot attach to another boundary event", node.ID),
					Path:     path + ".attachedTo",
				})
			}
		}

		// PM-009: event definitions are mutually exclusive
		definitions := 0
		if node.TimerDefinition != nil {
			definitions++
		}
		if node.MessageDefinition != nil {
			definitions++
		}
		if node.SignalDefinition != nil {
			definitions++
		}
		if node.ErrorDefinition != nil {
			definitions++
		}
		if node.TerminateDefinition != nil {
			definitions++
		}
		if definitions > 1 {
			diags = append(diags, Diagnostic{
				Code:     "PM-009",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q carries %d event definitions; at most one is allowed", node.ID, definitions),
				Path:     path,
			})
		}

		// PM-010: expression syntax
		if v != nil && node.Type == NodeTypeScriptTask && node.Expression != "" {
			if err := v(node.Expression); err != nil {
				diags = append(diags, Diagnostic{
					Code:     "PM-010",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Script task %q has invalid expression: %v", node.ID, err),
					Path:     path + ".expression",
				})
			}
		}

		// Recurse into sub-processes.
		if node.SubProcess != nil {
			diags = append(diags, node.SubProcess.validate(path+".subProcess.", v)...)
		}
	}

	// PM-001: sequence flow endpoints must reference existing nodes
	for i, flow := range p.SequenceFlows {
		if !nodeIDs[flow.Source] {
			diags = append(diags, Diagnostic{
				Code:     "PM-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Sequence flow source %q references unknown node", flow.Source),
				Path:     fmt.Sprintf("%sflows[%d].source", pathPrefix, i),
			})
		}
		if !nodeIDs[flow.Target] {
			diags = append(diags, Diagnostic{
				Code:     "PM-001",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Sequence flow target %q references unknown node", flow.Target),
				Path:     fmt.Sprintf("%sflows[%d].target", pathPrefix, i),
			})
		}

		// PM-010: condition expression syntax
		if v != nil && flow.Condition != "" {
			if err := v(flow.Condition); err != nil {
				diags = append(diags, Diagnostic{
					Code:     "PM-010",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Sequence flow %s -> %s has invalid condition: %v", flow.Source, flow.Target, err),
					Path:     fmt.Sprintf("%sflows[%d].condition", pathPrefix, i),
				})
			}
		}
	}

	// PM-004: a process without a start event cannot run
	if !hasStartEvent {
		diags = append(diags, Diagnostic{
			Code:     "PM-004",
			Severity: SeverityError,
			Message:  "Process has no start event",
			Path:     pathPrefix + "nodes",
		})
	}

	// PM-002: orphan nodes. Boundary events legitimately have no inbound flow.
	if len(p.FlowNodes) > 1 {
		hasInbound := make(map[string]bool)
		hasOutbound := make(map[string]bool)
		for _, flow := range p.SequenceFlows {
			hasOutbound[flow.Source] = true
			hasInbound[flow.Target] = true
		}
		for i := range p.FlowNodes {
			node := &p.FlowNodes[i]
			if node.Type == NodeTypeBoundaryEvent {
				continue
			}
			if !hasInbound[node.ID] && !hasOutbound[node.ID] {
				diags = append(diags, Diagnostic{
					Code:     "PM-002",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q has no inbound or outbound sequence flows", node.ID),
					Path:     fmt.Sprintf("%snodes[%d]", pathPrefix, i),
				})
			}
		}
	}

	return diags
}
