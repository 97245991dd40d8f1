// Package persistence defines the instance-log contract the engine requires
// from durable storage: flow node instance records with their staged token
// snapshots, plus the persistOn* hooks and queries over them.
//
// Records are created on first entry into a node, mutated only by the
// persistence hooks of the owning handler, and never deleted by the engine.
package persistence

import (
	"strings"
	"time"

	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/model"
)

// State is the life-cycle state of one flow node instance.
type State string

const (
	StateRunning    State = "running"
	StateSuspended  State = "suspended"
	StateFinished   State = "finished"
	StateError      State = "error"
	StateTerminated State = "terminated"
)

// Stage tags a token snapshot with the life-cycle point it was recorded at.
type Stage string

const (
	StageOnEnter   Stage = "onEnter"
	StageOnSuspend Stage = "onSuspend"
	StageOnResume  Stage = "onResume"
	StageOnExit    Stage = "onExit"
)

// TokenSnapshot is one persisted token state, tagged with its stage.
type TokenSnapshot struct {
	Stage     Stage
	Payload   any
	Caller    string
	Identity  core.Identity
	CreatedAt time.Time
}

// InstanceError is the persisted form of a handler failure. Name and Code
// are set for business errors so they survive a crash-and-resume cycle.
type InstanceError struct {
	Name    string
	Code    string
	Message string
}

// ToError reconstructs the error the instance failed with.
func (e *InstanceError) ToError() error {
	if e == nil {
		return nil
	}
	if e.Name != "" || e.Code != "" {
		return &core.BusinessError{Name: e.Name, Code: e.Code, Message: e.Message}
	}
	return &persistedError{message: e.Message}
}

// NewInstanceError converts an error into its persisted form.
func NewInstanceError(err error) *InstanceError {
	if err == nil {
		return nil
	}
	if be, ok := core.IsBusinessError(err); ok {
		return &InstanceError{Name: be.Name, Code: be.Code, Message: be.Message}
	}
	return &InstanceError{Message: err.Error()}
}

type persistedError struct {
	message string
}

func (e *persistedError) Error() string { return e.message }

// FlowNodeInstance is the persisted record of one handler's execution of one
// flow node.
type FlowNodeInstance struct {
	ID                 string
	FlowNodeID         string
	FlowNodeType       model.NodeType
	ProcessInstanceID  string
	ProcessModelID     string
	CorrelationID      string
	PreviousInstanceID string // may be delimiter-joined for join gateways
	State              State
	Error              *InstanceError
	Tokens             []TokenSnapshot // ordered by recording time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive reports whether the instance is still running or suspended.
func (i *FlowNodeInstance) IsActive() bool {
	return i.State == StateRunning || i.State == StateSuspended
}

// TokenAt returns the latest token snapshot recorded at the given stage.
func (i *FlowNodeInstance) TokenAt(stage Stage) (*TokenSnapshot, bool) {
	for n := len(i.Tokens) - 1; n >= 0; n-- {
		if i.Tokens[n].Stage == stage {
			return &i.Tokens[n], true
		}
	}
	return nil, false
}

// TokenFor rebuilds a ProcessToken from the latest snapshot at the stage.
func (i *FlowNodeInstance) TokenFor(stage Stage) (*core.ProcessToken, bool) {
	snapshot, ok := i.TokenAt(stage)
	if !ok {
		return nil, false
	}
	return &core.ProcessToken{
		ProcessInstanceID:  i.ProcessInstanceID,
		ProcessModelID:     i.ProcessModelID,
		CorrelationID:      i.CorrelationID,
		Identity:           snapshot.Identity,
		Caller:             snapshot.Caller,
		FlowNodeInstanceID: i.ID,
		Payload:            snapshot.Payload,
	}, true
}

// previousInstanceDelimiter joins the predecessor instance ids a join
// gateway records into one field.
const previousInstanceDelimiter = ";"

// JoinPreviousInstanceIDs encodes multiple predecessor instance ids into the
// PreviousInstanceID field of a join gateway.
func JoinPreviousInstanceIDs(ids []string) string {
	return strings.Join(ids, previousInstanceDelimiter)
}

// SplitPreviousInstanceIDs decodes a possibly delimiter-joined
// PreviousInstanceID field.
func SplitPreviousInstanceIDs(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, previousInstanceDelimiter)
}
