// Package core provides the foundational types for the process engine.
//
// This package contains:
//   - ProcessToken: the routing unit carried through a process instance
//   - Identity: the acting principal attached to every token
//   - Domain error types: BusinessError, ConfigurationError, TerminationError
package core

import "context"

// Identity is the acting principal attached to every ProcessToken.
type Identity struct {
	UserID string // stable user identifier
	Token  string // opaque auth token, passed through to collaborators
}

// IdentityProvider supplies the acting principal for new process instances.
type IdentityProvider interface {
	GetIdentity(ctx context.Context) (Identity, error)
}

// StaticIdentityProvider always returns the same identity.
// Useful for single-tenant deployments and tests.
type StaticIdentityProvider struct {
	Identity Identity
}

// GetIdentity returns the configured identity.
func (p StaticIdentityProvider) GetIdentity(context.Context) (Identity, error) {
	return p.Identity, nil
}

// ProcessToken is the unit of routing state for one control-flow point.
// A new token is minted whenever execution forks into a parallel branch or
// into a sub-process; tokens are never shared by mutation across branches.
type ProcessToken struct {
	ProcessInstanceID  string
	ProcessModelID     string
	CorrelationID      string
	Identity           Identity
	Caller             string // parent process instance id; set only for sub-process tokens
	FlowNodeInstanceID string // the flow node instance currently holding the token
	Payload            any    // current value, arbitrary structured data
}

// Clone returns a shallow copy of the token. Payload is shared; branch-local
// handlers replace the payload rather than mutating it in place.
func (t *ProcessToken) Clone() *ProcessToken {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Ensure interface compliance at compile time.
var _ IdentityProvider = StaticIdentityProvider{}
