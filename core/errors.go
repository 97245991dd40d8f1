package core

import (
	"errors"
	"fmt"
)

// BusinessError is a named and coded error raised intentionally through an
// ErrorEndEvent. It is matchable by ErrorBoundaryEvents and expected to be
// caught somewhere in the process graph.
type BusinessError struct {
	Name    string
	Code    string
	Message string
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%s): %s", e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.Code)
}

// ConfigurationError marks a process model that cannot be executed as
// modelled: malformed timer definitions, mixed-direction parallel gateways,
// unmatched exclusive-gateway conditions, unregistered node types.
// It is fatal and never retried.
type ConfigurationError struct {
	Message    string
	FlowNodeID string // offending flow node, for diagnostics; may be empty
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.FlowNodeID != "" {
		return fmt.Sprintf("unprocessable flow node %q: %s", e.FlowNodeID, e.Message)
	}
	return "unprocessable process model: " + e.Message
}

// NewConfigurationError creates a ConfigurationError for the given flow node.
func NewConfigurationError(flowNodeID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Message:    fmt.Sprintf(format, args...),
		FlowNodeID: flowNodeID,
	}
}

// TerminationError aborts every live handler of a process instance after a
// TerminateEndEvent was reached.
type TerminationError struct {
	EndEventID string // id of the terminating end event; may be empty
}

// Error implements the error interface.
func (e *TerminationError) Error() string {
	if e.EndEventID != "" {
		return fmt.Sprintf("process was terminated through end event %q", e.EndEventID)
	}
	return "process was terminated"
}

// IsBusinessError reports whether err is (or wraps) a BusinessError and
// returns it.
func IsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTerminationError reports whether err is (or wraps) a TerminationError.
func IsTerminationError(err error) bool {
	var te *TerminationError
	return errors.As(err, &te)
}
