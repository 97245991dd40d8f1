// Package expression provides the sandboxed expression evaluation used for
// sequence-flow conditions, script tasks and invocation arguments.
//
// Expressions are evaluated against the token view {current, history} and
// must be side-effect-free; arbitrary code execution is not available.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates expressions against a token environment.
type Evaluator interface {
	// Evaluate runs the expression and returns its result.
	Evaluate(expression string, env map[string]any) (any, error)

	// EvaluateBool runs the expression and requires a boolean result.
	EvaluateBool(expression string, env map[string]any) (bool, error)

	// Validate checks the expression for syntax errors without running it.
	Validate(expression string) error
}

// ExprEvaluator is an Evaluator backed by expr-lang/expr with a
// compiled-program cache.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate compiles (or reuses) the program and runs it against env.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", expression, err)
	}
	return result, nil
}

// EvaluateBool evaluates the expression and asserts a boolean result.
func (e *ExprEvaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	result, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, result)
	}
	return boolResult, nil
}

// Validate compiles the expression, caching it on success.
func (e *ExprEvaluator) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

// compile returns the cached program for the expression, compiling it once.
// Programs are compiled without a typed environment so one program can be
// reused across tokens with differing payload shapes.
func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", expression, err)
	}
	e.cache[expression] = program
	return program, nil
}

// Ensure interface compliance at compile time.
var _ Evaluator = (*ExprEvaluator)(nil)
