// Package invocation holds the service registry internal service tasks call
// into: named methods grouped under named modules, registered by the host
// application before any process runs.
package invocation

import (
	"context"
	"fmt"
	"sync"

	"github.com/plusxp/process-engine-core/core"
)

// Method is one callable service method. Params carries the evaluated
// argument expression of the invoking task; the returned value becomes the
// task's token result.
type Method func(ctx context.Context, identity core.Identity, params any) (any, error)

// Registry maps module and method names to callable service methods.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]Method
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]map[string]Method),
	}
}

// Register adds a method under a module name. Registering the same pair
// twice is an error; silent replacement hides wiring mistakes.
func (r *Registry) Register(module, method string, fn Method) error {
	if module == "" || method == "" {
		return fmt.Errorf("invocation: module and method names are required")
	}
	if fn == nil {
		return fmt.Errorf("invocation: method %s.%s is nil", module, method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	methods, ok := r.modules[module]
	if !ok {
		methods = make(map[string]Method)
		r.modules[module] = methods
	}
	if _, exists := methods[method]; exists {
		return fmt.Errorf("invocation: method %s.%s already registered", module, method)
	}
	methods[method] = fn
	return nil
}

// Lookup resolves a module and method name. An unresolved name is a
// configuration error: the model references a service that does not exist.
func (r *Registry) Lookup(module, method string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods, ok := r.modules[module]
	if !ok {
		return nil, core.NewConfigurationError("", "service module %q is not registered", module)
	}
	fn, ok := methods[method]
	if !ok {
		return nil, core.NewConfigurationError("", "service method %q is not registered in module %q", method, module)
	}
	return fn, nil
}
