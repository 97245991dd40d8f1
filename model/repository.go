package model

import (
	"fmt"
	"sort"
	"sync"
)

// Repository holds the deployed process definitions the engine can start.
// Deployment validates the model; a model with validation errors is rejected.
type Repository struct {
	mu        sync.RWMutex
	processes map[string]*Process
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		processes: make(map[string]*Process),
	}
}

// Deploy validates and stores a process definition. Redeploying an id
// replaces the stored definition; running instances keep their facade.
func (r *Repository) Deploy(process *Process) error {
	if process == nil || process.ID == "" {
		return fmt.Errorf("model: process id is required")
	}

	diagnostics := process.Validate()
	for _, d := range diagnostics {
		if d.Severity == SeverityError {
			return fmt.Errorf("model: process %q failed validation: %s: %s", process.ID, d.Code, d.Message)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[process.ID] = process
	return nil
}

// Get returns a facade over the deployed process with the given id.
func (r *Repository) Get(processModelID string) (*Facade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	process, ok := r.processes[processModelID]
	if !ok {
		return nil, fmt.Errorf("model: process %q is not deployed", processModelID)
	}
	return NewFacade(process), nil
}

// IDs returns the ids of all deployed processes, sorted.
func (r *Repository) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.processes))
	for id := range r.processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
