package engine

import (
	"sync"

	"github.com/petrijr/dealflow/internal/statemachine"
	"github.com/petrijr/dealflow/pkg/api"
)

// machineRegistry caches one state machine per workflow version. Versions
// are immutable, so an entry never needs invalidating.
type machineRegistry struct {
	mu        sync.RWMutex
	byVersion map[string]*statemachine.Machine
	opts      []statemachine.Option
}

func newMachineRegistry(opts ...statemachine.Option) *machineRegistry {
	return &machineRegistry{
		byVersion: make(map[string]*statemachine.Machine),
		opts:      opts,
	}
}

// Get returns the machine for v, building it on first use.
func (r *machineRegistry) Get(v *api.WorkflowVersion) *statemachine.Machine {
	r.mu.RLock()
	m, ok := r.byVersion[v.ID]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.byVersion[v.ID]; ok {
		return m
	}
	m = statemachine.New(v.Template, r.opts...)
	if v.ID != "" {
		r.byVersion[v.ID] = m
	}
	return m
}

// Len reports the number of cached machines.
func (r *machineRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byVersion)
}
