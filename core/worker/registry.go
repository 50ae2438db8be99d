package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

// Runner executes one model variant. Implementations must be pure with
// respect to their arguments: re-running identical Args yields an identical
// series, or the same typed failure again.
type Runner interface {
	Run(ctx context.Context, args job.Args) (timeseries.Series, *job.Failure)
}

// Registration binds a model identifier to its runner and fallback policy.
type Registration struct {
	ID     string
	Runner Runner
	// Fallback is the model tried next when this one fails, if any.
	Fallback string
	// RelaxesRestrictions marks models that can succeed where a stricter
	// sibling reported infeasibility. The fallback resolver only retries an
	// infeasible schedule with a model carrying this flag.
	RelaxesRestrictions bool
	// Unit is the unit of the produced series, reported by status reads.
	Unit string
}

// Registry resolves model identifiers to registrations. It replaces any
// ambient model lookup: constructed at process start and passed by reference.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a registration. Duplicate identifiers are rejected.
func (r *Registry) Register(reg Registration) error {
	if reg.ID == "" || reg.Runner == nil {
		return fmt.Errorf("registration requires an id and a runner")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[reg.ID]; ok {
		return fmt.Errorf("model %q already registered", reg.ID)
	}
	r.entries[reg.ID] = reg
	return nil
}

// Resolve returns the registration for the identifier.
func (r *Registry) Resolve(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[id]
	return reg, ok
}
