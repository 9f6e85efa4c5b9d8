// Package rollback implements the branching controller's compensating-action
// registry: a LIFO of closures installed as each resource is
// acquired during a multi-step operation, unwound in reverse order the
// moment any later step fails.
package rollback

import "github.com/cuemby/pgbranch/pkg/log"

// Registry accumulates compensating actions for one controller operation.
// Not safe for concurrent use by multiple goroutines; each operation owns
// its own Registry.
type Registry struct {
	actions []func()
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Add appends a compensating closure to the end of the LIFO.
func (r *Registry) Add(action func()) {
	r.actions = append(r.actions, action)
}

// Clear discards every registered action without running them, for the
// success path once an operation has fully committed.
func (r *Registry) Clear() {
	r.actions = nil
}

// Execute runs every registered action in reverse insertion order. Each
// closure is expected to swallow its own errors (log-and-continue) so that
// one failing compensator never stops the rest of the unwind; Execute
// itself never returns an error for the same reason.
func (r *Registry) Execute() {
	logger := log.WithComponent("rollback")
	for i := len(r.actions) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Warn().Interface("panic", p).Msg("rollback action panicked, continuing unwind")
				}
			}()
			r.actions[i]()
		}()
	}
	r.actions = nil
}

// Len reports how many compensating actions are currently registered.
func (r *Registry) Len() int {
	return len(r.actions)
}
