// Package scheduler implements the pluggable upstream-selection policies:
// pick a node for the next client request and absorb success/failure
// feedback that mutates node state. Every concrete policy is safe for
// concurrent use; a process-wide registry holds the currently active one.
package scheduler

import (
	"context"
	"sync"

	"github.com/nodeforge/proxypool/internal/store"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

// Scheduler is the contract every policy implements (spec.md §4.2).
type Scheduler interface {
	// Pick returns a node suitable for the next client request, or nil if
	// the candidate set ({is_active AND is_healthy}) is empty. On a
	// non-nil return the node's current_connections has already been
	// incremented and persisted.
	Pick(ctx context.Context) (*store.Node, error)

	// ReportSuccess decrements current_connections saturatingly and may
	// update policy-specific fields (response_time_ms).
	ReportSuccess(ctx context.Context, nodeID int64, responseTimeMS float64) error

	// ReportFailure decrements current_connections saturatingly and may
	// update policy-specific fields (success_rate).
	ReportFailure(ctx context.Context, nodeID int64, errMsg string) error

	// Name identifies the policy kind for the admin API and registry.
	Name() string
}

// Kind enumerates the policies constructable through the registry.
// Rule-based is deliberately excluded: it is only constructable via code
// configuration in this version (spec.md §4.2.5).
type Kind string

const (
	KindRandom      Kind = "random"
	KindRoundRobin  Kind = "round_robin"
	KindHealthFirst Kind = "health_first"
)

// candidates loads the {is_active AND is_healthy} pool shared by every
// policy's Pick implementation.
func candidates(ctx context.Context, s store.Store) ([]*store.Node, error) {
	active := true
	healthy := true
	return s.List(ctx, store.Filters{IsActive: &active, IsHealthy: &healthy}, 0, 0)
}

// reconciler is implemented by store.CachedStore. Every policy's
// ReportSuccess/ReportFailure calls decrementAndReconcile instead of
// DecrementConnections directly so the durable row never drifts from the
// fast counter cache by more than the reconcile window.
type reconciler interface {
	Reconcile(ctx context.Context, id int64) error
}

// decrementAndReconcile decrements current_connections and, if s is a
// fast-counter-cached store, immediately flushes that counter back to the
// durable row.
func decrementAndReconcile(ctx context.Context, s store.Store, nodeID int64) error {
	if err := s.DecrementConnections(ctx, nodeID); err != nil {
		return err
	}
	if rc, ok := s.(reconciler); ok {
		return rc.Reconcile(ctx, nodeID)
	}
	return nil
}

// recordPick increments PicksTotal for policy with the outcome of a Pick
// call, so every concrete policy reports through the same labels instead of
// each rolling its own.
func recordPick(policy, outcome string) {
	telemetry.PicksTotal.WithLabelValues(policy, outcome).Inc()
}

// recordFeedback increments FeedbackTotal for policy with the kind of
// feedback ("success" or "failure") a ReportSuccess/ReportFailure call
// delivered.
func recordFeedback(policy, kind string) {
	telemetry.FeedbackTotal.WithLabelValues(policy, kind).Inc()
}

// Registry holds the process-wide current scheduler slot (spec.md §4.2.5).
// get_scheduler lazily instantiates the default (Health-First) policy on
// first use; set_scheduler atomically replaces the slot. Replacement is a
// fresh instance; in-flight calls continue using the instance they
// captured, since Go interface values are immutable once read.
type Registry struct {
	mu      sync.RWMutex
	current Scheduler
	store   store.Store
}

// NewRegistry creates an empty registry bound to a node store. The default
// scheduler is created lazily on the first Get call.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Get returns the current scheduler, instantiating the Health-First default
// if none has been set yet.
func (r *Registry) Get() Scheduler {
	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()
	if cur != nil {
		return cur
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		r.current = NewHealthFirst(r.store)
	}
	return r.current
}

// Set replaces the current scheduler with a fresh instance of kind.
func (r *Registry) Set(kind Kind) (Scheduler, error) {
	var next Scheduler
	switch kind {
	case KindRandom:
		next = NewRandom(r.store)
	case KindRoundRobin:
		next = NewRoundRobin(r.store)
	case KindHealthFirst:
		next = NewHealthFirst(r.store)
	default:
		return nil, ErrUnknownKind
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()
	return next, nil
}

// SetScheduler installs an already-constructed scheduler (used to install a
// Rule-Based policy, which is code-configured rather than registry-keyed).
func (r *Registry) SetScheduler(s Scheduler) {
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()
}
