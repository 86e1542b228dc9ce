// Package catalog provides the static action registry.
//
// Risk tiers are fixed at registration time and never inferred from
// arguments, so the safe/sensitive split can be audited without running
// anything.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// RiskTier classifies an action's blast radius.
type RiskTier string

const (
	// RiskSafe actions are read-only diagnostics and execute automatically.
	RiskSafe RiskTier = "safe"
	// RiskSensitive actions mutate external systems and require an explicit
	// operator authorization before every execution.
	RiskSensitive RiskTier = "sensitive"
)

// ErrNotFound is returned by Resolve for unregistered action names.
var ErrNotFound = errors.New("action not registered")

// Action is an executable diagnostic or remediation backend.
type Action interface {
	// Name returns the catalog key for this action.
	Name() string
	// Description returns a short operator-facing description.
	Description() string
	// Risk returns the fixed risk tier.
	Risk() RiskTier
	// Execute runs the action. Errors are captured by the dispatcher and
	// surfaced as tool turns, never propagated to the engine.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry maps action names to executors.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action. Re-registering a name replaces the previous
// entry; the last registration wins.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Resolve returns the action registered under name.
func (r *Registry) Resolve(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, nil
}

// Risk returns the tier for name. Unregistered names report as safe: the
// dispatcher never executes them, it records a not_found result, so routing
// them through an approval would block an operator on a no-op.
func (r *Registry) Risk(name string) RiskTier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.actions[name]; ok {
		return a.Risk()
	}
	return RiskSafe
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into an Action.
type Func struct {
	ActionName string
	Help       string
	Tier       RiskTier
	Run        func(ctx context.Context, args map[string]any) (string, error)
}

func (f Func) Name() string        { return f.ActionName }
func (f Func) Description() string { return f.Help }
func (f Func) Risk() RiskTier      { return f.Tier }

func (f Func) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.Run(ctx, args)
}
