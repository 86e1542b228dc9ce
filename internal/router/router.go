// Package router classifies pending action batches by risk.
package router

import (
	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/thread"
)

// Kind is the routing decision for one batch of pending calls.
type Kind string

const (
	// KindTerminal means reasoning produced a plain answer; the cycle ends.
	KindTerminal Kind = "terminal"
	// KindAuto means every call is safe and dispatches immediately.
	KindAuto Kind = "auto"
	// KindGated means at least one call is sensitive; the whole batch
	// suspends until an operator decides.
	KindGated Kind = "gated"
)

// Decision is derived per batch and never stored.
type Decision struct {
	Kind Kind
	// Sensitive lists the calls that forced gating, in batch order. The
	// approval prompt surfaces the first one; a single authorize or deny
	// covers the entire batch.
	Sensitive []thread.ActionCall
}

// Tiers resolves risk tiers by action name.
type Tiers interface {
	Risk(name string) catalog.RiskTier
}

// Classify routes a batch of pending calls. Pure: no side effects, no I/O.
//
// One sensitive call gates the whole batch, however many safe calls ride
// alongside it. A batch is never split.
func Classify(pending []thread.ActionCall, tiers Tiers) Decision {
	if len(pending) == 0 {
		return Decision{Kind: KindTerminal}
	}
	var sensitive []thread.ActionCall
	for _, call := range pending {
		if tiers.Risk(call.Name) == catalog.RiskSensitive {
			sensitive = append(sensitive, call)
		}
	}
	if len(sensitive) > 0 {
		return Decision{Kind: KindGated, Sensitive: sensitive}
	}
	return Decision{Kind: KindAuto}
}
