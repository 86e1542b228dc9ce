// Package gate suspends gated actions until an operator decides.
//
// The gate is fail-closed: the only way an action proceeds is an explicit
// authorize arriving through the blocking decision channel. Notification
// failures, timeouts, cancellations and malformed decisions all resolve to
// deny.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Decision is the operator's verdict for a suspended thread.
type Decision string

const (
	DecisionAuthorize Decision = "authorize"
	DecisionDeny      Decision = "deny"
)

// ParseDecision maps wire text to a decision. Anything that is not an
// explicit authorize denies.
func ParseDecision(s string) Decision {
	if s == string(DecisionAuthorize) {
		return DecisionAuthorize
	}
	return DecisionDeny
}

// ErrNoDecision wraps the reason an await ended without an operator verdict
// (timeout, cancellation, transport failure). The decision is still deny.
var ErrNoDecision = errors.New("no operator decision")

// Notifier delivers a best-effort alert about a suspended thread. Delivery
// failure never aborts the suspension; authority to proceed comes from the
// decision source alone.
type Notifier interface {
	Notify(ctx context.Context, threadID, text string) error
}

// DecisionSource blocks until an external actor supplies a decision for the
// thread.
type DecisionSource interface {
	Await(ctx context.Context, threadID string) (Decision, error)
}

// Gate pairs a notifier with a decision source and applies the deployment's
// decision timeout.
type Gate struct {
	notifier Notifier
	source   DecisionSource
	timeout  time.Duration
	log      zerolog.Logger
}

// New creates a gate. A zero timeout means wait until the context ends.
func New(notifier Notifier, source DecisionSource, timeout time.Duration, log zerolog.Logger) *Gate {
	return &Gate{
		notifier: notifier,
		source:   source,
		timeout:  timeout,
		log:      log.With().Str("component", "gate").Logger(),
	}
}

// DispatchAlert sends the approval prompt. Failures are logged and dropped.
func (g *Gate) DispatchAlert(ctx context.Context, threadID, text string) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Notify(ctx, threadID, text); err != nil {
		g.log.Warn().Err(err).Str("thread_id", threadID).Msg("alert delivery failed; still awaiting decision")
		return
	}
	g.log.Info().Str("thread_id", threadID).Msg("approval alert dispatched")
}

// AwaitDecision blocks until the operator decides, the timeout expires, or
// the context is cancelled. The returned decision is always usable; the
// error, when non-nil, wraps ErrNoDecision and explains why the gate denied
// without an operator verdict.
func (g *Gate) AwaitDecision(ctx context.Context, threadID string) (Decision, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	decision, err := g.source.Await(ctx, threadID)
	if err != nil {
		g.log.Warn().Err(err).Str("thread_id", threadID).Msg("await resolved to deny")
		return DecisionDeny, errors.Join(ErrNoDecision, err)
	}
	g.log.Info().Str("thread_id", threadID).Str("decision", string(decision)).Msg("operator decision received")
	return decision, nil
}
