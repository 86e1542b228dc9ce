// Package dispatch executes action batches and normalizes their outcomes.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/thread"
)

// Dispatcher resolves calls against the catalog and invokes executors. It
// never propagates an executor failure: every call produces exactly one
// ActionResult, whatever happened inside the executor.
type Dispatcher struct {
	registry *catalog.Registry
	log      zerolog.Logger
}

// New creates a dispatcher over the given registry.
func New(registry *catalog.Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

// Execute runs a single call and captures its outcome.
func (d *Dispatcher) Execute(ctx context.Context, call thread.ActionCall) thread.ActionResult {
	ctx, span := otel.Tracer("triaged/dispatch").Start(ctx, "action."+call.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("action.call_id", call.ID),
		attribute.String("action.name", call.Name),
	)

	action, err := d.registry.Resolve(call.Name)
	if err != nil {
		d.log.Warn().Str("action", call.Name).Str("call_id", call.ID).Msg("action not registered")
		return thread.ActionResult{
			CallID:  call.ID,
			Name:    call.Name,
			Outcome: thread.OutcomeNotFound,
			Payload: fmt.Sprintf("action %q is not registered", call.Name),
		}
	}

	payload, err := d.invoke(ctx, action, call.Arguments)
	if err != nil {
		span.RecordError(err)
		d.log.Warn().Err(err).Str("action", call.Name).Str("call_id", call.ID).Msg("action failed")
		return thread.ActionResult{
			CallID:  call.ID,
			Name:    call.Name,
			Outcome: thread.OutcomeToolError,
			Payload: err.Error(),
		}
	}
	d.log.Debug().Str("action", call.Name).Str("call_id", call.ID).Msg("action completed")
	return thread.ActionResult{
		CallID:  call.ID,
		Name:    call.Name,
		Outcome: thread.OutcomeOK,
		Payload: payload,
	}
}

// invoke runs the executor with panic containment. A panicking executor is
// indistinguishable from one that returned an error.
func (d *Dispatcher) invoke(ctx context.Context, action catalog.Action, args map[string]any) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return action.Execute(ctx, args)
}

// ExecuteBatch dispatches independent calls concurrently and returns the
// results in original call order, regardless of completion order.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []thread.ActionCall) []thread.ActionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]thread.ActionResult, len(calls))
	g, ctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.Execute(ctx, call)
			return nil
		})
	}
	// Execute never returns an error; the group is used only for the wait.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error().Err(err).Msg("batch wait failed")
	}
	return results
}
