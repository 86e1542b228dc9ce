// Package engine drives the triage state machine: reason, route, dispatch
// or suspend, loop, terminate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/checkpoint"
	"github.com/nexusops/triaged/internal/dispatch"
	"github.com/nexusops/triaged/internal/gate"
	"github.com/nexusops/triaged/internal/reason"
	"github.com/nexusops/triaged/internal/router"
	"github.com/nexusops/triaged/internal/thread"
)

// DefaultMaxRounds bounds reason/dispatch rounds per entry point call.
const DefaultMaxRounds = 8

// Status reports how an entry point call ended.
type Status string

const (
	// StatusCompleted means reasoning produced a final answer. The thread
	// stays resumable for future user turns.
	StatusCompleted Status = "completed"
	// StatusAwaitingApproval means the thread suspended on a sensitive
	// batch; a checkpoint is live and Resume is the next entry point.
	StatusAwaitingApproval Status = "awaiting_approval"
)

var (
	// ErrReasoning wraps a reasoning collaborator failure. The cycle
	// aborted with no history mutation; the caller may retry.
	ErrReasoning = errors.New("reasoning failed")
	// ErrSuspended rejects Advance on a thread that is awaiting approval.
	ErrSuspended = errors.New("thread suspended awaiting approval")
	// ErrMaxRounds means reasoning kept proposing actions past the bound.
	ErrMaxRounds = errors.New("max rounds exceeded")
)

// Cycle is the outcome of one Advance or Resume call.
type Cycle struct {
	ThreadID string
	Status   Status
	Thread   *thread.Thread
	// Prompt carries the approval prompt when Status is awaiting_approval.
	Prompt string
}

// Deps wires collaborators into the engine. No package-level singletons:
// everything the state machine touches arrives here.
type Deps struct {
	Threads     thread.Store
	Checkpoints checkpoint.Store
	Registry    *catalog.Registry
	Dispatcher  *dispatch.Dispatcher
	Gate        *gate.Gate
	Reasoner    reason.Reasoner
	Log         zerolog.Logger
	// MaxRounds defaults to DefaultMaxRounds when zero.
	MaxRounds int
}

// Engine owns all state transitions for conversation threads.
type Engine struct {
	threads     thread.Store
	checkpoints checkpoint.Store
	registry    *catalog.Registry
	dispatcher  *dispatch.Dispatcher
	gate        *gate.Gate
	reasoner    reason.Reasoner
	log         zerolog.Logger
	maxRounds   int

	// One mutex per thread id: cycles for the same thread are strictly
	// sequential, distinct threads run concurrently. Entries are refcounted
	// and dropped once no caller holds or awaits them.
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New validates dependencies and builds an engine.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Threads == nil:
		return nil, errors.New("engine: thread store is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("engine: checkpoint store is required")
	case deps.Registry == nil:
		return nil, errors.New("engine: action registry is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	case deps.Gate == nil:
		return nil, errors.New("engine: approval gate is required")
	case deps.Reasoner == nil:
		return nil, errors.New("engine: reasoner is required")
	}
	maxRounds := deps.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Engine{
		threads:     deps.Threads,
		checkpoints: deps.Checkpoints,
		registry:    deps.Registry,
		dispatcher:  deps.Dispatcher,
		gate:        deps.Gate,
		reasoner:    deps.Reasoner,
		log:         deps.Log.With().Str("component", "engine").Logger(),
		maxRounds:   maxRounds,
		locks:       make(map[string]*threadLock),
	}, nil
}

func (e *Engine) lock(threadID string) func() {
	e.mu.Lock()
	l, ok := e.locks[threadID]
	if !ok {
		l = &threadLock{}
		e.locks[threadID] = l
	}
	l.refs++
	e.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, threadID)
		}
		e.mu.Unlock()
	}
}

// Advance appends a user turn and runs cycles until the thread terminates
// or suspends. An empty threadID starts a fresh thread with a generated id.
func (e *Engine) Advance(ctx context.Context, threadID, userText string) (Cycle, error) {
	if threadID == "" {
		threadID = thread.New("").ID
	}
	unlock := e.lock(threadID)
	defer unlock()

	ctx, span := otel.Tracer("triaged/engine").Start(ctx, "engine.advance")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	// A suspended thread only moves through Resume. Any load failure other
	// than a clean miss could be hiding a live checkpoint, so it propagates.
	if _, err := e.checkpoints.Load(ctx, threadID); err == nil {
		return Cycle{ThreadID: threadID}, fmt.Errorf("%w: %s", ErrSuspended, threadID)
	} else if !errors.Is(err, checkpoint.ErrNotFound) {
		return Cycle{ThreadID: threadID}, err
	}

	work, err := e.loadOrCreate(ctx, threadID)
	if err != nil {
		return Cycle{ThreadID: threadID}, err
	}
	if userText != "" {
		work.Append(thread.UserTurn(userText))
		if err := e.threads.Save(ctx, work); err != nil {
			return Cycle{ThreadID: threadID}, err
		}
	}
	return e.runLoop(ctx, work)
}

// Resume picks a suspended thread back up: load the checkpoint, block on
// the operator decision, then dispatch or record declines and continue.
// Resuming a thread with no live checkpoint is a no-op and reports
// checkpoint.ErrNotFound; the pending batch can never dispatch twice.
func (e *Engine) Resume(ctx context.Context, threadID string) (Cycle, error) {
	unlock := e.lock(threadID)
	defer unlock()

	ctx, span := otel.Tracer("triaged/engine").Start(ctx, "engine.resume")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))

	cp, err := e.checkpoints.Load(ctx, threadID)
	if err != nil {
		return Cycle{ThreadID: threadID}, err
	}
	if cp.NextNode != checkpoint.NodeGatedDispatch {
		return Cycle{ThreadID: threadID}, fmt.Errorf("%w: thread %s: unknown resume node %q",
			checkpoint.ErrCorrupt, threadID, cp.NextNode)
	}

	// Checkpointed history is authoritative for the resume, except for tool
	// results a previous resume attempt already persisted: those carry over
	// so their call ids stay consumed. Without this, a resume that
	// dispatched but failed to clear its checkpoint would re-run the batch
	// on retry.
	work, err := e.loadOrCreate(ctx, threadID)
	if err != nil {
		return Cycle{ThreadID: threadID}, err
	}
	stored := work.Turns
	work.Turns = cp.History
	for _, call := range cp.Pending {
		if work.HasResult(call.ID) {
			continue
		}
		for _, turn := range stored {
			if turn.Role == thread.RoleTool && turn.CallID == call.ID {
				work.Append(thread.CloneTurn(turn))
				break
			}
		}
	}

	decision, decisionErr := e.gate.AwaitDecision(ctx, threadID)
	switch decision {
	case gate.DecisionAuthorize:
		e.log.Info().Str("thread_id", threadID).Int("pending", len(cp.Pending)).Msg("batch authorized")
		e.appendResults(work, e.dispatchOnce(ctx, work, cp.Pending))
	default:
		reasonText := "declined by operator"
		if decisionErr != nil {
			reasonText = "declined: " + decisionErr.Error()
		}
		e.log.Info().Str("thread_id", threadID).Msg("batch denied")
		for _, call := range cp.Pending {
			if work.HasResult(call.ID) {
				continue
			}
			work.Append(thread.ResultTurn(thread.ActionResult{
				CallID:  call.ID,
				Name:    call.Name,
				Outcome: thread.OutcomeDeclined,
				Payload: reasonText,
			}))
		}
	}

	if err := e.threads.Save(ctx, work); err != nil {
		return Cycle{ThreadID: threadID}, err
	}
	if err := e.checkpoints.Clear(ctx, threadID); err != nil {
		return Cycle{ThreadID: threadID}, err
	}
	return e.runLoop(ctx, work)
}

func (e *Engine) loadOrCreate(ctx context.Context, threadID string) (*thread.Thread, error) {
	stored, err := e.threads.Load(ctx, threadID)
	if err == nil {
		return stored.Clone(), nil
	}
	if errors.Is(err, thread.ErrNotFound) {
		return thread.New(threadID), nil
	}
	return nil, err
}

// runLoop executes reason/route/dispatch rounds until terminal or gated.
func (e *Engine) runLoop(ctx context.Context, work *thread.Thread) (Cycle, error) {
	for round := 0; round < e.maxRounds; round++ {
		step, err := e.reasoner.Reason(ctx, work)
		if err != nil {
			// Nothing appended, nothing saved: the stored thread is still
			// in its last consistent state and the caller may retry.
			return Cycle{ThreadID: work.ID}, fmt.Errorf("%w: %v", ErrReasoning, err)
		}

		decision := router.Classify(step.Calls, e.registry)
		if decision.Kind == router.KindTerminal {
			if step.Text != "" {
				work.Append(thread.AssistantTurn(step.Text, nil))
			}
			if err := e.threads.Save(ctx, work); err != nil {
				return Cycle{ThreadID: work.ID}, err
			}
			e.log.Info().Str("thread_id", work.ID).Int("turns", len(work.Turns)).Msg("cycle terminated")
			return Cycle{ThreadID: work.ID, Status: StatusCompleted, Thread: work}, nil
		}

		work.Append(thread.AssistantTurn(step.Text, step.Calls))

		if decision.Kind == router.KindGated {
			return e.suspend(ctx, work, step.Calls, decision)
		}

		e.appendResults(work, e.dispatchOnce(ctx, work, step.Calls))
		if err := e.threads.Save(ctx, work); err != nil {
			return Cycle{ThreadID: work.ID}, err
		}
	}
	return Cycle{ThreadID: work.ID}, fmt.Errorf("%w: thread %s", ErrMaxRounds, work.ID)
}

// suspend persists the checkpoint, alerts, and yields the worker. The
// caller's thread of control is returned immediately; resumption is a
// distinct entry point, possibly in a different process.
func (e *Engine) suspend(ctx context.Context, work *thread.Thread, pending []thread.ActionCall, decision router.Decision) (Cycle, error) {
	if err := e.threads.Save(ctx, work); err != nil {
		return Cycle{ThreadID: work.ID}, err
	}
	prompt := approvalPrompt(decision)
	cp := &checkpoint.Checkpoint{
		ThreadID:  work.ID,
		History:   work.Turns,
		Pending:   thread.CloneCalls(pending),
		NextNode:  checkpoint.NodeGatedDispatch,
		Context:   prompt,
		CreatedAt: work.UpdatedAt,
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return Cycle{ThreadID: work.ID}, err
	}
	e.gate.DispatchAlert(ctx, work.ID, prompt)
	e.log.Info().Str("thread_id", work.ID).Int("pending", len(pending)).Msg("thread suspended on approval")
	return Cycle{
		ThreadID: work.ID,
		Status:   StatusAwaitingApproval,
		Thread:   work,
		Prompt:   prompt,
	}, nil
}

// dispatchOnce filters out calls whose ids were already consumed, then
// dispatches the rest concurrently. The filter is what makes retries and
// resumes unable to run the same call twice.
func (e *Engine) dispatchOnce(ctx context.Context, work *thread.Thread, calls []thread.ActionCall) []thread.ActionResult {
	fresh := make([]thread.ActionCall, 0, len(calls))
	for _, call := range calls {
		if work.HasResult(call.ID) {
			e.log.Warn().Str("thread_id", work.ID).Str("call_id", call.ID).Msg("call already dispatched; skipping")
			continue
		}
		fresh = append(fresh, call)
	}
	return e.dispatcher.ExecuteBatch(ctx, fresh)
}

func (e *Engine) appendResults(work *thread.Thread, results []thread.ActionResult) {
	for _, res := range results {
		work.Append(thread.ResultTurn(res))
	}
}

// approvalPrompt renders the first sensitive call for the operator. One
// confirm or deny covers the entire pending batch.
func approvalPrompt(decision router.Decision) string {
	if len(decision.Sensitive) == 0 {
		return "approval required"
	}
	first := decision.Sensitive[0]
	keys := make([]string, 0, len(first.Arguments))
	for k := range first.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := ""
	for _, k := range keys {
		if args != "" {
			args += ", "
		}
		args += fmt.Sprintf("%s=%v", k, first.Arguments[k])
	}
	extra := ""
	if n := len(decision.Sensitive); n > 1 {
		extra = fmt.Sprintf(" (+%d more sensitive calls in batch)", n-1)
	}
	return fmt.Sprintf("Proposed action: %s(%s)%s", first.Name, args, extra)
}
