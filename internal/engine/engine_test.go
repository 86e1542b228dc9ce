package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/checkpoint"
	"github.com/nexusops/triaged/internal/dispatch"
	"github.com/nexusops/triaged/internal/gate"
	"github.com/nexusops/triaged/internal/reason"
	"github.com/nexusops/triaged/internal/thread"
)

// recordingNotifier captures alerts so tests can assert on delivery.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *recordingNotifier) Notify(_ context.Context, threadID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// funcReasoner scripts reasoning output for edge-case tests.
type funcReasoner struct {
	fn func(t *thread.Thread) (reason.Step, error)
}

func (r funcReasoner) Reason(_ context.Context, t *thread.Thread) (reason.Step, error) {
	return r.fn(t)
}

type env struct {
	dir         string
	eng         *Engine
	threads     *thread.FileStore
	checkpoints *checkpoint.FileStore
	source      *gate.ChanSource
	notifier    *recordingNotifier
	prCount     *atomic.Int32
}

// newEnv wires an engine over file stores in dir with the rule-based
// reasoner, fake diagnostics, and a counting sensitive executor.
func newEnv(t *testing.T, dir string, reasoner reason.Reasoner) *env {
	t.Helper()
	return newEnvWith(t, dir, reasoner, nil)
}

// newEnvWith additionally wraps the checkpoint store the engine sees, for
// fault-injection tests. The env's own checkpoints field stays unwrapped.
func newEnvWith(t *testing.T, dir string, reasoner reason.Reasoner, wrap func(checkpoint.Store) checkpoint.Store) *env {
	t.Helper()

	threads, err := thread.NewFileStore(filepath.Join(dir, "threads"))
	if err != nil {
		t.Fatal(err)
	}
	checkpoints, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"))
	if err != nil {
		t.Fatal(err)
	}

	var prCount atomic.Int32
	reg := catalog.NewRegistry()
	reg.Register(catalog.Func{
		ActionName: "search_playbooks",
		Tier:       catalog.RiskSafe,
		Run: func(context.Context, map[string]any) (string, error) {
			return "Playbook matches:\n- OOMKilled pod remediation", nil
		},
	})
	reg.Register(catalog.Func{
		ActionName: "fetch_logs",
		Tier:       catalog.RiskSafe,
		Run: func(context.Context, map[string]any) (string, error) {
			return "Error: OOMKilled", nil
		},
	})
	reg.Register(catalog.Func{
		ActionName: "create_remediation_pr",
		Tier:       catalog.RiskSensitive,
		Run: func(context.Context, map[string]any) (string, error) {
			prCount.Add(1)
			return "Created PR #1", nil
		},
	})

	source := gate.NewChanSource()
	notifier := &recordingNotifier{}
	if reasoner == nil {
		reasoner = reason.NewRules()
	}
	var cpStore checkpoint.Store = checkpoints
	if wrap != nil {
		cpStore = wrap(checkpoints)
	}

	eng, err := New(Deps{
		Threads:     threads,
		Checkpoints: cpStore,
		Registry:    reg,
		Dispatcher:  dispatch.New(reg, zerolog.Nop()),
		Gate:        gate.New(notifier, source, 0, zerolog.Nop()),
		Reasoner:    reasoner,
		Log:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &env{
		dir:         dir,
		eng:         eng,
		threads:     threads,
		checkpoints: checkpoints,
		source:      source,
		notifier:    notifier,
		prCount:     &prCount,
	}
}

func roles(t *thread.Thread) []thread.Role {
	out := make([]thread.Role, len(t.Turns))
	for i, turn := range t.Turns {
		out[i] = turn.Role
	}
	return out
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestAdvanceSafeDiagnosticFlow(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	cycle, err := e.eng.Advance(ctx, "", "pod backend-api is OOM, check the logs")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if cycle.Status != StatusCompleted {
		t.Fatalf("status = %s", cycle.Status)
	}
	if cycle.ThreadID == "" {
		t.Fatal("thread id not generated")
	}

	// user, assistant proposing two calls, two tool results, final summary.
	want := []thread.Role{
		thread.RoleUser,
		thread.RoleAssistant,
		thread.RoleTool,
		thread.RoleTool,
		thread.RoleAssistant,
	}
	got := roles(cycle.Thread)
	if len(got) != len(want) {
		t.Fatalf("roles = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roles = %v, want %v", got, want)
		}
	}

	// Persisted history matches the returned cycle.
	stored, err := e.threads.Load(ctx, cycle.ThreadID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(stored.Turns) != len(cycle.Thread.Turns) {
		t.Errorf("stored turns = %d, cycle turns = %d", len(stored.Turns), len(cycle.Thread.Turns))
	}

	// No checkpoint for an auto-dispatched flow.
	if _, err := e.checkpoints.Load(ctx, cycle.ThreadID); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("unexpected checkpoint: %v", err)
	}
	if e.prCount.Load() != 0 {
		t.Errorf("sensitive executor ran %d times", e.prCount.Load())
	}
}

func TestAdvanceGatedSuspends(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	cycle, err := e.eng.Advance(ctx, "incident-7", "please fix the oom loop")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if cycle.Status != StatusAwaitingApproval {
		t.Fatalf("status = %s", cycle.Status)
	}
	if cycle.Prompt == "" {
		t.Error("prompt is empty")
	}

	// Nothing in the batch ran, safe calls included.
	if e.prCount.Load() != 0 {
		t.Errorf("sensitive executor ran %d times", e.prCount.Load())
	}
	stored, _ := e.threads.Load(ctx, "incident-7")
	for _, turn := range stored.Turns {
		if turn.Role == thread.RoleTool {
			t.Errorf("tool turn recorded before approval: %+v", turn)
		}
	}

	cp, err := e.checkpoints.Load(ctx, "incident-7")
	if err != nil {
		t.Fatalf("checkpoint not saved: %v", err)
	}
	if cp.NextNode != checkpoint.NodeGatedDispatch {
		t.Errorf("next node = %q", cp.NextNode)
	}
	if len(cp.Pending) != 3 {
		t.Errorf("pending = %d, want 3", len(cp.Pending))
	}
	if len(cp.History) != len(stored.Turns) {
		t.Errorf("checkpoint history = %d turns, stored = %d", len(cp.History), len(stored.Turns))
	}

	if e.notifier.count() != 1 {
		t.Errorf("alerts = %d, want 1", e.notifier.count())
	}
}

func TestAdvanceWhileSuspendedRejected(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := e.eng.Advance(ctx, "t1", "fix it"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.eng.Advance(ctx, "t1", "any update?"); !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended, got %v", err)
	}
	// The rejected turn was not appended.
	stored, _ := e.threads.Load(ctx, "t1")
	if stored.LastUser() != "fix it" {
		t.Errorf("last user turn = %q", stored.LastUser())
	}
}

func TestResumeAuthorizeDispatchesOnce(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := e.eng.Advance(ctx, "t1", "fix the oom loop"); err != nil {
		t.Fatal(err)
	}

	e.source.Submit("t1", gate.DecisionAuthorize)
	cycle, err := e.eng.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if cycle.Status != StatusCompleted {
		t.Fatalf("status = %s", cycle.Status)
	}
	if e.prCount.Load() != 1 {
		t.Errorf("sensitive executor ran %d times, want 1", e.prCount.Load())
	}

	// Checkpoint consumed.
	if _, err := e.checkpoints.Load(ctx, "t1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("checkpoint not cleared: %v", err)
	}

	// A second resume is a no-op and cannot re-dispatch.
	if _, err := e.eng.Resume(ctx, "t1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if e.prCount.Load() != 1 {
		t.Errorf("second resume re-dispatched: %d", e.prCount.Load())
	}
}

func TestResumeDenyRecordsDeclines(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := e.eng.Advance(ctx, "t1", "fix the oom loop"); err != nil {
		t.Fatal(err)
	}
	cp, _ := e.checkpoints.Load(ctx, "t1")

	e.source.Submit("t1", gate.DecisionDeny)
	cycle, err := e.eng.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if cycle.Status != StatusCompleted {
		t.Fatalf("status = %s", cycle.Status)
	}
	if e.prCount.Load() != 0 {
		t.Errorf("denied executor ran %d times", e.prCount.Load())
	}

	// Every pending call got a declined tool turn, so reasoning saw the
	// denial and terminated.
	declined := 0
	for _, turn := range cycle.Thread.Turns {
		if turn.Role == thread.RoleTool && turn.Outcome == thread.OutcomeDeclined {
			declined++
		}
	}
	if declined != len(cp.Pending) {
		t.Errorf("declined turns = %d, pending was %d", declined, len(cp.Pending))
	}

	final := cycle.Thread.Turns[len(cycle.Thread.Turns)-1]
	if final.Role != thread.RoleAssistant || final.Content == "" {
		t.Errorf("final turn = %+v", final)
	}
}

func TestResumeSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first := newEnv(t, dir, nil)
	ctx := context.Background()

	if _, err := first.eng.Advance(ctx, "t1", "fix the oom loop"); err != nil {
		t.Fatal(err)
	}

	// Fresh engine over the same storage stands in for a restarted process.
	second := newEnv(t, dir, nil)
	second.source.Submit("t1", gate.DecisionAuthorize)
	cycle, err := second.eng.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("Resume after restart failed: %v", err)
	}
	if cycle.Status != StatusCompleted {
		t.Fatalf("status = %s", cycle.Status)
	}
	if second.prCount.Load() != 1 {
		t.Errorf("executor ran %d times", second.prCount.Load())
	}
	if first.prCount.Load() != 0 {
		t.Errorf("old process executor ran %d times", first.prCount.Load())
	}
}

func TestResumeTimeoutDenies(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir, nil)
	ctx := context.Background()

	if _, err := e.eng.Advance(ctx, "t1", "fix the oom loop"); err != nil {
		t.Fatal(err)
	}

	// No decision is ever submitted; the bounded context denies.
	timed, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	cycle, err := e.eng.Resume(timed, "t1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if e.prCount.Load() != 0 {
		t.Errorf("executor ran on timeout: %d", e.prCount.Load())
	}
	sawDecline := false
	for _, turn := range cycle.Thread.Turns {
		if turn.Outcome == thread.OutcomeDeclined {
			sawDecline = true
		}
	}
	if !sawDecline {
		t.Error("no declined turn after timeout")
	}
}

func TestReasoningFailureLeavesHistoryIntact(t *testing.T) {
	boom := funcReasoner{fn: func(*thread.Thread) (reason.Step, error) {
		return reason.Step{}, errors.New("model unavailable")
	}}
	e := newEnv(t, t.TempDir(), boom)
	ctx := context.Background()

	_, err := e.eng.Advance(ctx, "t1", "anything")
	if !errors.Is(err, ErrReasoning) {
		t.Fatalf("expected ErrReasoning, got %v", err)
	}

	// Only the accepted user turn persisted; the failed cycle added nothing.
	stored, err := e.threads.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(stored.Turns) != 1 || stored.Turns[0].Role != thread.RoleUser {
		t.Errorf("turns = %v", roles(stored))
	}
}

func TestMaxRoundsBound(t *testing.T) {
	round := 0
	looping := funcReasoner{fn: func(*thread.Thread) (reason.Step, error) {
		round++
		return reason.Step{Calls: []thread.ActionCall{
			{ID: fmt.Sprintf("loop_%d", round), Name: "fetch_logs"},
		}}, nil
	}}
	e := newEnv(t, t.TempDir(), looping)

	if _, err := e.eng.Advance(context.Background(), "t1", "loop"); !errors.Is(err, ErrMaxRounds) {
		t.Errorf("expected ErrMaxRounds, got %v", err)
	}
}

func TestAdvanceContinuesCompletedThread(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	first, err := e.eng.Advance(ctx, "t1", "pod api-1 OOM in logs")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != StatusCompleted {
		t.Fatalf("status = %s", first.Status)
	}

	second, err := e.eng.Advance(ctx, "t1", "now check the logs again")
	if err != nil {
		t.Fatalf("second Advance failed: %v", err)
	}
	if second.Status != StatusCompleted {
		t.Fatalf("status = %s", second.Status)
	}
	if len(second.Thread.Turns) <= len(first.Thread.Turns) {
		t.Errorf("history did not grow: %d -> %d", len(first.Thread.Turns), len(second.Thread.Turns))
	}
}

// flakyClearStore fails Clear a fixed number of times, standing in for a
// crash or I/O failure between dispatch and checkpoint consumption.
type flakyClearStore struct {
	checkpoint.Store
	failures int
}

func (s *flakyClearStore) Clear(ctx context.Context, threadID string) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("clear failed")
	}
	return s.Store.Clear(ctx, threadID)
}

func TestResumeRetryAfterClearFailureDispatchesOnce(t *testing.T) {
	e := newEnvWith(t, t.TempDir(), nil, func(s checkpoint.Store) checkpoint.Store {
		return &flakyClearStore{Store: s, failures: 1}
	})
	ctx := context.Background()

	if _, err := e.eng.Advance(ctx, "t1", "fix the oom loop"); err != nil {
		t.Fatal(err)
	}
	cp, _ := e.checkpoints.Load(ctx, "t1")

	// First resume dispatches and saves the results, then fails to clear.
	e.source.Submit("t1", gate.DecisionAuthorize)
	if _, err := e.eng.Resume(ctx, "t1"); err == nil {
		t.Fatal("expected clear failure to surface")
	}
	if e.prCount.Load() != 1 {
		t.Fatalf("executor ran %d times after first resume", e.prCount.Load())
	}
	if _, err := e.checkpoints.Load(ctx, "t1"); err != nil {
		t.Fatalf("checkpoint should still be live: %v", err)
	}

	// The retry sees the persisted results and must not re-run the batch.
	e.source.Submit("t1", gate.DecisionAuthorize)
	cycle, err := e.eng.Resume(ctx, "t1")
	if err != nil {
		t.Fatalf("retried Resume failed: %v", err)
	}
	if cycle.Status != StatusCompleted {
		t.Fatalf("status = %s", cycle.Status)
	}
	if e.prCount.Load() != 1 {
		t.Errorf("executor ran %d times, want 1", e.prCount.Load())
	}

	// Exactly one tool turn per pending call, no duplicates.
	results := map[string]int{}
	for _, turn := range cycle.Thread.Turns {
		if turn.Role == thread.RoleTool {
			results[turn.CallID]++
		}
	}
	for _, call := range cp.Pending {
		if results[call.ID] != 1 {
			t.Errorf("call %s has %d results", call.ID, results[call.ID])
		}
	}

	if _, err := e.checkpoints.Load(ctx, "t1"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("checkpoint not cleared after retry: %v", err)
	}
}

// brokenLoadStore fails every Load with a non-sentinel error.
type brokenLoadStore struct {
	checkpoint.Store
}

func (s *brokenLoadStore) Load(context.Context, string) (*checkpoint.Checkpoint, error) {
	return nil, errors.New("i/o error")
}

func TestAdvancePropagatesCheckpointLoadFailure(t *testing.T) {
	e := newEnvWith(t, t.TempDir(), nil, func(s checkpoint.Store) checkpoint.Store {
		return &brokenLoadStore{Store: s}
	})
	ctx := context.Background()

	_, err := e.eng.Advance(ctx, "t1", "check the logs")
	if err == nil || errors.Is(err, ErrSuspended) {
		t.Fatalf("expected the load failure to propagate, got %v", err)
	}
	// The cycle never started: no user turn was accepted.
	if _, err := e.threads.Load(ctx, "t1"); !errors.Is(err, thread.ErrNotFound) {
		t.Errorf("thread was persisted despite the failure: %v", err)
	}
}

func TestThreadLocksReleased(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	if _, err := e.eng.Advance(ctx, "t1", "fix the oom loop"); err != nil {
		t.Fatal(err)
	}
	e.source.Submit("t1", gate.DecisionAuthorize)
	if _, err := e.eng.Resume(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.eng.Advance(ctx, "t2", "check the logs"); err != nil {
		t.Fatal(err)
	}

	e.eng.mu.Lock()
	n := len(e.eng.locks)
	e.eng.mu.Unlock()
	if n != 0 {
		t.Errorf("%d thread locks retained after all cycles finished", n)
	}
}

func TestConcurrentAdvanceDistinctThreads(t *testing.T) {
	e := newEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := thread.New("").ID
			_, errs[i] = e.eng.Advance(ctx, id, "check the logs")
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("advance %d: %v", i, err)
		}
	}
}
