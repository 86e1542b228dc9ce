package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/thread"
)

func newDispatcher(actions ...catalog.Action) *Dispatcher {
	reg := catalog.NewRegistry()
	for _, a := range actions {
		reg.Register(a)
	}
	return New(reg, zerolog.Nop())
}

func TestExecuteOK(t *testing.T) {
	d := newDispatcher(catalog.Func{
		ActionName: "echo",
		Tier:       catalog.RiskSafe,
		Run: func(_ context.Context, args map[string]any) (string, error) {
			return "got: " + args["msg"].(string), nil
		},
	})

	res := d.Execute(context.Background(), thread.ActionCall{
		ID: "c1", Name: "echo", Arguments: map[string]any{"msg": "hi"},
	})
	if res.Outcome != thread.OutcomeOK {
		t.Fatalf("outcome = %s: %s", res.Outcome, res.Payload)
	}
	if res.CallID != "c1" || res.Name != "echo" {
		t.Errorf("result identity lost: %+v", res)
	}
	if res.Payload != "got: hi" {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestExecuteUnknownActionIsNotFound(t *testing.T) {
	d := newDispatcher()
	res := d.Execute(context.Background(), thread.ActionCall{ID: "c1", Name: "missing"})
	if res.Outcome != thread.OutcomeNotFound {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if !strings.Contains(res.Payload, "missing") {
		t.Errorf("payload should name the action: %q", res.Payload)
	}
}

func TestExecuteErrorIsToolError(t *testing.T) {
	d := newDispatcher(catalog.Func{
		ActionName: "boom",
		Tier:       catalog.RiskSafe,
		Run: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("backend unavailable")
		},
	})
	res := d.Execute(context.Background(), thread.ActionCall{ID: "c1", Name: "boom"})
	if res.Outcome != thread.OutcomeToolError {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if res.Payload != "backend unavailable" {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestExecuteContainsPanic(t *testing.T) {
	d := newDispatcher(catalog.Func{
		ActionName: "panics",
		Tier:       catalog.RiskSafe,
		Run: func(context.Context, map[string]any) (string, error) {
			panic("executor bug")
		},
	})
	res := d.Execute(context.Background(), thread.ActionCall{ID: "c1", Name: "panics"})
	if res.Outcome != thread.OutcomeToolError {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if !strings.Contains(res.Payload, "executor bug") {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	var slowStarted atomic.Bool
	d := newDispatcher(
		catalog.Func{
			ActionName: "slow",
			Tier:       catalog.RiskSafe,
			Run: func(context.Context, map[string]any) (string, error) {
				slowStarted.Store(true)
				time.Sleep(20 * time.Millisecond)
				return "slow done", nil
			},
		},
		catalog.Func{
			ActionName: "fast",
			Tier:       catalog.RiskSafe,
			Run: func(context.Context, map[string]any) (string, error) {
				return "fast done", nil
			},
		},
	)

	results := d.ExecuteBatch(context.Background(), []thread.ActionCall{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
		{ID: "c3", Name: "missing"},
	})
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].CallID != "c1" || results[1].CallID != "c2" || results[2].CallID != "c3" {
		t.Errorf("order not preserved: %+v", results)
	}
	if results[0].Payload != "slow done" {
		t.Errorf("slow payload = %q", results[0].Payload)
	}
	if results[2].Outcome != thread.OutcomeNotFound {
		t.Errorf("missing outcome = %s", results[2].Outcome)
	}
	if !slowStarted.Load() {
		t.Error("slow action never ran")
	}
}

func TestExecuteBatchEmpty(t *testing.T) {
	d := newDispatcher()
	if res := d.ExecuteBatch(context.Background(), nil); res != nil {
		t.Errorf("expected nil results, got %v", res)
	}
}
