package catalog

import (
	"context"
	"errors"
	"testing"
)

func testAction(name string, tier RiskTier) Func {
	return Func{
		ActionName: name,
		Tier:       tier,
		Run: func(context.Context, map[string]any) (string, error) {
			return "ok", nil
		},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testAction("fetch_logs", RiskSafe))

	a, err := reg.Resolve("fetch_logs")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a.Name() != "fetch_logs" {
		t.Errorf("name = %q", a.Name())
	}

	if _, err := reg.Resolve("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRiskTiers(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testAction("fetch_logs", RiskSafe))
	reg.Register(testAction("create_pr", RiskSensitive))

	if got := reg.Risk("fetch_logs"); got != RiskSafe {
		t.Errorf("fetch_logs tier = %s", got)
	}
	if got := reg.Risk("create_pr"); got != RiskSensitive {
		t.Errorf("create_pr tier = %s", got)
	}
	// Unknown names dispatch to a not_found result without executing, so
	// they must not force an approval round-trip.
	if got := reg.Risk("missing"); got != RiskSafe {
		t.Errorf("unknown action tier = %s, want safe", got)
	}
}

func TestReRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testAction("a", RiskSafe))
	reg.Register(testAction("a", RiskSensitive))
	if got := reg.Risk("a"); got != RiskSensitive {
		t.Errorf("tier after re-register = %s, want sensitive", got)
	}
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testAction("zeta", RiskSafe))
	reg.Register(testAction("alpha", RiskSafe))

	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("names = %v", names)
	}
}
