// Package reason defines the reasoning collaborator contract and the
// built-in keyword heuristics.
package reason

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexusops/triaged/internal/thread"
)

// Step is one reasoning output: either proposed calls or final text.
type Step struct {
	Text  string
	Calls []thread.ActionCall
}

// Reasoner decides what to do next given the full thread history. The
// engine treats any error as retryable and leaves history untouched.
type Reasoner interface {
	Reason(ctx context.Context, t *thread.Thread) (Step, error)
}

// Rules is the built-in rule-based reasoner. One pass of diagnostics per
// user turn: propose actions from keywords, then summarize once their
// results are in history.
type Rules struct {
	// DefaultPod is assumed when a log-related query names no pod.
	DefaultPod string
	// Repo receives remediation pull requests.
	Repo string
}

// NewRules creates the reasoner with the stock defaults.
func NewRules() *Rules {
	return &Rules{DefaultPod: "backend-api", Repo: "nexus/app"}
}

// Reason applies the keyword rules to the latest user turn.
func (r *Rules) Reason(_ context.Context, t *thread.Thread) (Step, error) {
	query := t.LastUser()
	if query == "" {
		return Step{Text: "No incident report provided."}, nil
	}

	// Tool results for this user turn are already in history; emit the
	// closing summary and end the cycle.
	if t.ToolTurnsSinceLastUser() > 0 {
		return Step{Text: summarize(t)}, nil
	}

	lower := strings.ToLower(query)
	seq := len(t.Turns)
	var calls []thread.ActionCall

	calls = append(calls, thread.ActionCall{
		ID:        fmt.Sprintf("call_search_%d", seq),
		Name:      "search_playbooks",
		Arguments: map[string]any{"query": query},
	})

	if strings.Contains(lower, "log") || strings.Contains(lower, "error") || strings.Contains(lower, "oom") {
		calls = append(calls, thread.ActionCall{
			ID:   fmt.Sprintf("call_logs_%d", seq),
			Name: "fetch_logs",
			Arguments: map[string]any{
				"pod_name":  podName(lower, r.DefaultPod),
				"namespace": "default",
			},
		})
	}

	if strings.Contains(lower, "fix") || strings.Contains(lower, "pr") {
		calls = append(calls, thread.ActionCall{
			ID:   fmt.Sprintf("call_pr_%d", seq),
			Name: "create_remediation_pr",
			Arguments: map[string]any{
				"repo_name": r.Repo,
				"title":     "Fix: automated remediation",
				"body":      "Remediation for: " + query,
				"head":      "fix/automated-patch",
			},
		})
	}

	return Step{Calls: calls}, nil
}

// podName extracts the token following "pod", if any.
func podName(lower, fallback string) string {
	fields := strings.Fields(lower)
	for i, f := range fields {
		if f == "pod" && i+1 < len(fields) {
			return strings.Trim(fields[i+1], ".,:;\"'")
		}
	}
	return fallback
}

// summarize reports what happened to each call proposed for the latest
// user turn.
func summarize(t *thread.Thread) string {
	var (
		executed []string
		failed   []string
		declined []string
	)
	// Walk back to the latest user turn, collecting tool outcomes.
	turns := t.Turns
	start := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == thread.RoleUser {
			start = i
			break
		}
	}
	names := map[string]string{}
	for _, turn := range turns[start:] {
		if turn.Role == thread.RoleAssistant {
			for _, call := range turn.Calls {
				names[call.ID] = call.Name
			}
		}
	}
	for _, turn := range turns[start:] {
		if turn.Role != thread.RoleTool {
			continue
		}
		name := names[turn.CallID]
		if name == "" {
			name = turn.CallID
		}
		switch turn.Outcome {
		case thread.OutcomeOK:
			executed = append(executed, name)
		case thread.OutcomeDeclined:
			declined = append(declined, name)
		default:
			failed = append(failed, name)
		}
	}

	var b strings.Builder
	b.WriteString("Triage complete.")
	if len(executed) > 0 {
		fmt.Fprintf(&b, " Executed: %s.", strings.Join(executed, ", "))
	}
	if len(declined) > 0 {
		fmt.Fprintf(&b, " Declined by operator: %s.", strings.Join(declined, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, " Failed: %s.", strings.Join(failed, ", "))
	}
	return b.String()
}
