// Package actions provides the built-in diagnostic and remediation
// executors and registers them with their fixed risk tiers.
package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/playbook"
)

// Deps supplies the backends the built-in actions talk to.
type Deps struct {
	Playbooks playbook.Searcher
	Logs      LogSource
	GitHub    *GitHubClient
}

// Register adds the built-in actions to the registry.
//
// Tier assignment is the statically auditable safe/sensitive split:
// playbook search and log retrieval are read-only, PR creation mutates an
// external repository and always gates.
func Register(reg *catalog.Registry, deps Deps) {
	reg.Register(&searchPlaybooks{searcher: deps.Playbooks})
	reg.Register(&fetchLogs{source: deps.Logs})
	reg.Register(&createRemediationPR{client: deps.GitHub})
}

// searchPlaybooks queries the playbook library.
type searchPlaybooks struct {
	searcher playbook.Searcher
}

func (a *searchPlaybooks) Name() string { return "search_playbooks" }

func (a *searchPlaybooks) Description() string {
	return "Search the remediation playbook library for a symptom or incident signature."
}

func (a *searchPlaybooks) Risk() catalog.RiskTier { return catalog.RiskSafe }

func (a *searchPlaybooks) Execute(_ context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query", "")
	if query == "" {
		return "", fmt.Errorf("search_playbooks: query is required")
	}
	topK := intArg(args, "top_k", 3)

	matches := a.searcher.Search(query, topK)
	if len(matches) == 0 {
		return "Playbook matches:\n(none found)", nil
	}
	var b strings.Builder
	b.WriteString("Playbook matches:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s: %s\n", m.Playbook.Title, m.Playbook.Remediation)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// LogSource retrieves recent log lines for a workload.
type LogSource interface {
	Tail(ctx context.Context, pod, namespace string, lines int) (string, error)
}

// MockLogSource stands in when no log backend is configured, returning the
// canned tail used in demo environments.
type MockLogSource struct{}

func (MockLogSource) Tail(_ context.Context, pod, namespace string, lines int) (string, error) {
	return fmt.Sprintf("[mock] logs for %s in %s (last %d lines):\n"+
		"... [previous logs] ...\nError: OOMKilled\nTimestamp: 2026-02-13 10:00:00",
		pod, namespace, lines), nil
}

// fetchLogs pulls the recent log tail for a pod.
type fetchLogs struct {
	source LogSource
}

func (a *fetchLogs) Name() string { return "fetch_logs" }

func (a *fetchLogs) Description() string {
	return "Fetch the recent log tail from a pod to diagnose crashes."
}

func (a *fetchLogs) Risk() catalog.RiskTier { return catalog.RiskSafe }

func (a *fetchLogs) Execute(ctx context.Context, args map[string]any) (string, error) {
	pod := stringArg(args, "pod_name", "")
	if pod == "" {
		return "", fmt.Errorf("fetch_logs: pod_name is required")
	}
	namespace := stringArg(args, "namespace", "default")
	lines := intArg(args, "tail_lines", 100)
	return a.source.Tail(ctx, pod, namespace, lines)
}

// createRemediationPR drafts a pull request with the proposed fix.
type createRemediationPR struct {
	client *GitHubClient
}

func (a *createRemediationPR) Name() string { return "create_remediation_pr" }

func (a *createRemediationPR) Description() string {
	return "Draft a remediation pull request. Requires operator authorization."
}

func (a *createRemediationPR) Risk() catalog.RiskTier { return catalog.RiskSensitive }

func (a *createRemediationPR) Execute(ctx context.Context, args map[string]any) (string, error) {
	repo := stringArg(args, "repo_name", "")
	title := stringArg(args, "title", "")
	if repo == "" || title == "" {
		return "", fmt.Errorf("create_remediation_pr: repo_name and title are required")
	}
	return a.client.CreatePull(ctx, PullRequest{
		Repo:  repo,
		Title: title,
		Body:  stringArg(args, "body", ""),
		Head:  stringArg(args, "head", ""),
		Base:  stringArg(args, "base", "main"),
	})
}

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON round-trips numbers as float64.
		return int(v)
	default:
		return fallback
	}
}
