package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexusops/triaged/internal/checkpoint"
	"github.com/nexusops/triaged/internal/engine"
	"github.com/nexusops/triaged/internal/gate"
	"github.com/nexusops/triaged/internal/playbook"
)

// Run submits the report and prints the transcript or the approval prompt.
func (c *QueryCmd) Run(a *app) error {
	cycle, err := a.engine.Advance(a.ctx, c.Thread, c.Text)
	if err != nil {
		if errors.Is(err, engine.ErrSuspended) {
			fmt.Fprintf(os.Stderr, "thread %s is awaiting approval; run `triaged resume %s` first\n",
				cycle.ThreadID, cycle.ThreadID)
			return err
		}
		return err
	}
	switch cycle.Status {
	case engine.StatusAwaitingApproval:
		fmt.Println(renderPrompt(cycle.ThreadID, cycle.Prompt))
		fmt.Println(resumeHint(cycle.ThreadID))
	default:
		fmt.Println(renderTranscript(cycle.Thread))
	}
	return nil
}

// Run resumes a suspended thread, blocking on the operator decision.
func (c *ResumeCmd) Run(a *app) error {
	cp, err := a.checkpoints.Load(a.ctx, c.Thread)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Printf("thread %s has no pending approval\n", c.Thread)
			return nil
		}
		return err
	}

	fmt.Println(renderPrompt(c.Thread, cp.Context))
	if a.local != nil {
		// In-process transport: the operator is this terminal.
		a.submit(c.Thread, promptDecision())
	} else {
		fmt.Fprintln(os.Stderr, "waiting for operator decision...")
	}

	cycle, err := a.engine.Resume(a.ctx, c.Thread)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Printf("thread %s has no pending approval\n", c.Thread)
			return nil
		}
		return err
	}
	switch cycle.Status {
	case engine.StatusAwaitingApproval:
		fmt.Println(renderPrompt(cycle.ThreadID, cycle.Prompt))
		fmt.Println(resumeHint(cycle.ThreadID))
	default:
		fmt.Println(renderTranscript(cycle.Thread))
	}
	return nil
}

// promptDecision asks for a verdict on stdin. Anything but an explicit yes
// denies.
func promptDecision() gate.Decision {
	fmt.Fprint(os.Stderr, "Authorize this action? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return gate.DecisionDeny
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return gate.DecisionAuthorize
	}
	return gate.DecisionDeny
}

// Run submits an authorize decision over the gate transport.
func (c *ApproveCmd) Run(a *app) error {
	if err := a.submit(c.Thread, gate.DecisionAuthorize); err != nil {
		return err
	}
	fmt.Printf("authorized thread %s\n", c.Thread)
	return nil
}

// Run submits a deny decision over the gate transport.
func (c *DenyCmd) Run(a *app) error {
	if err := a.submit(c.Thread, gate.DecisionDeny); err != nil {
		return err
	}
	fmt.Printf("denied thread %s\n", c.Thread)
	return nil
}

// Run lists every thread with a live checkpoint.
func (c *PendingCmd) Run(a *app) error {
	ids, err := a.checkpoints.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no threads awaiting approval")
		return nil
	}
	for _, id := range ids {
		cp, err := a.checkpoints.Load(a.ctx, id)
		if err != nil {
			fmt.Printf("%s\t(unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", id, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Context)
	}
	return nil
}

// Run prints version information. Normally handled before the runtime is
// wired; this covers direct invocation.
func (c *VersionCmd) Run() error {
	fmt.Printf("triaged version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

// Run validates the playbooks in a directory and copies them into the
// configured corpus.
func (c *IngestCmd) Run(a *app) error {
	scratch := playbook.NewLibrary()
	count, err := scratch.LoadDir(c.Dir)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Printf("no playbooks found in %s\n", c.Dir)
		return nil
	}

	target := a.cfg.Playbooks.Dir
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create playbook directory: %w", err)
	}
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return err
	}
	copied := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.Dir, name))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(target, name), data, 0o644); err != nil {
			return err
		}
		copied++
	}
	fmt.Printf("ingested %d playbooks from %d files into %s\n", count, copied, target)
	return nil
}
