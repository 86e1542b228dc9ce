// Package main defines the CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Config   string `help:"Config file path" type:"path"`
	LogLevel string `help:"Log level (debug|info|warn|error)" default:""`

	Query   QueryCmd   `cmd:"" help:"Submit an incident report to a thread"`
	Resume  ResumeCmd  `cmd:"" help:"Resume a suspended thread and wait for the operator decision"`
	Approve ApproveCmd `cmd:"" help:"Authorize the pending action batch for a thread"`
	Deny    DenyCmd    `cmd:"" help:"Deny the pending action batch for a thread"`
	Pending PendingCmd `cmd:"" help:"List threads suspended on approval"`
	Ingest  IngestCmd  `cmd:"" help:"Ingest a directory of playbook YAML files"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// QueryCmd runs triage cycles for a report.
type QueryCmd struct {
	Thread string `short:"t" help:"Thread id (generated when omitted)"`
	Text   string `arg:"" help:"Incident report text"`
}

// ResumeCmd blocks on the decision channel for a suspended thread.
type ResumeCmd struct {
	Thread string `arg:"" help:"Thread id"`
}

// ApproveCmd submits an authorize decision.
type ApproveCmd struct {
	Thread string `arg:"" help:"Thread id"`
}

// DenyCmd submits a deny decision.
type DenyCmd struct {
	Thread string `arg:"" help:"Thread id"`
}

// PendingCmd lists live checkpoints.
type PendingCmd struct{}

// IngestCmd copies playbooks into the configured corpus directory.
type IngestCmd struct {
	Dir string `arg:"" help:"Directory of playbook YAML files" type:"existingdir"`
}

// VersionCmd shows version information.
type VersionCmd struct{}
