package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/nexusops/triaged/internal/actions"
	"github.com/nexusops/triaged/internal/catalog"
	"github.com/nexusops/triaged/internal/checkpoint"
	"github.com/nexusops/triaged/internal/config"
	"github.com/nexusops/triaged/internal/dispatch"
	"github.com/nexusops/triaged/internal/engine"
	"github.com/nexusops/triaged/internal/gate"
	"github.com/nexusops/triaged/internal/logging"
	"github.com/nexusops/triaged/internal/playbook"
	"github.com/nexusops/triaged/internal/reason"
	"github.com/nexusops/triaged/internal/thread"
)

// app holds the wired runtime shared by all commands.
type app struct {
	ctx         context.Context
	cfg         *config.Config
	log         zerolog.Logger
	engine      *engine.Engine
	checkpoints *checkpoint.FileStore
	playbooks   *playbook.Library

	// submit sends an operator decision over the configured transport.
	submit func(threadID string, d gate.Decision) error
	// local is non-nil for the in-process transport; resume then prompts
	// on stdin instead of waiting for an out-of-band decision.
	local *gate.ChanSource

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires stores, gate transport, actions and the engine from config.
func buildApp(cli *CLI) (*app, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	log := logging.New(level, os.Stderr)

	a := &app{cfg: cfg, log: log}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a.ctx = ctx
	a.closers = append(a.closers, stop)

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	var threads thread.Store
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := thread.NewSQLiteStore(cfg.ThreadsDB())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		threads = db
	case "", "file":
		fs, err := thread.NewFileStore(cfg.ThreadsDir())
		if err != nil {
			return nil, err
		}
		threads = fs
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	checkpoints, err := checkpoint.NewFileStore(cfg.CheckpointsDir())
	if err != nil {
		return nil, err
	}
	a.checkpoints = checkpoints

	a.playbooks = playbook.NewLibrary()
	a.playbooks.Add(playbook.Seed()...)
	if n, err := a.playbooks.LoadDir(cfg.Playbooks.Dir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if n > 0 {
		log.Debug().Int("playbooks", n).Str("dir", cfg.Playbooks.Dir).Msg("playbook corpus loaded")
	}

	registry := catalog.NewRegistry()
	actions.Register(registry, actions.Deps{
		Playbooks: a.playbooks,
		Logs:      actions.MockLogSource{},
		GitHub:    actions.NewGitHubClient(cfg.GitHubToken(), cfg.Actions.GitHubAPI),
	})

	notifier, source, err := a.buildGateTransport()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.DecisionTimeout()
	if err != nil {
		return nil, err
	}

	reasoner := reason.NewRules()
	if cfg.Actions.DefaultPod != "" {
		reasoner.DefaultPod = cfg.Actions.DefaultPod
	}
	if cfg.Actions.Repo != "" {
		reasoner.Repo = cfg.Actions.Repo
	}

	eng, err := engine.New(engine.Deps{
		Threads:     threads,
		Checkpoints: checkpoints,
		Registry:    registry,
		Dispatcher:  dispatch.New(registry, log),
		Gate:        gate.New(notifier, source, timeout, log),
		Reasoner:    reasoner,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// buildGateTransport selects the decision channel and sets a.submit.
func (a *app) buildGateTransport() (gate.Notifier, gate.DecisionSource, error) {
	notifiers := multiNotifier{}
	if a.cfg.Gate.WebhookURL != "" {
		notifiers = append(notifiers, gate.NewWebhookNotifier(a.cfg.Gate.WebhookURL))
	}

	var source gate.DecisionSource
	switch a.cfg.Gate.Transport {
	case "nats":
		ng, err := gate.NewNATSGate(a.cfg.Gate.NATSURL, a.cfg.Gate.SubjectPrefix)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, ng.Close)
		a.submit = ng.SubmitDecision
		notifiers = append(notifiers, ng)
		source = ng
	case "local":
		cs := gate.NewChanSource()
		a.local = cs
		a.submit = func(threadID string, d gate.Decision) error {
			cs.Submit(threadID, d)
			return nil
		}
		source = cs
	case "", "file":
		fs, err := gate.NewFileSource(a.cfg.Gate.DecisionsDir)
		if err != nil {
			return nil, nil, err
		}
		a.submit = fs.Submit
		source = fs
	default:
		return nil, nil, fmt.Errorf("unknown gate transport %q", a.cfg.Gate.Transport)
	}

	if len(notifiers) == 0 {
		log := a.log
		notifiers = append(notifiers, gate.LogNotifier{Print: func(threadID, text string) {
			log.Info().Str("thread_id", threadID).Msg(text)
		}})
	}
	return notifiers, source, nil
}

// multiNotifier fans an alert out to every configured channel. One failing
// channel does not stop the others.
type multiNotifier []gate.Notifier

func (m multiNotifier) Notify(ctx context.Context, threadID, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, threadID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
