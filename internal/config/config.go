// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full triaged configuration.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Gate      GateConfig      `toml:"gate"`
	Actions   ActionsConfig   `toml:"actions"`
	Playbooks PlaybooksConfig `toml:"playbooks"`
	Logging   LoggingConfig   `toml:"logging"`
}

// StorageConfig selects and locates the persistence backends.
type StorageConfig struct {
	// Backend is "file" (JSONL per thread) or "sqlite".
	Backend string `toml:"backend"`
	// Path is the base directory for all persistent state.
	Path string `toml:"path"`
}

// GateConfig configures the approval gate.
type GateConfig struct {
	// Transport is "nats", "file", or "local".
	Transport     string `toml:"transport"`
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
	// DecisionsDir holds <thread_id>.decision files for the file transport.
	DecisionsDir string `toml:"decisions_dir"`
	// DecisionTimeout bounds the wait for an operator verdict; expiry
	// denies. Empty means wait indefinitely.
	DecisionTimeout string `toml:"decision_timeout"`
	// WebhookURL receives approval prompts (Slack-style incoming webhook).
	WebhookURL string `toml:"webhook_url"`
}

// ActionsConfig configures the built-in executors.
type ActionsConfig struct {
	Repo           string `toml:"repo"`
	DefaultPod     string `toml:"default_pod"`
	GitHubTokenEnv string `toml:"github_token_env"`
	GitHubAPI      string `toml:"github_api"`
}

// PlaybooksConfig locates the playbook corpus.
type PlaybooksConfig struct {
	// Dir is loaded on startup. The ingest command copies validated
	// playbooks here. Defaults to <storage.path>/playbooks.
	Dir string `toml:"dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
			Path:    filepath.Join(home, ".triaged"),
		},
		Gate: GateConfig{
			Transport:       "file",
			SubjectPrefix:   "triaged",
			NATSURL:         "nats://127.0.0.1:4222",
			DecisionTimeout: "",
		},
		Actions: ActionsConfig{
			Repo:           "nexus/app",
			DefaultPod:     "backend-api",
			GitHubTokenEnv: "GITHUB_TOKEN",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, or from the standard search path
// when path is empty. Nothing found on the search path yields defaults; a
// named path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = findConfig()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if os.IsNotExist(err) && !explicit {
				return applyDerived(cfg), nil
			}
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	return applyDerived(cfg), nil
}

// applyDerived fills in directories that default relative to the storage
// path.
func applyDerived(cfg *Config) *Config {
	if cfg.Gate.DecisionsDir == "" {
		cfg.Gate.DecisionsDir = filepath.Join(cfg.Storage.Path, "decisions")
	}
	if cfg.Playbooks.Dir == "" {
		cfg.Playbooks.Dir = filepath.Join(cfg.Storage.Path, "playbooks")
	}
	return cfg
}

// findConfig walks the search path: working directory, then XDG config.
func findConfig() string {
	candidates := []string{"triaged.toml"}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "triaged", "config.toml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "triaged", "config.toml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// ThreadsDir returns the directory for thread JSONL files.
func (c *Config) ThreadsDir() string {
	return filepath.Join(c.Storage.Path, "threads")
}

// CheckpointsDir returns the directory for suspension checkpoints.
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.Storage.Path, "checkpoints")
}

// ThreadsDB returns the SQLite path for the sqlite backend.
func (c *Config) ThreadsDB() string {
	return filepath.Join(c.Storage.Path, "threads.db")
}

// DecisionTimeout parses the configured timeout; zero means no timeout.
func (c *Config) DecisionTimeout() (time.Duration, error) {
	if c.Gate.DecisionTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Gate.DecisionTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse gate.decision_timeout: %w", err)
	}
	return d, nil
}

// GitHubToken resolves the configured token env var.
func (c *Config) GitHubToken() string {
	env := c.Actions.GitHubTokenEnv
	if env == "" {
		env = "GITHUB_TOKEN"
	}
	return os.Getenv(env)
}
