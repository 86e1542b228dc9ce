// Package checkpoint persists suspended execution state so a gated thread
// can resume after a process restart.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexusops/triaged/internal/thread"
)

// NodeGatedDispatch is the resume point for a batch suspended on approval.
const NodeGatedDispatch = "gated_dispatch"

var (
	// ErrNotFound means no live checkpoint exists for the thread. Resuming
	// an already-resumed thread hits this and must be treated as a no-op.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorrupt means a checkpoint exists but cannot be decoded. The
	// suspended action is not silently lost; an operator has to look.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// Checkpoint is a snapshot of everything needed to resume one thread past
// its suspension point. At most one live checkpoint exists per thread.
type Checkpoint struct {
	ThreadID  string              `json:"thread_id"`
	History   []thread.Turn       `json:"history"`
	Pending   []thread.ActionCall `json:"pending"`
	NextNode  string              `json:"next_node"`
	Context   string              `json:"context,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store persists checkpoints keyed by thread id. Save must be atomic per
// key: after a crash, Load returns either the full prior snapshot or the
// full new one, never a partial write.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Clear(ctx context.Context, threadID string) error
}

// FileStore keeps one JSON file per suspended thread. Writes go to a temp
// file in the same directory and rename into place.
type FileStore struct {
	dir string
}

// NewFileStore creates a checkpoint store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(threadID string) string {
	return filepath.Join(s.dir, threadID+".json")
}

// Save persists the snapshot, replacing any previous one for the thread.
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp.ThreadID == "" {
		return errors.New("checkpoint missing thread id")
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, cp.ThreadID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(cp.ThreadID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the live checkpoint for a thread.
func (s *FileStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
		}
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: thread %s: %v", ErrCorrupt, threadID, err)
	}
	if cp.ThreadID != threadID {
		return nil, fmt.Errorf("%w: thread %s: snapshot belongs to %q", ErrCorrupt, threadID, cp.ThreadID)
	}
	return &cp, nil
}

// Clear deletes the checkpoint. Clearing an absent checkpoint is not an
// error; both resume paths call this unconditionally.
func (s *FileStore) Clear(_ context.Context, threadID string) error {
	err := os.Remove(s.path(threadID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// List returns thread ids with a live checkpoint. Operator tooling only;
// the engine never scans.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
