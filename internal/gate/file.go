package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads decisions from a watched directory. An operator (or an
// out-of-band webhook handler) writes <thread_id>.decision containing
// "authorize" or "deny". Suits hosts without a message broker.
type FileSource struct {
	dir string
}

// NewFileSource creates the decisions directory if needed.
func NewFileSource(dir string) (*FileSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create decisions directory: %w", err)
	}
	return &FileSource{dir: dir}, nil
}

func (f *FileSource) path(threadID string) string {
	return filepath.Join(f.dir, threadID+".decision")
}

// Submit writes a decision file. Exposed for the approve/deny CLI commands.
func (f *FileSource) Submit(threadID string, d Decision) error {
	return os.WriteFile(f.path(threadID), []byte(d), 0o644)
}

// Await blocks until the thread's decision file appears. A file written
// before Await started (for instance while the process was down) is picked
// up immediately. The file is consumed so a later suspension of the same
// thread cannot reuse a stale verdict.
func (f *FileSource) Await(ctx context.Context, threadID string) (Decision, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return DecisionDeny, fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(f.dir); err != nil {
		return DecisionDeny, fmt.Errorf("watch decisions directory: %w", err)
	}

	// The watch is registered before the first read, so a write racing
	// with Await is seen either by the read or by the watcher.
	if d, ok := f.consume(threadID); ok {
		return d, nil
	}

	target := f.path(threadID)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return DecisionDeny, fmt.Errorf("watcher closed")
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if d, ok := f.consume(threadID); ok {
				return d, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return DecisionDeny, fmt.Errorf("watcher closed")
			}
			return DecisionDeny, fmt.Errorf("watch decisions directory: %w", err)
		case <-ctx.Done():
			return DecisionDeny, ctx.Err()
		}
	}
}

// consume reads and deletes the decision file if present.
func (f *FileSource) consume(threadID string) (Decision, bool) {
	data, err := os.ReadFile(f.path(threadID))
	if err != nil {
		return DecisionDeny, false
	}
	os.Remove(f.path(threadID))
	return ParseDecision(strings.TrimSpace(string(data))), true
}
