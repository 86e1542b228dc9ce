package thread

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when no thread exists for the requested id.
var ErrNotFound = errors.New("thread not found")

// Store persists threads keyed by thread id. Lookup is by exact id only.
type Store interface {
	Save(ctx context.Context, t *Thread) error
	Load(ctx context.Context, id string) (*Thread, error)
}

// JSONL record types for the file store.
const (
	recordHeader = "header"
	recordTurn   = "turn"
	recordFooter = "footer"
)

type jsonlRecord struct {
	RecordType string `json:"_type"`

	// Header fields
	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Turn record
	*Turn `json:",omitempty"`

	// Footer fields
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore stores one JSONL file per thread: a header record, one record
// per turn, and a footer. Files are replaced atomically on save.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-based thread store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Save writes the full thread to a temp file and renames it into place.
func (s *FileStore) Save(_ context.Context, t *Thread) error {
	var buf bytes.Buffer
	if err := writeRecord(&buf, jsonlRecord{
		RecordType: recordHeader,
		ID:         t.ID,
		CreatedAt:  t.CreatedAt,
	}); err != nil {
		return err
	}
	for i := range t.Turns {
		turn := t.Turns[i]
		if err := writeRecord(&buf, jsonlRecord{RecordType: recordTurn, Turn: &turn}); err != nil {
			return err
		}
	}
	if err := writeRecord(&buf, jsonlRecord{
		RecordType: recordFooter,
		UpdatedAt:  t.UpdatedAt,
	}); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, t.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp thread file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write thread file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(t.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace thread file: %w", err)
	}
	return nil
}

func writeRecord(w io.Writer, rec jsonlRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal thread record: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Load reads a thread back from its JSONL file.
func (s *FileStore) Load(_ context.Context, id string) (*Thread, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	defer f.Close()

	t := &Thread{}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if parseErr := parseRecord(bytes.TrimSpace(line), t); parseErr != nil {
				return nil, parseErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read thread file: %w", err)
		}
	}
	if t.ID == "" {
		return nil, fmt.Errorf("thread file %s: missing header", id)
	}
	return t, nil
}

func parseRecord(line []byte, t *Thread) error {
	var rec jsonlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("parse thread record: %w", err)
	}
	switch rec.RecordType {
	case recordHeader:
		t.ID = rec.ID
		t.CreatedAt = rec.CreatedAt
	case recordTurn:
		if rec.Turn != nil {
			t.Turns = append(t.Turns, *rec.Turn)
		}
	case recordFooter:
		t.UpdatedAt = rec.UpdatedAt
	}
	return nil
}
