// Package playbook stores remediation playbooks and ranks them against
// incident queries.
//
// Ranking is lexical overlap. The embedding backend is an external
// collaborator; anything implementing Searcher can replace the built-in
// library.
package playbook

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Playbook is one remediation document.
type Playbook struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Service     string   `yaml:"service,omitempty"`
	Symptoms    []string `yaml:"symptoms,omitempty"`
	Remediation string   `yaml:"remediation"`
}

// Match pairs a playbook with its relevance score for one query.
type Match struct {
	Playbook Playbook
	Score    float64
}

// Searcher is the knowledge-base contract consumed by the search action.
type Searcher interface {
	Search(query string, topK int) []Match
}

// Library is the in-process playbook store.
type Library struct {
	mu      sync.RWMutex
	entries []Playbook
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{}
}

// Add inserts playbooks, assigning ids where missing.
func (l *Library) Add(books ...Playbook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range books {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		l.entries = append(l.entries, b)
	}
}

// Len returns the number of stored playbooks.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LoadDir ingests every YAML file under dir. Files may hold multiple
// documents. Returns the number of playbooks loaded.
func (l *Library) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read playbook directory: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		n, err := l.loadFile(filepath.Join(dir, name))
		if err != nil {
			return loaded, err
		}
		loaded += n
	}
	return loaded, nil
}

func (l *Library) loadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	n := 0
	for {
		var book Playbook
		if err := dec.Decode(&book); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return n, fmt.Errorf("parse %s: %w", path, err)
		}
		if book.Title == "" && book.Remediation == "" {
			continue
		}
		l.Add(book)
		n++
	}
	return n, nil
}

// Search ranks playbooks by token overlap with the query. Results are
// sorted by score descending, ties broken by title for determinism.
func (l *Library) Search(query string, topK int) []Match {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matches []Match
	for _, book := range l.entries {
		score := overlap(terms, book)
		if score > 0 {
			matches = append(matches, Match{Playbook: book, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Playbook.Title < matches[j].Playbook.Title
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func overlap(terms map[string]bool, book Playbook) float64 {
	text := strings.ToLower(book.Title + " " + book.Service + " " +
		strings.Join(book.Symptoms, " ") + " " + book.Remediation)
	docTerms := tokenize(text)
	hits := 0
	for term := range terms {
		if docTerms[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-'
	}) {
		if len(field) > 1 {
			out[field] = true
		}
	}
	return out
}

// Seed returns the stock playbooks used when no corpus has been ingested,
// so the binary stays demoable without external data.
func Seed() []Playbook {
	return []Playbook{
		{
			ID:       "pb-oom",
			Title:    "OOMKilled pod remediation",
			Service:  "backend-api",
			Symptoms: []string{"oom", "OOMKilled", "memory", "crash loop"},
			Remediation: "Raise the container memory limit, check for recent " +
				"deployments that changed heap settings, and inspect logs for leaks.",
		},
		{
			ID:       "pb-crashloop",
			Title:    "CrashLoopBackOff triage",
			Symptoms: []string{"crashloop", "restart", "error", "backoff"},
			Remediation: "Fetch pod logs for the failing container, diff config " +
				"against the last good release, and roll back if the error predates it.",
		},
		{
			ID:       "pb-disk",
			Title:    "Disk pressure on node",
			Symptoms: []string{"disk", "evicted", "storage", "pressure"},
			Remediation: "Identify the volume consuming space, rotate or ship logs, " +
				"and expand the PVC if usage is legitimate.",
		},
	}
}
