package playbook

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddAssignsIDs(t *testing.T) {
	lib := NewLibrary()
	lib.Add(Playbook{Title: "no id", Remediation: "do things"})
	if lib.Len() != 1 {
		t.Fatalf("len = %d", lib.Len())
	}
	matches := lib.Search("things", 1)
	if len(matches) != 1 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Playbook.ID == "" {
		t.Error("id not assigned")
	}
}

func TestSearchRanksByOverlap(t *testing.T) {
	lib := NewLibrary()
	lib.Add(Seed()...)

	matches := lib.Search("pod OOMKilled memory crash", 3)
	if len(matches) == 0 {
		t.Fatal("no matches")
	}
	if matches[0].Playbook.ID != "pb-oom" {
		t.Errorf("top match = %s", matches[0].Playbook.ID)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not sorted: %v", matches)
		}
	}
}

func TestSearchTopK(t *testing.T) {
	lib := NewLibrary()
	lib.Add(Seed()...)

	if got := lib.Search("error crash disk memory restart storage", 1); len(got) > 1 {
		t.Errorf("topK not applied: %d matches", len(got))
	}
}

func TestSearchNoTermsNoMatches(t *testing.T) {
	lib := NewLibrary()
	lib.Add(Seed()...)
	if got := lib.Search("", 3); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := lib.Search("zzzqqq", 3); len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestLoadDirMultiDocument(t *testing.T) {
	dir := t.TempDir()
	content := `id: pb-one
title: First playbook
remediation: restart the service
---
id: pb-two
title: Second playbook
remediation: scale the deployment
`
	if err := os.WriteFile(filepath.Join(dir, "books.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-YAML files are skipped.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary()
	n, err := lib.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded = %d, want 2", n)
	}
	if lib.Len() != 2 {
		t.Errorf("len = %d", lib.Len())
	}
}

func TestLoadDirBadYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(":\n  - ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLibrary().LoadDir(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := NewLibrary().LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
