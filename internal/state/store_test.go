package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return NewStore(path, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	doc := s.Load()
	if len(doc.Repositories) != 0 || len(doc.Actions) != 0 {
		t.Errorf("expected empty document, got %+v", doc)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, nil)
	doc := s.Load()
	if len(doc.Repositories) != 0 {
		t.Errorf("expected empty document from corrupt file")
	}

	// The store stays writable after corruption.
	if err := s.Mutate(func(d *Document) {
		d.UpsertRepo(RepoRecord{Name: "alpha", CreatedAt: time.Now()})
	}); err != nil {
		t.Fatalf("Mutate after corruption: %v", err)
	}
	if _, ok := s.Load().FindRepo("alpha"); !ok {
		t.Error("repo not persisted after recovery")
	}
}

func TestMutatePersists(t *testing.T) {
	s := newTestStore(t)
	err := s.Mutate(func(d *Document) {
		d.UpsertRepo(RepoRecord{Name: "web-crawler", Visibility: "private"})
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	// A fresh store over the same path sees the write.
	other := NewStore(s.path, nil)
	rec, ok := other.Load().FindRepo("web-crawler")
	if !ok {
		t.Fatal("repo missing after reload")
	}
	if rec.Visibility != "private" {
		t.Errorf("Visibility = %q", rec.Visibility)
	}
}

func TestUpsertRepoReplaces(t *testing.T) {
	s := newTestStore(t)
	_ = s.Mutate(func(d *Document) {
		d.UpsertRepo(RepoRecord{Name: "api", Status: "active"})
		d.UpsertRepo(RepoRecord{Name: "api", Status: "archived"})
	})
	doc := s.Load()
	if len(doc.Repositories) != 1 {
		t.Fatalf("repos = %d, want 1", len(doc.Repositories))
	}
	if doc.Repositories[0].Status != "archived" {
		t.Errorf("Status = %q", doc.Repositories[0].Status)
	}
}

func TestAppendAction(t *testing.T) {
	s := newTestStore(t)
	if err := s.AppendAction("create_repo", "api", "created with scaffold", OutcomeSuccess, ""); err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	if err := s.AppendAction("close_issue", "api#4", "", OutcomeFailure, "boom"); err != nil {
		t.Fatalf("AppendAction: %v", err)
	}

	doc := s.Load()
	if len(doc.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(doc.Actions))
	}
	if doc.Actions[0].ID == "" || doc.Actions[0].ID == doc.Actions[1].ID {
		t.Error("action IDs should be unique and non-empty")
	}
	if doc.Actions[1].Error != "boom" {
		t.Errorf("Error = %q", doc.Actions[1].Error)
	}
}

func TestMarkOnce(t *testing.T) {
	s := newTestStore(t)
	first, err := s.MarkOnce("startup_report")
	if err != nil || !first {
		t.Fatalf("first MarkOnce = %v, %v", first, err)
	}
	second, err := s.MarkOnce("startup_report")
	if err != nil || second {
		t.Fatalf("second MarkOnce = %v, %v", second, err)
	}
}

func TestMarkOncePerDay(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if ok, _ := s.MarkOncePerDay("daily_report"); !ok {
		t.Fatal("first claim should succeed")
	}
	s.now = func() time.Time { return base.Add(6 * time.Hour) }
	if ok, _ := s.MarkOncePerDay("daily_report"); ok {
		t.Fatal("same-day claim should fail")
	}
	s.now = func() time.Time { return base.Add(24 * time.Hour) }
	if ok, _ := s.MarkOncePerDay("daily_report"); !ok {
		t.Fatal("next-day claim should succeed")
	}
}
