package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRecordWritesJSONLAndDB(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	l.Record("create_repo", "acme/json-diff", "success", "token ghp_abcdefghijklmnopqrstuvwx leaked", "cycle-1")

	waitFor(t, 2*time.Second, func() bool {
		n, err := l.Count(context.Background())
		return err == nil && n == 1
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("audit.jsonl empty")
	}
	var ev map[string]string
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["event"] != "create_repo" || ev["outcome"] != "success" || ev["cycle_id"] != "cycle-1" {
		t.Errorf("entry = %+v", ev)
	}
	if strings.Contains(ev["detail"], "ghp_abcdefghijklmnopqrstuvwx") {
		t.Error("token not redacted in audit detail")
	}
}

func TestPrune(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	old := time.Now().UTC().AddDate(0, 0, -400).Format(time.RFC3339Nano)
	if _, err := l.db.Exec(
		`INSERT INTO audit_log (ts, event, outcome) VALUES (?, 'old_event', 'success');`, old); err != nil {
		t.Fatal(err)
	}
	l.Record("fresh_event", "", "success", "", "")
	waitFor(t, 2*time.Second, func() bool {
		n, _ := l.Count(context.Background())
		return n == 2
	})

	removed, err := l.Prune(context.Background(), 365)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	n, _ := l.Count(context.Background())
	if n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestPruneDisabled(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	removed, err := l.Prune(context.Background(), 0)
	if err != nil || removed != 0 {
		t.Errorf("Prune(0) = %d, %v", removed, err)
	}
}
