package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/go-steward/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Target    string `json:"target,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	CycleID   string `json:"cycle_id,omitempty"`
}

// Log records every externally visible action to logs/audit.jsonl and
// mirrors rows into a sqlite table for queryable retention.
type Log struct {
	file *os.File
	db   *sql.DB

	writes chan entry
	done   chan struct{}
}

// Open creates the audit log under homeDir. The sqlite mirror lives at
// steward.db; the JSONL file is the source of truth.
func Open(homeDir string) (*Log, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", filepath.Join(homeDir, "steward.db"))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			event TEXT NOT NULL,
			target TEXT,
			outcome TEXT NOT NULL,
			detail TEXT,
			cycle_id TEXT
		);
	`); err != nil {
		f.Close()
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	l := &Log{
		file:   f,
		db:     db,
		writes: make(chan entry, 256),
		done:   make(chan struct{}),
	}
	go l.writer()
	return l, nil
}

func (l *Log) writer() {
	defer close(l.done)
	for ev := range l.writes {
		if b, err := json.Marshal(ev); err == nil {
			_, _ = l.file.Write(append(b, '\n'))
		}
		_, _ = l.db.ExecContext(context.Background(), `
			INSERT INTO audit_log (ts, event, target, outcome, detail, cycle_id)
			VALUES (?, ?, ?, ?, ?, ?);
		`, ev.Timestamp, ev.Event, ev.Target, ev.Outcome, ev.Detail, ev.CycleID)
	}
}

// Record queues one audit entry. Detail and target are redacted before
// persistence. A full queue drops the entry rather than blocking the
// caller.
func (l *Log) Record(event, target, outcome, detail, cycleID string) {
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Target:    shared.Redact(target),
		Outcome:   outcome,
		Detail:    shared.Redact(detail),
		CycleID:   cycleID,
	}
	select {
	case l.writes <- ev:
	default:
	}
}

// Prune removes sqlite rows older than the retention window. Zero or
// negative days keeps everything.
func (l *Log) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE ts < ?;`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of retained audit rows.
func (l *Log) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log;`).Scan(&n)
	return n, err
}

// Close drains pending writes and releases the file and database.
func (l *Log) Close() error {
	close(l.writes)
	<-l.done
	err := l.file.Close()
	if dbErr := l.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
