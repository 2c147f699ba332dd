package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists the state document as one JSON file. All access is
// serialized behind an in-process mutex; a Mutate call sees the latest
// on-disk document and its writes are visible to the next caller.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex

	now func() time.Time
}

func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Load returns the current document. A missing or corrupt file yields
// an empty document rather than an error so a damaged state file never
// wedges the system.
func (s *Store) Load() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() Document {
	var doc Document
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, starting empty", "path", s.path, "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("state file corrupt, starting empty", "path", s.path, "error", err)
		return Document{}
	}
	return doc
}

// Mutate applies fn to the current document and persists the result.
// The read, mutation, and write happen under one lock.
func (s *Store) Mutate(fn func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	fn(&doc)
	return s.save(doc)
}

func (s *Store) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// AppendAction records one completed action in the append-only history.
func (s *Store) AppendAction(kind, target, detail, outcome, errMsg string) error {
	return s.Mutate(func(doc *Document) {
		doc.Actions = append(doc.Actions, ActionRecord{
			ID:        uuid.NewString(),
			Timestamp: s.now().UTC(),
			Kind:      kind,
			Target:    target,
			Detail:    detail,
			Outcome:   outcome,
			Error:     errMsg,
		})
	})
}

// MarkOnce records the named flag if it has never fired, returning true
// exactly when this call claimed it. At-most-once holds within a single
// process; concurrent processes sharing the file may both claim.
func (s *Store) MarkOnce(flag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if doc.OneTimeFlags == nil {
		doc.OneTimeFlags = make(map[string]time.Time)
	}
	if _, done := doc.OneTimeFlags[flag]; done {
		return false, nil
	}
	doc.OneTimeFlags[flag] = s.now().UTC()
	return true, s.save(doc)
}

// MarkOncePerDay claims the flag at most once per UTC calendar day.
func (s *Store) MarkOncePerDay(flag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if doc.OneTimeFlags == nil {
		doc.OneTimeFlags = make(map[string]time.Time)
	}
	now := s.now().UTC()
	if last, ok := doc.OneTimeFlags[flag]; ok {
		ly, lm, ld := last.UTC().Date()
		ny, nm, nd := now.Date()
		if ly == ny && lm == nm && ld == nd {
			return false, nil
		}
	}
	doc.OneTimeFlags[flag] = now
	return true, s.save(doc)
}
