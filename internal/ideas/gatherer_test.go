package ideas

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/go-steward/internal/llm"
	"github.com/basket/go-steward/internal/restclient"
	"github.com/basket/go-steward/internal/state"
)

func completion(content string) []byte {
	out := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(out)
	return b
}

func newTestGatherer(t *testing.T, llmReply string) (*Gatherer, *state.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	rc := restclient.New(logger)

	hn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/topstories.json"):
			w.Write([]byte(`[101, 102]`))
		case strings.Contains(r.URL.Path, "/item/101"):
			w.Write([]byte(`{"title": "Show HN: A tiny JSON diff tool", "url": "https://x"}`))
		case strings.Contains(r.URL.Path, "/item/102"):
			w.Write([]byte(`{"title": "Postgres at scale", "url": "https://y"}`))
		}
	}))
	t.Cleanup(hn.Close)

	devto := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"title": "Understanding goroutines", "url": "https://z"}]`))
	}))
	t.Cleanup(devto.Close)

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completion(llmReply))
	}))
	t.Cleanup(llmSrv.Close)

	model := llm.NewClient(rc, llmSrv.URL, "gsk_test", "test-model", nil, logger)
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"), logger)

	g, err := NewGatherer(rc, model, store, logger)
	if err != nil {
		t.Fatalf("NewGatherer: %v", err)
	}
	g.SetSourceURLs(hn.URL, devto.URL)
	return g, store
}

func TestGatherReplacesBatch(t *testing.T) {
	reply := `[
		{"name": "json-diff", "description": "Diff JSON documents.", "tech_stack": ["go"], "roadmap": ["cli", "lib"], "score": 8.5},
		{"name": "pg-tuner", "description": "Tune Postgres.", "score": 7}
	]`
	g, store := newTestGatherer(t, reply)

	// Seed a stale batch to prove the wholesale replacement.
	if err := store.Mutate(func(d *state.Document) {
		d.Ideas.TopIdeas = []state.Idea{{Name: "old-idea"}}
	}); err != nil {
		t.Fatal(err)
	}

	batch, err := g.Gather(context.Background())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(batch.TopIdeas) != 2 {
		t.Fatalf("ideas = %d, want 2", len(batch.TopIdeas))
	}
	if batch.TopIdeas[0].Name != "json-diff" || batch.TopIdeas[0].Score != 8.5 {
		t.Errorf("first idea = %+v", batch.TopIdeas[0])
	}

	doc := store.Load()
	if len(doc.Ideas.TopIdeas) != 2 || doc.Ideas.TopIdeas[0].Name != "json-diff" {
		t.Errorf("stored ideas = %+v", doc.Ideas.TopIdeas)
	}
	if doc.Ideas.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestGatherSurvivesDeadSource(t *testing.T) {
	reply := `[{"name": "solo", "description": "One source was enough."}]`
	g, _ := newTestGatherer(t, reply)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(dead.Close)
	g.SetSourceURLs(dead.URL, "")

	batch, err := g.Gather(context.Background())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(batch.TopIdeas) != 1 {
		t.Errorf("ideas = %d, want 1", len(batch.TopIdeas))
	}
}

func TestGatherFailsWhenAllSourcesEmpty(t *testing.T) {
	g, _ := newTestGatherer(t, `[]`)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(dead.Close)
	g.SetSourceURLs(dead.URL, dead.URL)

	if _, err := g.Gather(context.Background()); err == nil {
		t.Fatal("expected error when every source is empty")
	}
}
