package ideas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/go-steward/internal/llm"
	"github.com/basket/go-steward/internal/restclient"
	"github.com/basket/go-steward/internal/state"
)

const (
	defaultHNBaseURL    = "https://hacker-news.firebaseio.com/v0"
	defaultDevtoBaseURL = "https://dev.to/api"

	// topStoriesLimit bounds how many Hacker News items are fetched
	// per gathering run.
	topStoriesLimit = 20
	devtoPerPage    = 20
	maxIdeas        = 10
)

// Gatherer collects trending material from external sources and asks
// the model to distill it into ranked project ideas. Each run replaces
// the stored idea batch wholesale.
type Gatherer struct {
	rc     *restclient.Client
	model  *llm.Client
	store  *state.Store
	logger *slog.Logger

	hnBaseURL    string
	devtoBaseURL string

	validator *llm.StructuredValidator
}

func NewGatherer(rc *restclient.Client, model *llm.Client, store *state.Store, logger *slog.Logger) (*Gatherer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := llm.NewStructuredValidator(ideaSchema)
	if err != nil {
		return nil, fmt.Errorf("compile idea schema: %w", err)
	}
	return &Gatherer{
		rc:           rc,
		model:        model,
		store:        store,
		logger:       logger,
		hnBaseURL:    defaultHNBaseURL,
		devtoBaseURL: defaultDevtoBaseURL,
		validator:    validator,
	}, nil
}

// SetSourceURLs overrides the external source endpoints.
func (g *Gatherer) SetSourceURLs(hn, devto string) {
	if hn != "" {
		g.hnBaseURL = strings.TrimRight(hn, "/")
	}
	if devto != "" {
		g.devtoBaseURL = strings.TrimRight(devto, "/")
	}
}

var ideaSchema = json.RawMessage(`{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"description": {"type": "string"},
			"tech_stack": {"type": "array", "items": {"type": "string"}},
			"roadmap": {"type": "array", "items": {"type": "string"}},
			"score": {"type": "number"}
		},
		"required": ["name", "description"]
	}
}`)

// Headline is one trending item from an external source.
type Headline struct {
	Title  string
	URL    string
	Source string
}

// Gather fetches headlines, ranks them into project ideas, and replaces
// the stored batch. Source failures degrade to whatever headlines were
// collected; the run only fails when every source is empty or the model
// call fails.
func (g *Gatherer) Gather(ctx context.Context) (state.IdeaBatch, error) {
	headlines := g.collectHeadlines(ctx)
	if len(headlines) == 0 {
		return state.IdeaBatch{}, fmt.Errorf("no headlines gathered from any source")
	}

	ideas, err := g.rank(ctx, headlines)
	if err != nil {
		return state.IdeaBatch{}, err
	}
	if len(ideas) > maxIdeas {
		ideas = ideas[:maxIdeas]
	}

	batch := state.IdeaBatch{
		GeneratedAt: time.Now().UTC(),
		TopIdeas:    ideas,
	}
	if err := g.store.Mutate(func(doc *state.Document) {
		doc.Ideas = batch
	}); err != nil {
		return state.IdeaBatch{}, fmt.Errorf("persist ideas: %w", err)
	}
	g.logger.Info("idea batch refreshed", "headlines", len(headlines), "ideas", len(ideas))
	return batch, nil
}

func (g *Gatherer) collectHeadlines(ctx context.Context) []Headline {
	var headlines []Headline

	hn, err := g.fetchHackerNews(ctx)
	if err != nil {
		g.logger.Warn("hacker news fetch failed", "error", err)
	}
	headlines = append(headlines, hn...)

	devto, err := g.fetchDevto(ctx)
	if err != nil {
		g.logger.Warn("dev.to fetch failed", "error", err)
	}
	headlines = append(headlines, devto...)

	return headlines
}

func (g *Gatherer) fetchHackerNews(ctx context.Context) ([]Headline, error) {
	resp, err := g.rc.Do(ctx, restclient.Request{
		Method: "GET",
		URL:    g.hnBaseURL + "/topstories.json",
	})
	if err != nil {
		return nil, err
	}
	var ids []int
	if err := resp.Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode story ids: %w", err)
	}
	if len(ids) > topStoriesLimit {
		ids = ids[:topStoriesLimit]
	}

	var headlines []Headline
	for _, id := range ids {
		itemResp, err := g.rc.Do(ctx, restclient.Request{
			Method: "GET",
			URL:    fmt.Sprintf("%s/item/%d.json", g.hnBaseURL, id),
		})
		if err != nil {
			g.logger.Warn("story fetch failed", "id", id, "error", err)
			continue
		}
		var item struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		}
		if err := itemResp.Decode(&item); err != nil || item.Title == "" {
			continue
		}
		headlines = append(headlines, Headline{Title: item.Title, URL: item.URL, Source: "hackernews"})
	}
	return headlines, nil
}

func (g *Gatherer) fetchDevto(ctx context.Context) ([]Headline, error) {
	resp, err := g.rc.Do(ctx, restclient.Request{
		Method: "GET",
		URL:    fmt.Sprintf("%s/articles?per_page=%d&top=7", g.devtoBaseURL, devtoPerPage),
	})
	if err != nil {
		return nil, err
	}
	var articles []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := resp.Decode(&articles); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	headlines := make([]Headline, 0, len(articles))
	for _, a := range articles {
		if a.Title == "" {
			continue
		}
		headlines = append(headlines, Headline{Title: a.Title, URL: a.URL, Source: "devto"})
	}
	return headlines, nil
}

func (g *Gatherer) rank(ctx context.Context, headlines []Headline) ([]state.Idea, error) {
	var b strings.Builder
	for _, h := range headlines {
		fmt.Fprintf(&b, "- [%s] %s\n", h.Source, h.Title)
	}

	prompt := fmt.Sprintf(`You curate project ideas for a software organization.
From the trending headlines below, propose up to %d concrete open-source
project ideas, ranked best first. For each idea give a short kebab-case
name, a one-paragraph description, a tech_stack list, a 3-5 item roadmap,
and a score from 0 to 10.

Headlines:
%s
Respond with only a JSON array matching this schema:
%s`, maxIdeas, b.String(), string(ideaSchema))

	raw, err := g.model.CompleteStructured(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	}, g.validator)
	if err != nil {
		return nil, fmt.Errorf("rank ideas: %w", err)
	}

	var parsed []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		TechStack   []string `json:"tech_stack"`
		Roadmap     []string `json:"roadmap"`
		Score       float64  `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode ideas: %w", err)
	}

	ideas := make([]state.Idea, 0, len(parsed))
	for _, p := range parsed {
		ideas = append(ideas, state.Idea{
			Name:        p.Name,
			Description: p.Description,
			TechStack:   p.TechStack,
			Roadmap:     p.Roadmap,
			Score:       p.Score,
			Source:      "gathered",
		})
	}
	return ideas, nil
}
