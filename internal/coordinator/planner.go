package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/go-steward/internal/llm"
	"github.com/basket/go-steward/internal/shared"
	"github.com/basket/go-steward/internal/state"
)

var planSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"intents": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"kind": {"type": "string", "enum": ["create_repo", "create_branch", "improve_repo", "maintain_repo", "strategic"]},
					"repo_name": {"type": "string"},
					"description": {"type": "string"},
					"tech_stack": {"type": "array", "items": {"type": "string"}},
					"roadmap": {"type": "array", "items": {"type": "string"}},
					"project_type": {"type": "string"},
					"audience": {"type": "string"},
					"branch": {"type": "string"},
					"suggestion": {"type": "string"},
					"note": {"type": "string"},
					"rationale": {"type": "string"}
				},
				"required": ["kind"]
			}
		}
	},
	"required": ["intents"]
}`)

// Planner produces the daily plan. The model proposes intents in
// priority order; invalid output falls back to a deterministic plan so
// a cycle always has something to execute.
type Planner struct {
	model  *llm.Client
	store  *state.Store
	logger *slog.Logger

	// budget caps intents per plan. Truncation is positional since the
	// model is asked for priority order.
	budget int

	validator *llm.StructuredValidator
	now       func() time.Time
}

func NewPlanner(model *llm.Client, store *state.Store, budget int, logger *slog.Logger) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if budget <= 0 {
		budget = 3
	}
	validator, err := llm.NewStructuredValidator(planSchema)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return &Planner{
		model:     model,
		store:     store,
		logger:    logger,
		budget:    budget,
		validator: validator,
		now:       time.Now,
	}, nil
}

// BuildPlan assembles the plan for the current cycle. An organization
// with no repositories bootstraps deterministically without consulting
// the model.
func (p *Planner) BuildPlan(ctx context.Context) (Plan, error) {
	doc := p.store.Load()
	plan := Plan{
		CycleID:   uuid.NewString(),
		Date:      p.now().UTC().Format("2006-01-02"),
		CreatedAt: p.now().UTC(),
	}

	if len(doc.Repositories) == 0 {
		plan.Source = SourceBootstrap
		plan.Intents = p.bootstrapIntents(doc)
		p.logger.Info("bootstrap plan built", "cycle", plan.CycleID, "intents", len(plan.Intents))
		return plan, nil
	}

	intents, err := p.modelIntents(ctx, doc)
	if err != nil {
		p.logger.Warn("model plan failed, using fallback", "error", shared.Redact(err.Error()))
		plan.Source = SourceFallback
		plan.Intents = p.fallbackIntents(doc)
	} else {
		plan.Source = SourceModel
		plan.Intents = intents
	}

	plan.Intents = p.clamp(plan.Intents)
	p.logger.Info("plan built",
		"cycle", plan.CycleID, "source", plan.Source, "intents", len(plan.Intents))
	return plan, nil
}

// bootstrapIntents seeds an empty organization with its first
// repository, drawn from the top stored idea when one exists.
func (p *Planner) bootstrapIntents(doc state.Document) []Intent {
	intent := Intent{
		ID:          uuid.NewString(),
		Kind:        KindCreateRepo,
		RepoName:    "hello-steward",
		Description: "First repository, created to bootstrap the organization.",
		TechStack:   []string{"python"},
		Roadmap:     []string{"Define project goals", "Ship a first release"},
		ProjectType: "tool",
		Audience:    "general",
		Rationale:   "Organization has no repositories yet.",
	}
	if len(doc.Ideas.TopIdeas) > 0 {
		idea := doc.Ideas.TopIdeas[0]
		intent.RepoName = shared.SanitizeRepoName(idea.Name)
		intent.Description = idea.Description
		if len(idea.TechStack) > 0 {
			intent.TechStack = idea.TechStack
		}
		if len(idea.Roadmap) > 0 {
			intent.Roadmap = idea.Roadmap
		}
		intent.Rationale = "Top ranked idea selected to bootstrap the organization."
	}
	return []Intent{intent}
}

func (p *Planner) modelIntents(ctx context.Context, doc state.Document) ([]Intent, error) {
	prompt := p.buildPrompt(doc)
	raw, err := p.model.CompleteStructured(ctx, []llm.Message{
		{Role: "system", Content: "You are the planning brain of an autonomous GitHub organization manager. You respond with strict JSON only."},
		{Role: "user", Content: prompt},
	}, p.validator)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Intents []Intent `json:"intents"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	intents := make([]Intent, 0, len(parsed.Intents))
	for _, it := range parsed.Intents {
		it.ID = uuid.NewString()
		if it.RepoName != "" {
			it.RepoName = shared.SanitizeRepoName(it.RepoName)
		}
		if err := it.Validate(); err != nil {
			p.logger.Warn("dropping invalid intent", "error", err)
			continue
		}
		intents = append(intents, it)
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("plan contained no valid intents")
	}
	return intents, nil
}

// fallbackIntents is the deterministic plan used when the model cannot
// produce a valid one: a maintenance pass on the least recently touched
// repository, plus an improvement nudge.
func (p *Planner) fallbackIntents(doc state.Document) []Intent {
	target := doc.Repositories[0].Name
	oldest := doc.Repositories[0].CreatedAt
	for _, r := range doc.Repositories[1:] {
		if r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
			target = r.Name
		}
	}
	return []Intent{
		{
			ID:        uuid.NewString(),
			Kind:      KindMaintainRepo,
			RepoName:  target,
			Rationale: "Deterministic fallback: maintain the oldest repository.",
		},
		{
			ID:         uuid.NewString(),
			Kind:       KindImproveRepo,
			RepoName:   target,
			Suggestion: "Review the README for accuracy and expand the test suite.",
			Rationale:  "Deterministic fallback improvement.",
		},
	}
}

func (p *Planner) clamp(intents []Intent) []Intent {
	if len(intents) <= p.budget {
		return intents
	}
	p.logger.Info("plan clamped to budget", "budget", p.budget, "proposed", len(intents))
	return intents[:p.budget]
}

func (p *Planner) buildPrompt(doc state.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. Propose up to %d intents for the organization, highest priority first.\n\n", p.now().UTC().Format("2006-01-02"), p.budget)

	if !doc.Stats.CollectedAt.IsZero() {
		fmt.Fprintf(&b, "Organization snapshot (as of %s): %d repositories, %d members, %d open issues, %d open PRs, %d stars.\n\n",
			doc.Stats.CollectedAt.UTC().Format("2006-01-02 15:04"),
			doc.Stats.RepoCount, doc.Stats.MemberCount,
			doc.Stats.OpenIssues, doc.Stats.OpenPRs, doc.Stats.StarsTotal)
	}

	b.WriteString("Current repositories:\n")
	for _, r := range doc.Repositories {
		fmt.Fprintf(&b, "- %s: %s (status %s)\n", r.Name, r.Description, r.Status)
	}

	if len(doc.Ideas.TopIdeas) > 0 {
		b.WriteString("\nRanked project ideas:\n")
		for _, idea := range doc.Ideas.TopIdeas {
			fmt.Fprintf(&b, "- %s (%.1f): %s\n", idea.Name, idea.Score, idea.Description)
		}
	}

	if n := len(doc.Actions); n > 0 {
		b.WriteString("\nRecent actions:\n")
		start := n - 10
		if start < 0 {
			start = 0
		}
		for _, a := range doc.Actions[start:] {
			fmt.Fprintf(&b, "- %s %s (%s)\n", a.Kind, a.Target, a.Outcome)
		}
	}

	fmt.Fprintf(&b, "\nRespond with only JSON matching this schema:\n%s\n", string(planSchema))
	return b.String()
}
