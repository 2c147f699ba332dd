package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/go-steward/internal/github"
	"github.com/basket/go-steward/internal/scaffold"
	"github.com/basket/go-steward/internal/shared"
	"github.com/basket/go-steward/internal/state"
)

// Result summarizes how a plan's intents fared.
type Result struct {
	Executed int
	Skipped  int
	Failed   int
	DryRun   int
}

// Executor carries out plan intents against GitHub. A semaphore caps
// in-flight operations; each intent is isolated so one failure never
// aborts the rest of the plan.
type Executor struct {
	gh     *github.Client
	store  *state.Store
	logger *slog.Logger

	dryRun bool
	sem    chan struct{}

	// hooks for metrics, optional.
	onExecuted func()
	onFailed   func()

	// runSweep delegates maintain intents to the maintenance sweep.
	runSweep func(ctx context.Context) error
}

func NewExecutor(gh *github.Client, store *state.Store, maxInFlight int, dryRun bool, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Executor{
		gh:     gh,
		store:  store,
		logger: logger,
		dryRun: dryRun,
		sem:    make(chan struct{}, maxInFlight),
	}
}

// SetHooks registers optional callbacks fired after each intent.
func (e *Executor) SetHooks(onExecuted, onFailed func()) {
	e.onExecuted = onExecuted
	e.onFailed = onFailed
}

// SetSweepHook registers the maintenance sweep that maintain intents
// delegate to.
func (e *Executor) SetSweepHook(fn func(ctx context.Context) error) {
	e.runSweep = fn
}

// ExecutePlan runs the plan's intents in order. Intents acquire the
// in-flight semaphore before touching GitHub and release it on the way
// out, failure included.
func (e *Executor) ExecutePlan(ctx context.Context, plan Plan) Result {
	var res Result
	for _, intent := range plan.Intents {
		if ctx.Err() != nil {
			e.logger.Warn("plan execution interrupted", "cycle", plan.CycleID)
			break
		}
		outcome := e.executeOne(ctx, intent)
		switch outcome {
		case state.OutcomeSuccess:
			res.Executed++
			if e.onExecuted != nil {
				e.onExecuted()
			}
		case state.OutcomeSkipped:
			res.Skipped++
		case state.OutcomeDryRun:
			res.DryRun++
		default:
			res.Failed++
			if e.onFailed != nil {
				e.onFailed()
			}
		}
	}
	e.logger.Info("plan executed",
		"cycle", plan.CycleID,
		"executed", res.Executed, "skipped", res.Skipped,
		"failed", res.Failed, "dry_run", res.DryRun)
	return res
}

// executeOne runs a single intent and records its action. The returned
// string is one of the state outcome constants.
func (e *Executor) executeOne(ctx context.Context, intent Intent) (outcome string) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return state.OutcomeFailure
	}
	defer func() { <-e.sem }()

	// A panicking intent records a failure instead of taking the
	// process down.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("intent panicked", "kind", string(intent.Kind), "target", intent.Target(), "panic", r)
			outcome = state.OutcomeFailure
			e.record(intent, outcome, fmt.Sprintf("panic: %v", r))
		}
	}()

	// Dry runs are log-only. Nothing is written to GitHub or the
	// state store, so a dry cycle leaves both byte-for-byte intact.
	if e.dryRun {
		e.logger.Info("dry run, intent not executed",
			"kind", string(intent.Kind), "target", intent.Target(),
			"rationale", intent.Rationale)
		return state.OutcomeDryRun
	}

	if intent.Kind == KindStrategic {
		e.logger.Info("strategic note", "note", intent.Note, "rationale", intent.Rationale)
		e.record(intent, state.OutcomeSuccess, "")
		return state.OutcomeSuccess
	}

	var err error
	skipped := false
	switch intent.Kind {
	case KindCreateRepo:
		skipped, err = e.createRepo(ctx, intent)
	case KindCreateBranch:
		err = e.createBranch(ctx, intent)
	case KindImproveRepo:
		err = e.improveRepo(ctx, intent)
	case KindMaintainRepo:
		err = e.maintainRepo(ctx, intent)
	default:
		err = fmt.Errorf("unknown intent kind %q", intent.Kind)
	}

	switch {
	case err != nil:
		e.logger.Error("intent failed",
			"kind", string(intent.Kind), "target", intent.Target(),
			"error", shared.Redact(err.Error()))
		e.record(intent, state.OutcomeFailure, err.Error())
		return state.OutcomeFailure
	case skipped:
		e.record(intent, state.OutcomeSkipped, "")
		return state.OutcomeSkipped
	default:
		e.record(intent, state.OutcomeSuccess, "")
		return state.OutcomeSuccess
	}
}

func (e *Executor) record(intent Intent, outcome, errMsg string) {
	if err := e.store.AppendAction(string(intent.Kind), intent.Target(), intent.Rationale, outcome, shared.Redact(errMsg)); err != nil {
		e.logger.Error("action record failed", "error", err)
	}
}

// createRepo provisions a repository with the standard scaffold. The
// operation is idempotent: an existing repository is skipped, never
// overwritten, and a name whose record is still in the creating state
// is never re-created.
func (e *Executor) createRepo(ctx context.Context, intent Intent) (skipped bool, err error) {
	if rec, ok := e.store.Load().FindRepo(intent.RepoName); ok && rec.Status == state.RepoStatusCreating {
		e.logger.Warn("repository creation already in progress, skipping", "repo", intent.RepoName)
		return true, nil
	}
	_, exists, err := e.gh.GetRepo(ctx, intent.RepoName)
	if err != nil {
		return false, fmt.Errorf("check repo: %w", err)
	}
	if exists {
		e.logger.Warn("repository already exists, skipping", "repo", intent.RepoName)
		return true, nil
	}

	// Repositories always start private; publication is a separate,
	// policy-gated step.
	repo, err := e.gh.CreateRepo(ctx, github.CreateRepoRequest{
		Name:        intent.RepoName,
		Description: intent.Description,
		Private:     true,
		AutoInit:    true,
	})
	if err != nil {
		return false, fmt.Errorf("create repo: %w", err)
	}
	e.logger.Info("repository created", "repo", repo.Name)

	// The creating record lands before any content does, so a crash
	// mid-scaffold leaves a marker instead of a half-built mystery.
	rec := state.RepoRecord{
		Name:        repo.Name,
		Description: intent.Description,
		TechStack:   intent.TechStack,
		Roadmap:     intent.Roadmap,
		URL:         repo.HTMLURL,
		CreatedAt:   time.Now().UTC(),
		Visibility:  github.VisibilityPrivate,
		ProjectType: intent.ProjectType,
		Audience:    intent.Audience,
		Status:      state.RepoStatusCreating,
	}
	if err := e.store.Mutate(func(doc *state.Document) { doc.UpsertRepo(rec) }); err != nil {
		return false, fmt.Errorf("record repo: %w", err)
	}

	if err := e.provisionRepo(ctx, intent, repo); err != nil {
		rec.Status = state.RepoStatusFailed
		if recErr := e.store.Mutate(func(doc *state.Document) { doc.UpsertRepo(rec) }); recErr != nil {
			e.logger.Error("failure record failed", "repo", repo.Name, "error", recErr)
		}
		return false, err
	}

	rec.Status = state.RepoStatusComplete
	if github.CanAutoPublish(intent.ProjectType, intent.Audience) {
		if err := e.gh.SetVisibility(ctx, repo.Name, false); err != nil {
			e.logger.Warn("publication failed, staying private", "repo", repo.Name, "error", err)
		} else {
			rec.Visibility = github.VisibilityPublic
			e.logger.Info("repository published", "repo", repo.Name)
		}
	}
	if err := e.store.Mutate(func(doc *state.Document) { doc.UpsertRepo(rec) }); err != nil {
		return false, fmt.Errorf("record repo: %w", err)
	}
	return false, nil
}

// provisionRepo pushes the scaffold and opens the tracking issues on a
// freshly created repository.
func (e *Executor) provisionRepo(ctx context.Context, intent Intent, repo github.Repo) error {
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	files := scaffold.Render(scaffold.Project{
		Name:        intent.RepoName,
		Description: intent.Description,
		TechStack:   intent.TechStack,
		Roadmap:     intent.Roadmap,
		Org:         e.gh.Org(),
	})
	for _, f := range files {
		if err := e.gh.UpsertFile(ctx, repo.Name, f.Path, branch, "Add "+f.Path, f.Content); err != nil {
			return fmt.Errorf("scaffold %s: %w", f.Path, err)
		}
	}

	if _, err := e.gh.EnsureBoard(ctx, repo.Name, intent.Roadmap); err != nil {
		e.logger.Warn("board setup failed", "repo", repo.Name, "error", err)
	}
	e.fileStarterIssues(ctx, repo.Name, intent.Roadmap)
	return nil
}

// fileStarterIssues opens one issue per roadmap item, capped so a long
// roadmap does not flood the tracker.
func (e *Executor) fileStarterIssues(ctx context.Context, repo string, roadmap []string) {
	const maxStarterIssues = 5
	for i, item := range roadmap {
		if i >= maxStarterIssues {
			return
		}
		if _, err := e.gh.CreateIssue(ctx, repo, item, "Part of the initial roadmap.", []string{"roadmap"}); err != nil {
			e.logger.Warn("starter issue failed", "repo", repo, "title", item, "error", err)
		}
	}
}

func (e *Executor) createBranch(ctx context.Context, intent Intent) error {
	repo, exists, err := e.gh.GetRepo(ctx, intent.RepoName)
	if err != nil {
		return fmt.Errorf("check repo: %w", err)
	}
	if !exists {
		return fmt.Errorf("repository %s does not exist", intent.RepoName)
	}
	from := repo.DefaultBranch
	if from == "" {
		from = "main"
	}
	if err := e.gh.CreateBranch(ctx, intent.RepoName, intent.Branch, from); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	e.logger.Info("branch created", "repo", intent.RepoName, "branch", intent.Branch)
	return nil
}

func (e *Executor) improveRepo(ctx context.Context, intent Intent) error {
	suggestion := strings.TrimSpace(intent.Suggestion)
	if suggestion == "" {
		suggestion = e.deriveSuggestion(ctx, intent.RepoName)
	}
	issue, err := e.gh.CreateIssue(ctx, intent.RepoName,
		"Improvement: "+firstLine(suggestion), suggestion, []string{"enhancement"})
	if err != nil {
		return fmt.Errorf("file improvement: %w", err)
	}
	e.logger.Info("improvement filed", "repo", intent.RepoName, "issue", issue.Number)
	return nil
}

// deriveSuggestion picks an improvement from repository insights when
// the plan names a target but no concrete suggestion.
func (e *Executor) deriveSuggestion(ctx context.Context, repo string) string {
	ins, err := e.gh.RepoInsights(ctx, repo)
	if err != nil {
		e.logger.Warn("repo insights unavailable", "repo", repo, "error", err)
		return "Review the repository for improvement opportunities."
	}
	switch {
	case !ins.HasReadme:
		return "Add a README describing the project and how to use it."
	case !ins.HasTests:
		return "Add a test suite; the repository has no tests directory."
	case !ins.HasDocs:
		return "Add project documentation under docs/."
	case ins.TodoCount > 0:
		return fmt.Sprintf("Resolve the %d TODO markers found in the code.", ins.TodoCount)
	default:
		return "Review open issues and refresh the roadmap."
	}
}

// maintainRepo delegates to the maintenance sweep, which covers the
// whole repository set. Without a sweep hook it falls back to filing a
// maintenance request issue on the named repository.
func (e *Executor) maintainRepo(ctx context.Context, intent Intent) error {
	if e.runSweep != nil {
		e.logger.Info("maintain intent delegating to sweep", "requested_by", intent.Target())
		if err := e.runSweep(ctx); err != nil {
			return fmt.Errorf("maintenance sweep: %w", err)
		}
		return nil
	}
	body := intent.Suggestion
	if body == "" {
		body = "Scheduled maintenance pass requested."
	}
	if _, err := e.gh.CreateIssue(ctx, intent.RepoName, "Maintenance pass", body, []string{"maintenance"}); err != nil {
		return fmt.Errorf("file maintenance request: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	for i, ch := range s {
		if ch == '\n' {
			return s[:i]
		}
	}
	if len(s) > 72 {
		return s[:72]
	}
	return s
}
