package maintainer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/go-steward/internal/github"
	"github.com/basket/go-steward/internal/llm"
	"github.com/basket/go-steward/internal/shared"
	"github.com/basket/go-steward/internal/state"
)

const staleCloseComment = "Closing due to inactivity. Reopen if this is still relevant."

// maxSuggestionLen caps generated comments so a rambling completion
// does not flood an issue thread.
const maxSuggestionLen = 1500

// SuggestionModel generates short advisory text for open work items.
// A nil model disables generated comments; everything else in the
// sweep still runs.
type SuggestionModel interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Summary counts what one sweep did.
type Summary struct {
	ReposVisited    int
	IssuesClosed    int
	IssuesSuggested int
	PRsFlagged      int
	DocsRefreshed   int
	QualityIssues   int
	Failures        int
}

// Sweeper runs the periodic maintenance pass over every repository in
// the organization: stale issues are closed, remaining open issues get
// a generated suggestion, stale pull requests are nudged, missing docs
// are restored, and quality gaps are filed.
type Sweeper struct {
	gh     *github.Client
	model  SuggestionModel
	store  *state.Store
	logger *slog.Logger

	// staleness threshold and the delay between repositories.
	staleAfter time.Duration
	pace       time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// onRepo fires after each repository, for metrics.
	onRepo func()
}

func NewSweeper(gh *github.Client, model SuggestionModel, store *state.Store, staleDays, paceSeconds int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if staleDays <= 0 {
		staleDays = 14
	}
	return &Sweeper{
		gh:         gh,
		model:      model,
		store:      store,
		logger:     logger,
		staleAfter: time.Duration(staleDays) * 24 * time.Hour,
		pace:       time.Duration(paceSeconds) * time.Second,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// SetRepoHook registers a callback fired after each repository pass.
func (s *Sweeper) SetRepoHook(fn func()) { s.onRepo = fn }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sweep visits every repository. One timestamp anchors the whole run so
// staleness judgments stay consistent across a slow sweep. A failing
// repository is logged and skipped; it never aborts the rest.
func (s *Sweeper) Sweep(ctx context.Context) (Summary, error) {
	repos, err := s.gh.ListRepos(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list repos: %w", err)
	}

	reference := s.now().UTC()
	var sum Summary
	for i, repo := range repos {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if repo.Archived {
			continue
		}
		if i > 0 {
			if err := s.sleep(ctx, s.pace); err != nil {
				return sum, err
			}
		}

		if err := s.sweepRepo(ctx, repo, reference, &sum); err != nil {
			sum.Failures++
			s.logger.Error("repository sweep failed",
				"repo", repo.Name, "error", shared.Redact(err.Error()))
		}
		sum.ReposVisited++
		if s.onRepo != nil {
			s.onRepo()
		}
	}

	s.logger.Info("maintenance sweep finished",
		"repos", sum.ReposVisited, "issues_closed", sum.IssuesClosed,
		"issues_suggested", sum.IssuesSuggested,
		"prs_flagged", sum.PRsFlagged, "docs_refreshed", sum.DocsRefreshed,
		"quality_issues", sum.QualityIssues, "failures", sum.Failures)

	if err := s.store.AppendAction("maintenance_sweep", "org",
		fmt.Sprintf("visited %d repos, closed %d issues", sum.ReposVisited, sum.IssuesClosed),
		state.OutcomeSuccess, ""); err != nil {
		s.logger.Error("sweep action record failed", "error", err)
	}
	return sum, nil
}

func (s *Sweeper) sweepRepo(ctx context.Context, repo github.Repo, reference time.Time, sum *Summary) error {
	if err := s.closeStaleIssues(ctx, repo.Name, reference, sum); err != nil {
		return err
	}
	if err := s.flagStalePRs(ctx, repo.Name, reference, sum); err != nil {
		return err
	}
	if err := s.refreshDocs(ctx, repo, sum); err != nil {
		return err
	}
	if err := s.qualityScan(ctx, repo, sum); err != nil {
		return err
	}
	if _, err := s.gh.EnsureBoard(ctx, repo.Name, nil); err != nil {
		return err
	}
	return s.logActivity(ctx, repo, reference)
}

// closeStaleIssues closes issues untouched past the staleness window,
// leaving a comment first. Roadmap and board issues are exempt. Open
// issues that survive the cut get a generated suggestion comment.
func (s *Sweeper) closeStaleIssues(ctx context.Context, repo string, reference time.Time, sum *Summary) error {
	issues, err := s.gh.ListIssues(ctx, repo, "open")
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	for _, issue := range issues {
		if hasLabel(issue, "roadmap") || hasLabel(issue, "pinned") {
			continue
		}
		if !isStale(issue.UpdatedAt, reference, s.staleAfter) {
			s.suggestOnIssue(ctx, repo, issue, sum)
			continue
		}
		if err := s.gh.CommentOnIssue(ctx, repo, issue.Number, staleCloseComment); err != nil {
			s.logger.Warn("stale comment failed", "repo", repo, "issue", issue.Number, "error", err)
		}
		if err := s.gh.CloseIssue(ctx, repo, issue.Number); err != nil {
			return fmt.Errorf("close issue %d: %w", issue.Number, err)
		}
		sum.IssuesClosed++
		s.logger.Info("stale issue closed", "repo", repo, "issue", issue.Number)
	}
	return nil
}

// suggestOnIssue attaches one generated suggestion to an open issue.
// Model failures are logged and never fail the sweep.
func (s *Sweeper) suggestOnIssue(ctx context.Context, repo string, issue github.Issue, sum *Summary) {
	text := s.generate(ctx,
		"You are a pragmatic open source maintainer. Reply with one short, concrete suggestion for moving the issue forward. Plain text, no preamble.",
		fmt.Sprintf("Repository: %s\nIssue #%d: %s\n\n%s", repo, issue.Number, issue.Title, issue.Body))
	if text == "" {
		return
	}
	if err := s.gh.CommentOnIssue(ctx, repo, issue.Number, "Suggestion: "+text); err != nil {
		s.logger.Warn("suggestion comment failed", "repo", repo, "issue", issue.Number, "error", err)
		return
	}
	sum.IssuesSuggested++
}

// generate runs one completion, trimming and capping the reply. An
// empty string means no model is wired or the call failed.
func (s *Sweeper) generate(ctx context.Context, system, user string) string {
	if s.model == nil {
		return ""
	}
	text, err := s.model.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		s.logger.Warn("suggestion generation failed", "error", shared.Redact(err.Error()))
		return ""
	}
	text = strings.TrimSpace(text)
	if len(text) > maxSuggestionLen {
		text = text[:maxSuggestionLen]
	}
	return text
}

// flagStalePRs labels and nudges pull requests past the staleness
// window. PRs are never closed automatically.
func (s *Sweeper) flagStalePRs(ctx context.Context, repo string, reference time.Time, sum *Summary) error {
	prs, err := s.gh.ListPullRequests(ctx, repo)
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}
	for _, pr := range prs {
		if pr.Draft || !isStale(pr.UpdatedAt, reference, s.staleAfter) {
			continue
		}
		if err := s.gh.AddLabels(ctx, repo, pr.Number, []string{"stale"}); err != nil {
			s.logger.Warn("stale label failed", "repo", repo, "pr", pr.Number, "error", err)
		}
		nudge := s.generate(ctx,
			"You are a pragmatic open source maintainer. Write one short, friendly nudge asking whether the pull request is still in progress and what would unblock it. Plain text, no preamble.",
			fmt.Sprintf("Repository: %s\nPull request #%d: %s", repo, pr.Number, pr.Title))
		if nudge == "" {
			nudge = "This pull request has been inactive for a while. Is it still in progress?"
		}
		if err := s.gh.CommentOnIssue(ctx, repo, pr.Number, nudge); err != nil {
			return fmt.Errorf("nudge pr %d: %w", pr.Number, err)
		}
		sum.PRsFlagged++
	}
	return nil
}

// refreshDocs restores a README when a repository has lost it.
func (s *Sweeper) refreshDocs(ctx context.Context, repo github.Repo, sum *Summary) error {
	branch := defaultBranch(repo)
	_, _, ok, err := s.gh.GetFile(ctx, repo.Name, "README.md", branch)
	if err != nil {
		return fmt.Errorf("check README: %w", err)
	}
	if ok {
		return nil
	}
	content := fmt.Sprintf("# %s\n\n%s\n", repo.Name, repo.Description)
	if err := s.gh.UpsertFile(ctx, repo.Name, "README.md", branch, "Restore README", []byte(content)); err != nil {
		return fmt.Errorf("restore README: %w", err)
	}
	sum.DocsRefreshed++
	s.logger.Info("README restored", "repo", repo.Name)
	return nil
}

// qualityScan files an issue when the repository lacks CI. At most one
// open quality issue exists per repository.
func (s *Sweeper) qualityScan(ctx context.Context, repo github.Repo, sum *Summary) error {
	branch := defaultBranch(repo)
	_, _, hasCI, err := s.gh.GetFile(ctx, repo.Name, ".github/workflows/ci.yml", branch)
	if err != nil {
		return fmt.Errorf("check CI workflow: %w", err)
	}
	if hasCI {
		return nil
	}

	const title = "Quality: add a CI workflow"
	issues, err := s.gh.ListIssues(ctx, repo.Name, "open")
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	for _, issue := range issues {
		if issue.Title == title {
			return nil
		}
	}
	if _, err := s.gh.CreateIssue(ctx, repo.Name, title,
		"This repository has no CI workflow. Add one under .github/workflows/ so tests run on every push.",
		[]string{"quality"}); err != nil {
		return fmt.Errorf("file quality issue: %w", err)
	}
	sum.QualityIssues++
	return nil
}

// logActivity appends one line to docs/ACTIVITY.md recording the visit.
func (s *Sweeper) logActivity(ctx context.Context, repo github.Repo, reference time.Time) error {
	branch := defaultBranch(repo)
	existing, sha, _, err := s.gh.GetFile(ctx, repo.Name, "docs/ACTIVITY.md", branch)
	if err != nil {
		return fmt.Errorf("read activity log: %w", err)
	}
	content := string(existing)
	if content == "" {
		content = "# Activity Log\n\n"
	}
	content += fmt.Sprintf("- %s maintenance sweep\n", reference.Format("2006-01-02"))
	if err := s.gh.PutFile(ctx, repo.Name, "docs/ACTIVITY.md", branch,
		"Record maintenance sweep", []byte(content), sha); err != nil {
		return fmt.Errorf("write activity log: %w", err)
	}
	return nil
}

func defaultBranch(repo github.Repo) string {
	if repo.DefaultBranch != "" {
		return repo.DefaultBranch
	}
	return "main"
}

func hasLabel(issue github.Issue, name string) bool {
	for _, l := range issue.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

// isStale reports whether the RFC 3339 timestamp is older than the
// window, measured against the sweep's single reference time. Unparsable
// timestamps are treated as fresh.
func isStale(updatedAt string, reference time.Time, window time.Duration) bool {
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return false
	}
	return reference.Sub(ts) > window
}
