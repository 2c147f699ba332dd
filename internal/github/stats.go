package github

import (
	"context"
	"time"

	"github.com/basket/go-steward/internal/state"
)

// CollectStats gathers an organization-wide snapshot by walking every
// repository. Best effort: a member-list failure (common with limited
// token scopes) degrades to a zero count rather than failing the
// snapshot.
func (c *Client) CollectStats(ctx context.Context) (state.OrgStats, error) {
	repos, err := c.ListRepos(ctx)
	if err != nil {
		return state.OrgStats{}, err
	}

	stats := state.OrgStats{
		CollectedAt: time.Now().UTC(),
		RepoCount:   len(repos),
	}
	for _, r := range repos {
		stats.StarsTotal += r.StarCount
		stats.OpenIssues += r.OpenIssues
	}

	for _, r := range repos {
		prs, err := c.ListPullRequests(ctx, r.Name)
		if err != nil {
			c.logger.Warn("pull request count unavailable", "repo", r.Name, "error", err)
			continue
		}
		stats.OpenPRs += len(prs)
		// open_issues_count includes PRs; correct the issue total.
		stats.OpenIssues -= len(prs)
	}
	if stats.OpenIssues < 0 {
		stats.OpenIssues = 0
	}

	members, err := c.ListMembers(ctx)
	if err != nil {
		c.logger.Warn("member list unavailable", "error", err)
	} else {
		stats.MemberCount = len(members)
	}
	return stats, nil
}
