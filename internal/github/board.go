package github

import (
	"context"
	"fmt"
	"strings"
)

// trackingIssueTitle marks the issue used as a lightweight project
// board when the classic projects API is unavailable for the org.
const trackingIssueTitle = "Project board"

// EnsureBoard guarantees the repository has a tracking issue listing
// the roadmap items, creating it when absent. Returns the issue number.
func (c *Client) EnsureBoard(ctx context.Context, repo string, roadmap []string) (int, error) {
	issues, err := c.ListIssues(ctx, repo, "open")
	if err != nil {
		return 0, err
	}
	for _, is := range issues {
		if is.Title == trackingIssueTitle {
			return is.Number, nil
		}
	}

	body := boardBody(roadmap)
	created, err := c.CreateIssue(ctx, repo, trackingIssueTitle, body, []string{"roadmap"})
	if err != nil {
		return 0, fmt.Errorf("create board issue: %w", err)
	}
	c.logger.Info("created project board issue", "repo", repo, "number", created.Number)
	return created.Number, nil
}

func boardBody(roadmap []string) string {
	var b strings.Builder
	b.WriteString("Tracking issue for planned work.\n\n")
	if len(roadmap) == 0 {
		b.WriteString("- [ ] Define initial roadmap\n")
		return b.String()
	}
	for _, item := range roadmap {
		fmt.Fprintf(&b, "- [ ] %s\n", item)
	}
	return b.String()
}
