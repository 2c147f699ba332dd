package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/basket/go-steward/internal/restclient"
)

// Insights summarizes a repository's shape: which conventional pieces
// are present and how much marked-but-unfinished work the code carries.
type Insights struct {
	HasReadme bool
	HasDocs   bool
	HasTests  bool
	HasSrc    bool
	TodoCount int
}

type contentEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RepoInsights inspects the repository's root listing and runs a TODO
// code search. The search is best-effort; an empty repository yields
// zero-valued insights rather than an error.
func (c *Client) RepoInsights(ctx context.Context, repo string) (Insights, error) {
	var entries []contentEntry
	err := c.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/contents/", c.org, repo), nil, &entries)
	if err != nil && restclient.StatusOf(err) != http.StatusNotFound {
		return Insights{}, err
	}

	var ins Insights
	for _, e := range entries {
		switch {
		case e.Type == "file" && strings.EqualFold(e.Name, "README.md"):
			ins.HasReadme = true
		case e.Type == "dir" && e.Name == "docs":
			ins.HasDocs = true
		case e.Type == "dir" && (e.Name == "tests" || e.Name == "test"):
			ins.HasTests = true
		case e.Type == "dir" && e.Name == "src":
			ins.HasSrc = true
		}
	}

	if n, err := c.SearchCode(ctx, fmt.Sprintf("TODO repo:%s/%s", c.org, repo)); err == nil {
		ins.TodoCount = n
	} else {
		c.logger.Debug("todo search unavailable", "repo", repo, "error", err)
	}
	return ins, nil
}
