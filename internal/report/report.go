package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/basket/go-steward/internal/state"
)

// Summary is a human-readable digest of the organization's state.
type Summary struct {
	GeneratedAt time.Time
	Org         string
	Stats       state.OrgStats
	RepoCount   int
	IdeaCount   int
	TopIdea     string

	// RecentActions are the newest entries from the action history.
	RecentActions []state.ActionRecord
}

// Build assembles a summary from the current state document.
func Build(org string, doc state.Document) Summary {
	s := Summary{
		GeneratedAt: time.Now().UTC(),
		Org:         org,
		Stats:       doc.Stats,
		RepoCount:   len(doc.Repositories),
		IdeaCount:   len(doc.Ideas.TopIdeas),
	}
	if s.IdeaCount > 0 {
		s.TopIdea = doc.Ideas.TopIdeas[0].Name
	}
	n := len(doc.Actions)
	start := n - 5
	if start < 0 {
		start = 0
	}
	s.RecentActions = doc.Actions[start:]
	return s
}

// Render formats the summary as plain text suitable for chat delivery.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report for %s (%s)\n\n", s.Org, s.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Repositories: %d\n", s.RepoCount)
	if !s.Stats.CollectedAt.IsZero() {
		fmt.Fprintf(&b, "Open issues: %d | Open PRs: %d | Stars: %d | Members: %d\n",
			s.Stats.OpenIssues, s.Stats.OpenPRs, s.Stats.StarsTotal, s.Stats.MemberCount)
	}
	if s.TopIdea != "" {
		fmt.Fprintf(&b, "Ideas on deck: %d (top: %s)\n", s.IdeaCount, s.TopIdea)
	}
	if len(s.RecentActions) > 0 {
		b.WriteString("\nRecent actions:\n")
		for _, a := range s.RecentActions {
			fmt.Fprintf(&b, "- %s %s: %s\n", a.Kind, a.Target, a.Outcome)
		}
	}
	return b.String()
}
