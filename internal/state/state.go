package state

import "time"

// Document is the whole persisted state. It is read and written as a
// single JSON file so the on-disk form stays hand-inspectable.
type Document struct {
	Repositories []RepoRecord   `json:"repositories"`
	Ideas        IdeaBatch      `json:"ideas"`
	Actions      []ActionRecord `json:"actions"`
	Stats        OrgStats       `json:"organization_stats"`

	// OneTimeFlags records events that should happen at most once,
	// keyed by flag name.
	OneTimeFlags map[string]time.Time `json:"one_time_flags,omitempty"`
}

// RepoRecord tracks one repository the organization manages.
type RepoRecord struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TechStack   []string  `json:"tech_stack,omitempty"`
	Roadmap     []string  `json:"roadmap,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Visibility  string    `json:"visibility,omitempty"`
	ProjectType string    `json:"project_type,omitempty"`
	Audience    string    `json:"audience,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// IdeaBatch is the most recent crop of ranked project ideas. Each
// refresh replaces the batch wholesale.
type IdeaBatch struct {
	GeneratedAt time.Time `json:"generated_at,omitempty"`
	TopIdeas    []Idea    `json:"top_ideas,omitempty"`
}

// Idea is one candidate project surfaced from external sources.
type Idea struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	TechStack   []string `json:"tech_stack,omitempty"`
	Roadmap     []string `json:"roadmap,omitempty"`
	Source      string   `json:"source,omitempty"`
	Score       float64  `json:"score,omitempty"`
}

// ActionRecord is one append-only entry of something the system did.
type ActionRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Action outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeDryRun  = "dry_run"
)

// OrgStats is a snapshot of organization-wide counters.
type OrgStats struct {
	CollectedAt time.Time `json:"collected_at,omitempty"`
	RepoCount   int       `json:"repo_count"`
	MemberCount int       `json:"member_count"`
	OpenIssues  int       `json:"open_issues"`
	OpenPRs     int       `json:"open_prs"`
	StarsTotal  int       `json:"stars_total"`
}

// Repository lifecycle statuses.
const (
	RepoStatusCreating = "creating"
	RepoStatusComplete = "complete"
	RepoStatusFailed   = "failed"
)

// FindRepo returns the record for name and whether it exists. The
// value receiver lets callers chain off Store.Load directly.
func (d Document) FindRepo(name string) (RepoRecord, bool) {
	for _, r := range d.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return RepoRecord{}, false
}

// UpsertRepo inserts or replaces the record keyed by Name.
func (d *Document) UpsertRepo(rec RepoRecord) {
	for i, r := range d.Repositories {
		if r.Name == rec.Name {
			d.Repositories[i] = rec
			return
		}
	}
	d.Repositories = append(d.Repositories, rec)
}
