package coordinator

import (
	"fmt"
	"time"
)

// IntentKind tags the variant of a plan intent.
type IntentKind string

const (
	// KindCreateRepo provisions a new repository with scaffolding.
	KindCreateRepo IntentKind = "create_repo"

	// KindCreateBranch cuts a work branch on an existing repository.
	KindCreateBranch IntentKind = "create_branch"

	// KindImproveRepo files an improvement issue on an existing
	// repository.
	KindImproveRepo IntentKind = "improve_repo"

	// KindMaintainRepo requests a focused maintenance pass.
	KindMaintainRepo IntentKind = "maintain_repo"

	// KindStrategic is a free-form strategic note. Strategic intents
	// are recorded, never executed.
	KindStrategic IntentKind = "strategic"
)

// Intent is one planned action. Exactly the fields for its kind are
// populated.
type Intent struct {
	ID   string     `json:"id"`
	Kind IntentKind `json:"kind"`

	// CreateRepo fields.
	RepoName    string   `json:"repo_name,omitempty"`
	Description string   `json:"description,omitempty"`
	TechStack   []string `json:"tech_stack,omitempty"`
	Roadmap     []string `json:"roadmap,omitempty"`
	ProjectType string   `json:"project_type,omitempty"`
	Audience    string   `json:"audience,omitempty"`

	// CreateBranch fields.
	Branch string `json:"branch,omitempty"`

	// ImproveRepo / MaintainRepo fields.
	Suggestion string `json:"suggestion,omitempty"`

	// Strategic fields.
	Note string `json:"note,omitempty"`

	// Rationale is the planner's stated reason, kept for the audit
	// trail.
	Rationale string `json:"rationale,omitempty"`
}

// Validate checks that the intent carries the fields its kind needs.
func (it Intent) Validate() error {
	switch it.Kind {
	case KindCreateRepo:
		if it.RepoName == "" {
			return fmt.Errorf("create_repo intent missing repo_name")
		}
	case KindCreateBranch:
		if it.RepoName == "" || it.Branch == "" {
			return fmt.Errorf("create_branch intent missing repo_name or branch")
		}
	case KindImproveRepo:
		// Suggestion may be empty; the executor derives one from
		// repository insights when the planner gives none.
		if it.RepoName == "" {
			return fmt.Errorf("improve_repo intent missing repo_name")
		}
	case KindMaintainRepo:
		if it.RepoName == "" {
			return fmt.Errorf("maintain_repo intent missing repo_name")
		}
	case KindStrategic:
		if it.Note == "" {
			return fmt.Errorf("strategic intent missing note")
		}
	default:
		return fmt.Errorf("unknown intent kind %q", it.Kind)
	}
	return nil
}

// Target names what the intent acts on, for logging and action records.
func (it Intent) Target() string {
	switch it.Kind {
	case KindCreateBranch:
		return it.RepoName + ":" + it.Branch
	case KindStrategic:
		return "org"
	default:
		return it.RepoName
	}
}

// Plan is one day's worth of intents.
type Plan struct {
	CycleID   string    `json:"cycle_id"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`

	// Source records how the plan was produced: "model", "fallback",
	// or "bootstrap".
	Source string `json:"source"`

	Intents []Intent `json:"intents"`
}

// Plan sources.
const (
	SourceModel     = "model"
	SourceFallback  = "fallback"
	SourceBootstrap = "bootstrap"
)
