package shared

import (
	"regexp"
	"strings"
)

var (
	repoNameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
	repoNameDashes  = regexp.MustCompile(`-{2,}`)
)

// SanitizeRepoName turns an arbitrary idea title into a valid repository
// name: lowercase, hyphen-separated, no leading/trailing or repeated hyphens.
// Returns an empty string if nothing usable remains.
func SanitizeRepoName(title string) string {
	name := strings.ToLower(strings.TrimSpace(title))
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")
	name = repoNameInvalid.ReplaceAllString(name, "")
	name = repoNameDashes.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > 100 {
		name = strings.Trim(name[:100], "-")
	}
	return name
}
