package github

import "strings"

// Visibility values for repositories.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// sensitiveTypes never qualify for automatic publication.
var sensitiveTypes = map[string]bool{
	"security":       true,
	"confidential":   true,
	"internal":       true,
	"infrastructure": true,
}

// DetermineVisibility decides the target visibility for a repository.
// Everything starts private; only general-audience projects without a
// sensitive project type qualify for publication after scaffolding.
func DetermineVisibility(projectType, audience string) string {
	pt := strings.ToLower(strings.TrimSpace(projectType))
	aud := strings.ToLower(strings.TrimSpace(audience))

	if sensitiveTypes[pt] {
		return VisibilityPrivate
	}
	if aud == "general" || aud == "public" {
		return VisibilityPublic
	}
	return VisibilityPrivate
}

// CanAutoPublish reports whether a repository with the given attributes
// may be flipped public without human review.
func CanAutoPublish(projectType, audience string) bool {
	return DetermineVisibility(projectType, audience) == VisibilityPublic
}
