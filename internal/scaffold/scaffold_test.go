package scaffold

import (
	"strings"
	"testing"
)

func TestRenderFileSet(t *testing.T) {
	files := Render(Project{
		Name:        "json-diff",
		Description: "Diff JSON documents.",
		TechStack:   []string{"python"},
		Roadmap:     []string{"cli", "library API"},
		Org:         "acme",
	})

	want := []string{
		"README.md", "LICENSE", ".gitignore", "CONTRIBUTING.md",
		"CODE_OF_CONDUCT.md", "docs/ROADMAP.md", "src/main.py",
		"tests/test_main.py", "requirements.txt", ".github/workflows/ci.yml",
	}
	if len(files) != len(want) {
		t.Fatalf("files = %d, want %d", len(files), len(want))
	}
	byPath := map[string][]byte{}
	for _, f := range files {
		if len(f.Content) == 0 {
			t.Errorf("%s is empty", f.Path)
		}
		byPath[f.Path] = f.Content
	}
	for _, p := range want {
		if _, ok := byPath[p]; !ok {
			t.Errorf("missing %s", p)
		}
	}

	readme := string(byPath["README.md"])
	for _, frag := range []string{"# json-diff", "Diff JSON documents.", "- python", "- [ ] cli"} {
		if !strings.Contains(readme, frag) {
			t.Errorf("README missing %q", frag)
		}
	}
	if !strings.Contains(string(byPath["LICENSE"]), "MIT License") {
		t.Error("LICENSE should be MIT")
	}
	if !strings.Contains(string(byPath["LICENSE"]), "acme") {
		t.Error("LICENSE should carry the org name")
	}
}

func TestRenderDefaultsDescription(t *testing.T) {
	files := Render(Project{Name: "bare"})
	for _, f := range files {
		if f.Path == "README.md" && !strings.Contains(string(f.Content), "managed by steward") {
			t.Error("default description missing")
		}
	}
}
