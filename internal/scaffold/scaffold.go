package scaffold

import (
	"fmt"
	"strings"
	"time"
)

// File is one rendered scaffold file ready to commit.
type File struct {
	Path    string
	Content []byte
}

// Project carries everything the templates need.
type Project struct {
	Name        string
	Description string
	TechStack   []string
	Roadmap     []string
	Org         string
}

// Render produces the starter file set for a new repository. The set is
// fixed so every repository in the organization starts from the same
// shape.
func Render(p Project) []File {
	if p.Description == "" {
		p.Description = "A project managed by steward."
	}
	return []File{
		{Path: "README.md", Content: []byte(readme(p))},
		{Path: "LICENSE", Content: []byte(mitLicense(p.Org))},
		{Path: ".gitignore", Content: []byte(gitignore)},
		{Path: "CONTRIBUTING.md", Content: []byte(contributing(p))},
		{Path: "CODE_OF_CONDUCT.md", Content: []byte(codeOfConduct)},
		{Path: "docs/ROADMAP.md", Content: []byte(roadmapDoc(p))},
		{Path: "src/main.py", Content: []byte(mainStub(p))},
		{Path: "tests/test_main.py", Content: []byte(testStub)},
		{Path: "requirements.txt", Content: []byte("# Project dependencies\n")},
		{Path: ".github/workflows/ci.yml", Content: []byte(ciWorkflowYAML)},
	}
}

func readme(p Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", p.Name, p.Description)
	if len(p.TechStack) > 0 {
		b.WriteString("## Tech Stack\n\n")
		for _, t := range p.TechStack {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	if len(p.Roadmap) > 0 {
		b.WriteString("## Roadmap\n\n")
		for _, r := range p.Roadmap {
			fmt.Fprintf(&b, "- [ ] %s\n", r)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Getting Started\n\n")
	b.WriteString("```bash\npip install -r requirements.txt\npython src/main.py\n```\n\n")
	b.WriteString("## Contributing\n\nSee [CONTRIBUTING.md](CONTRIBUTING.md).\n")
	return b.String()
}

func mitLicense(org string) string {
	if org == "" {
		org = "The project authors"
	}
	return fmt.Sprintf(`MIT License

Copyright (c) %d %s

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`, time.Now().UTC().Year(), org)
}

const gitignore = `__pycache__/
*.py[cod]
*.egg-info/
.env
.venv/
venv/
dist/
build/
.coverage
htmlcov/
.idea/
.vscode/
`

func contributing(p Project) string {
	return fmt.Sprintf(`# Contributing to %s

Contributions are welcome.

1. Fork the repository and create a feature branch.
2. Make your changes with tests.
3. Open a pull request describing what changed and why.

Please keep pull requests focused; unrelated changes slow review down.
`, p.Name)
}

const codeOfConduct = `# Code of Conduct

Be respectful. Assume good faith. Harassment and personal attacks are
not tolerated. Report problems by opening an issue or contacting the
organization maintainers.
`

func roadmapDoc(p Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Roadmap\n\n", p.Name)
	if len(p.Roadmap) == 0 {
		b.WriteString("Roadmap to be defined.\n")
		return b.String()
	}
	for i, r := range p.Roadmap {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	return b.String()
}

func mainStub(p Project) string {
	return fmt.Sprintf(`"""%s

%s
"""


def main():
    print("%s: not yet implemented")


if __name__ == "__main__":
    main()
`, p.Name, p.Description, p.Name)
}

const testStub = `from src.main import main


def test_main_runs():
    main()
`

const ciWorkflowYAML = `name: CI

on:
  push:
    branches: [main]
  pull_request:

jobs:
  test:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "3.12"
      - name: Install dependencies
        run: |
          pip install -r requirements.txt
          pip install pytest
      - name: Run tests
        run: pytest
`
