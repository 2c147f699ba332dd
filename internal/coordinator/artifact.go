package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WritePlanArtifact persists the plan as plans/plan-YYYY-MM-DD.json so
// every cycle leaves an inspectable record, then prunes old artifacts
// down to keep.
func WritePlanArtifact(dir string, plan Plan, keep int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plans dir: %w", err)
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	path := filepath.Join(dir, "plan-"+plan.Date+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write plan: %w", err)
	}
	if keep > 0 {
		prunePlans(dir, keep)
	}
	return path, nil
}

// prunePlans removes the oldest plan artifacts beyond keep. Date-named
// files sort chronologically, so lexical order suffices.
func prunePlans(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "plan-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) <= keep {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}
