package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ChildrenStatusFile is the workspace-local tracking document a parent
// unit's spawn handler and the CLI poster both consult (spec.md §3).
const ChildrenStatusFile = "children-status.yml"

// ChildStatus is one record of children-status.yml.
type ChildStatus struct {
	UnitID       string `yaml:"unit_id"`
	Status       string `yaml:"status"`
	CompletedAt  string `yaml:"completed_at"`
	ErrorMessage string `yaml:"error_message,omitempty"`
}

// ChildrenStatus is the parsed form of children-status.yml.
type ChildrenStatus struct {
	Children []ChildStatus `yaml:"children"`
}

// WriteEmptyChildrenStatus seeds a fresh children-status.yml scaffold.
func WriteEmptyChildrenStatus(path string) error {
	return os.WriteFile(path, []byte("children: []\n"), 0o644)
}

// LoadChildrenStatus parses children-status.yml at path. A missing file
// is treated as an empty document, not an error.
func LoadChildrenStatus(path string) (*ChildrenStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ChildrenStatus{}, nil
		}
		return nil, fmt.Errorf("workspace: reading %s: %w", path, err)
	}
	var cs ChildrenStatus
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("workspace: parsing %s: %w", path, err)
	}
	return &cs, nil
}

// UpsertChild replaces any existing record for rec.UnitID, or appends
// it, then persists the document to path.
func UpsertChild(path string, rec ChildStatus) error {
	cs, err := LoadChildrenStatus(path)
	if err != nil {
		return err
	}

	replaced := false
	for i, c := range cs.Children {
		if c.UnitID == rec.UnitID {
			cs.Children[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		cs.Children = append(cs.Children, rec)
	}
	sort.Slice(cs.Children, func(i, j int) bool { return cs.Children[i].UnitID < cs.Children[j].UnitID })

	data, err := yaml.Marshal(cs)
	if err != nil {
		return fmt.Errorf("workspace: encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: creating directory for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// NowUTC formats the time the same way CompletedAt records it:
// ISO-8601 in UTC.
func NowUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
