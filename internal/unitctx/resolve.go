// Package unitctx implements the poster-side context resolver: given a
// working directory, it derives the unit identity and parent identity a
// spawned agent should use, per the rules in spec.md §4.2. The resolver is
// deterministic and side-effect-free — it only reads marker files and the
// parent's task-breakdown document.
package unitctx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParentMarkerFile is the workspace-local file naming a unit's parent.
const ParentMarkerFile = ".parent_unit"

// RequirementsFile must be present for a directory to be considered a
// project directory.
const RequirementsFile = "requirements.yml"

// TaskBreakdownFile lists the subtasks a unit intends to spawn.
const TaskBreakdownFile = "task-breakdown.yml"

// Context is the resolver's output: the unit identity to use when posting
// a spawn/send/post envelope, and the parent identity (empty for root).
type Context struct {
	UnitID   string
	ParentID string
}

// ErrNotProjectDir is returned when requirements.yml is absent from dir.
var ErrNotProjectDir = fmt.Errorf("not a project directory")

// Resolve runs the §4.2 rules against dir (normally the caller's cwd).
//
//  1. requirements.yml absent → ErrNotProjectDir.
//  2. .parent_unit absent → unit identity "root", no parent.
//  3. Otherwise read the parent identity and derive a task-ID suffix:
//     (a) a sibling "<anything>-<parent-id>" directory with
//     task-breakdown.yml whose task ID is contained in dir's basename;
//     (b) dir's basename contains the literal prefix "<parent-id>-";
//     (c) the final '-'-delimited component of the basename;
//     (d) the literal "child".
func Resolve(dir string) (Context, error) {
	if _, err := os.Stat(filepath.Join(dir, RequirementsFile)); err != nil {
		return Context{}, ErrNotProjectDir
	}

	parentRaw, err := os.ReadFile(filepath.Join(dir, ParentMarkerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Context{UnitID: "root"}, nil
		}
		return Context{}, fmt.Errorf("unitctx: reading %s: %w", ParentMarkerFile, err)
	}
	parentID := strings.TrimSpace(string(parentRaw))

	suffix := resolveSuffix(dir, parentID)
	return Context{UnitID: parentID + "-" + suffix, ParentID: parentID}, nil
}

// resolveSuffix applies rules (a)-(d). It never returns an empty string —
// rule (d) is the final fallback.
func resolveSuffix(dir, parentID string) string {
	base := filepath.Base(dir)

	if ids := siblingBreakdownTaskIDs(dir, parentID); len(ids) > 0 {
		for _, id := range ids {
			if id != "" && strings.Contains(base, id) {
				return id
			}
		}
	}

	prefix := parentID + "-"
	if idx := strings.Index(base, prefix); idx >= 0 {
		rest := base[idx+len(prefix):]
		if rest != "" {
			return rest
		}
	}

	if idx := strings.LastIndex(base, "-"); idx >= 0 && idx+1 < len(base) {
		return base[idx+1:]
	}

	return "child"
}

// siblingBreakdownTaskIDs looks for a sibling directory named
// "<anything>-<parent-id>" containing task-breakdown.yml and returns its
// task IDs in file order. Returns nil if no such sibling or file exists —
// never an error, since this is just one candidate source among several.
func siblingBreakdownTaskIDs(dir, parentID string) []string {
	parent := filepath.Dir(dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil
	}
	suffix := "-" + parentID
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		path := filepath.Join(parent, entry.Name(), TaskBreakdownFile)
		tb, err := LoadTaskBreakdown(path)
		if err != nil {
			continue
		}
		ids := make([]string, 0, len(tb.Tasks))
		for _, task := range tb.Tasks {
			ids = append(ids, task.ID)
		}
		return ids
	}
	return nil
}

// Task is one entry of a task-breakdown document.
type Task struct {
	ID    string `yaml:"id"`
	Goal  string `yaml:"goal,omitempty"`
	Title string `yaml:"title,omitempty"`
}

// TaskBreakdown is the parsed form of task-breakdown.yml: an ordered list
// of tasks the authoring unit intends to spawn as children.
type TaskBreakdown struct {
	Tasks []Task `yaml:"tasks"`
}

// LoadTaskBreakdown parses a task-breakdown.yml file at path.
func LoadTaskBreakdown(path string) (*TaskBreakdown, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tb TaskBreakdown
	if err := yaml.Unmarshal(data, &tb); err != nil {
		return nil, fmt.Errorf("unitctx: parsing %s: %w", path, err)
	}
	return &tb, nil
}

// WriteEmptyTaskBreakdown seeds a fresh task-breakdown.yml scaffold for a
// root unit with no parent, per the spawn actuator's step 3.
func WriteEmptyTaskBreakdown(path string) error {
	return os.WriteFile(path, []byte("tasks: []\n"), 0o644)
}
