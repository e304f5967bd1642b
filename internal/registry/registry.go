// Package registry persists the daemon's view of live units and tasks
// to two flat JSON files under the daemon's state directory (spec.md
// §4.6, §6): tasks.json (one entry per spawned task, its lifecycle
// status, and parent) and panes.json (one entry per occupied pane). All
// writes go through an atomic tmp-file-then-rename, the same pattern
// the mailbox writer uses, so a crash mid-write never corrupts either
// file.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ai-app-studio/buswright/internal/fsys"
)

// TaskStatus is the lifecycle state of a spawned task.
type TaskStatus string

const (
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is one entry of tasks.json.
type Task struct {
	ID       string     `json:"id"`
	ParentID string     `json:"parent_id,omitempty"`
	Goal     string     `json:"goal"`
	Status   TaskStatus `json:"status"`
}

// Pane is one entry of panes.json.
type Pane struct {
	UnitID string `json:"unit_id"`
	PaneID string `json:"pane_id"`
}

type tasksFile struct {
	Tasks []Task `json:"tasks"`
}

type panesFile struct {
	Panes []Pane `json:"panes"`
}

// Registry is the in-memory, disk-backed view of tasks.json and
// panes.json. All mutating methods flush to disk before returning.
type Registry struct {
	fs  fsys.FS
	dir string

	mu    sync.Mutex
	tasks map[string]Task
	panes map[string]Pane
}

// Open loads tasks.json and panes.json from dir, creating empty state
// if either is missing.
func Open(fs fsys.FS, dir string) (*Registry, error) {
	r := &Registry{fs: fs, dir: dir, tasks: make(map[string]Task), panes: make(map[string]Pane)}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: opening %s: %w", dir, err)
	}

	var tf tasksFile
	if err := readJSON(fs, r.tasksPath(), &tf); err != nil {
		return nil, err
	}
	for _, t := range tf.Tasks {
		r.tasks[t.ID] = t
	}

	var pf panesFile
	if err := readJSON(fs, r.panesPath(), &pf); err != nil {
		return nil, err
	}
	for _, p := range pf.Panes {
		r.panes[p.UnitID] = p
	}

	return r, nil
}

func (r *Registry) tasksPath() string { return filepath.Join(r.dir, "tasks.json") }
func (r *Registry) panesPath() string { return filepath.Join(r.dir, "panes.json") }

func readJSON(fs fsys.FS, path string, v any) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("registry: parsing %s: %w", path, err)
	}
	return nil
}

// PutTask upserts a task entry and flushes tasks.json.
func (r *Registry) PutTask(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return r.saveTasks()
}

// Task returns the task entry for id, if present.
func (r *Registry) Task(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Tasks returns every task entry, sorted by ID.
func (r *Registry) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChildTasks returns tasks whose ParentID equals parentID, sorted by ID.
func (r *Registry) ChildTasks(parentID string) []Task {
	all := r.Tasks()
	var out []Task
	for _, t := range all {
		if t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) saveTasks() error {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return writeJSONAtomic(r.fs, r.tasksPath(), tasksFile{Tasks: out})
}

// PutPane upserts a pane entry and flushes panes.json.
func (r *Registry) PutPane(p Pane) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panes[p.UnitID] = p
	return r.savePanes()
}

// RemovePane deletes a pane entry and flushes panes.json.
func (r *Registry) RemovePane(unitID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.panes, unitID)
	return r.savePanes()
}

// Pane returns the pane entry for unitID, if present.
func (r *Registry) Pane(unitID string) (Pane, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.panes[unitID]
	return p, ok
}

// Panes returns every pane entry, sorted by unit ID.
func (r *Registry) Panes() []Pane {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pane, 0, len(r.panes))
	for _, p := range r.panes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

func (r *Registry) savePanes() error {
	out := make([]Pane, 0, len(r.panes))
	for _, p := range r.panes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return writeJSONAtomic(r.fs, r.panesPath(), panesFile{Panes: out})
}

func writeJSONAtomic(fs fsys.FS, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encoding %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: writing %s: %w", path, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("registry: renaming %s: %w", path, err)
	}
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
