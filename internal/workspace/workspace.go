// Package workspace implements the workspace materializer (spec.md
// §4.5 steps 1–3): given a unit about to be spawned, it resolves the
// unit's workspace path, ensures a git worktree (or a plain fallback
// directory) exists there, and seeds it with the fixed set of project
// files an agent expects to find on startup.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ai-app-studio/buswright/internal/overlay"
	"github.com/ai-app-studio/buswright/internal/unitctx"
	"github.com/ai-app-studio/buswright/internal/vcsadapter"
)

// Spec describes the unit a workspace is being materialized for.
type Spec struct {
	UnitID   string
	ParentID string // empty for the root unit
	Branch   string // only consulted for non-root units
}

// IsRoot reports whether this spec describes the root unit.
func (s Spec) IsRoot() bool { return s.ParentID == "" }

// frame prompt filenames, relative to the target repository, copied
// into a unit's workspace depending on whether it is root.
const (
	rootFrame = "frames/root/CLAUDE.md"
	unitFrame = "frames/unit/CLAUDE.md"
)

// Materializer owns the target repository path and carries out the
// workspace-preparation steps for newly spawned units.
type Materializer struct {
	repoPath string
	git      *vcsadapter.Git
	stderr   io.Writer
}

// New returns a Materializer for repoPath, the repository the daemon
// orchestrates.
func New(repoPath string, stderr io.Writer) *Materializer {
	return &Materializer{repoPath: repoPath, git: vcsadapter.New(repoPath), stderr: stderr}
}

// WorkspacePath resolves step 1: the root unit works directly in the
// target repository; every other unit gets a worktree sibling directory.
func (m *Materializer) WorkspacePath(spec Spec) string {
	if spec.IsRoot() {
		return m.repoPath
	}
	return vcsadapter.WorktreePath(m.repoPath, spec.UnitID)
}

// Ensure carries out steps 2–3: make sure the workspace directory
// exists (worktree for non-root units, the repo itself for root), then
// seed it with the parent marker and project files.
func (m *Materializer) Ensure(spec Spec) (string, error) {
	path := m.WorkspacePath(spec)

	if spec.IsRoot() {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("workspace: ensuring root directory %q: %w", path, err)
		}
		if spec.ParentID == "" {
			if err := m.seedRootTrackingDocs(path); err != nil {
				return "", err
			}
		}
		return path, nil
	}

	if err := m.ensureWorktree(path, spec.Branch); err != nil {
		// add-worktree failure degrades to a plain directory per §4.3 —
		// the spawn still proceeds, just without VCS isolation.
		fmt.Fprintf(m.stderr, "workspace: worktree for %q unavailable, falling back to plain directory: %v\n", spec.UnitID, err)
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return "", fmt.Errorf("workspace: creating fallback directory %q: %w", path, mkErr)
		}
	}

	if err := m.seedChildWorkspace(path, spec); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Materializer) ensureWorktree(path, branch string) error {
	base, err := m.git.CurrentBranch()
	if err != nil {
		return fmt.Errorf("resolving base branch: %w", err)
	}
	if base == "" {
		base = "HEAD"
	}
	if err := m.git.EnsureBranch(branch, base); err != nil {
		return fmt.Errorf("ensuring branch %q: %w", branch, err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil // worktree already present, nothing to do
	}
	return m.git.AddWorktree(path, branch)
}

// seedChildWorkspace writes .parent_unit and copies the unit frame
// prompt, requirements.yml, .env.local, and .claude/ into path.
func (m *Materializer) seedChildWorkspace(path string, spec Spec) error {
	marker := filepath.Join(path, unitctx.ParentMarkerFile)
	if err := os.WriteFile(marker, []byte(spec.ParentID), 0o644); err != nil {
		return fmt.Errorf("workspace: writing %s: %w", unitctx.ParentMarkerFile, err)
	}

	if err := m.copyFrame(unitFrame, path); err != nil {
		return err
	}
	if err := m.copyRequirements(path); err != nil {
		return err
	}
	m.copyOptional(".env.local", path)
	m.copyOptionalDir(".claude", path)
	return nil
}

// seedRootTrackingDocs handles step 3's root-without-parent branch: the
// root frame prompt plus two empty tracking documents.
func (m *Materializer) seedRootTrackingDocs(path string) error {
	if err := m.copyFrame(rootFrame, path); err != nil {
		return err
	}
	if err := m.copyRequirements(path); err != nil {
		return err
	}

	tbPath := filepath.Join(path, unitctx.TaskBreakdownFile)
	if _, err := os.Stat(tbPath); os.IsNotExist(err) {
		if err := unitctx.WriteEmptyTaskBreakdown(tbPath); err != nil {
			return fmt.Errorf("workspace: seeding %s: %w", unitctx.TaskBreakdownFile, err)
		}
	}

	csPath := filepath.Join(path, ChildrenStatusFile)
	if _, err := os.Stat(csPath); os.IsNotExist(err) {
		if err := WriteEmptyChildrenStatus(csPath); err != nil {
			return fmt.Errorf("workspace: seeding %s: %w", ChildrenStatusFile, err)
		}
	}
	return nil
}

func (m *Materializer) copyFrame(rel, dstDir string) error {
	src := filepath.Join(m.repoPath, rel)
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("workspace: reading frame prompt %q: %w", src, err)
	}
	dst := filepath.Join(dstDir, "CLAUDE.md")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("workspace: writing %q: %w", dst, err)
	}
	return nil
}

// copyRequirements copies requirements.yml, required per §4.5 but
// merely warned-about when missing — a unit can still start without it.
func (m *Materializer) copyRequirements(dstDir string) error {
	src := filepath.Join(m.repoPath, unitctx.RequirementsFile)
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(m.stderr, "workspace: %s missing from %q\n", unitctx.RequirementsFile, m.repoPath)
			return nil
		}
		return fmt.Errorf("workspace: reading %s: %w", unitctx.RequirementsFile, err)
	}
	dst := filepath.Join(dstDir, unitctx.RequirementsFile)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("workspace: writing %s: %w", unitctx.RequirementsFile, err)
	}
	return nil
}

func (m *Materializer) copyOptional(name, dstDir string) {
	src := filepath.Join(m.repoPath, name)
	data, err := os.ReadFile(src)
	if err != nil {
		return // optional: absence is not an error
	}
	_ = os.WriteFile(filepath.Join(dstDir, name), data, 0o644)
}

func (m *Materializer) copyOptionalDir(name, dstDir string) {
	_ = overlay.CopyDir(filepath.Join(m.repoPath, name), filepath.Join(dstDir, name), m.stderr)
}
