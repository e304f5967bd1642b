package doctor

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ai-app-studio/buswright/internal/daemonlock"
)

// GitPresentCheck verifies a git binary is on PATH — required by
// vcsadapter for every worktree operation.
type GitPresentCheck struct{}

func (GitPresentCheck) Name() string            { return "git-present" }
func (GitPresentCheck) CanFix() bool            { return false }
func (GitPresentCheck) Fix(*CheckContext) error { return nil }

func (GitPresentCheck) Run(ctx *CheckContext) *CheckResult {
	path, err := exec.LookPath("git")
	if err != nil {
		return &CheckResult{
			Name: "git-present", Status: StatusError,
			Message: "git binary not found on PATH",
			FixHint: "install git and ensure it is on PATH",
		}
	}
	return &CheckResult{Name: "git-present", Status: StatusOK, Message: path}
}

// PaneBackendBinaryCheck verifies the configured pane backend's
// executable is reachable. Only the tmux backend shells out to a
// binary; subprocess and k8s backends have nothing to probe here.
type PaneBackendBinaryCheck struct{}

func (PaneBackendBinaryCheck) Name() string            { return "pane-backend-binary" }
func (PaneBackendBinaryCheck) CanFix() bool            { return false }
func (PaneBackendBinaryCheck) Fix(*CheckContext) error { return nil }

func (PaneBackendBinaryCheck) Run(ctx *CheckContext) *CheckResult {
	switch ctx.PaneBackend {
	case "", "tmux":
		path, err := exec.LookPath("tmux")
		if err != nil {
			return &CheckResult{
				Name: "pane-backend-binary", Status: StatusError,
				Message: "tmux binary not found on PATH",
				FixHint: "install tmux, or set pane_backend to \"subprocess\"",
			}
		}
		return &CheckResult{Name: "pane-backend-binary", Status: StatusOK, Message: path}
	default:
		return &CheckResult{
			Name: "pane-backend-binary", Status: StatusOK,
			Message: ctx.PaneBackend + " backend has no external binary to probe",
		}
	}
}

// DaemonRootWritableCheck verifies the daemon root exists (creating it
// if missing) and is writable.
type DaemonRootWritableCheck struct{}

func (DaemonRootWritableCheck) Name() string { return "daemon-root-writable" }
func (DaemonRootWritableCheck) CanFix() bool { return true }

func (DaemonRootWritableCheck) Fix(ctx *CheckContext) error {
	return os.MkdirAll(ctx.RootPath, 0o755)
}

func (DaemonRootWritableCheck) Run(ctx *CheckContext) *CheckResult {
	info, err := os.Stat(ctx.RootPath)
	if err != nil {
		return &CheckResult{
			Name: "daemon-root-writable", Status: StatusError,
			Message: ctx.RootPath + " does not exist",
			FixHint: "create the directory, or run with --fix",
		}
	}
	if !info.IsDir() {
		return &CheckResult{
			Name: "daemon-root-writable", Status: StatusError,
			Message: ctx.RootPath + " exists but is not a directory",
		}
	}
	probe := filepath.Join(ctx.RootPath, ".doctor-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return &CheckResult{
			Name: "daemon-root-writable", Status: StatusError,
			Message: "cannot write to " + ctx.RootPath + ": " + err.Error(),
		}
	}
	_ = os.Remove(probe)
	return &CheckResult{Name: "daemon-root-writable", Status: StatusOK, Message: ctx.RootPath}
}

// StateFilesParseableCheck verifies state/tasks.json and
// state/panes.json parse as JSON when present. Both are optional — a
// fresh daemon root has neither yet.
type StateFilesParseableCheck struct{}

func (StateFilesParseableCheck) Name() string            { return "state-files-parseable" }
func (StateFilesParseableCheck) CanFix() bool            { return false }
func (StateFilesParseableCheck) Fix(*CheckContext) error { return nil }

func (StateFilesParseableCheck) Run(ctx *CheckContext) *CheckResult {
	var bad []string
	for _, name := range []string{"tasks.json", "panes.json"} {
		path := filepath.Join(ctx.RootPath, "state", name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // absent is fine, not yet created
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		return &CheckResult{
			Name: "state-files-parseable", Status: StatusError,
			Message: "malformed state file(s): " + joinComma(bad),
			FixHint: "inspect and repair the file, or stop the daemon and remove it to start fresh",
		}
	}
	return &CheckResult{Name: "state-files-parseable", Status: StatusOK, Message: "tasks.json/panes.json parse cleanly (or are absent)"}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// DaemonLockCheck reports whether daemon.lock is a stale leftover from
// a crashed daemon (warn) versus absent or actively held (ok).
type DaemonLockCheck struct{}

func (DaemonLockCheck) Name() string { return "daemon-lock" }
func (DaemonLockCheck) CanFix() bool { return true }

func (DaemonLockCheck) Fix(ctx *CheckContext) error {
	return os.Remove(filepath.Join(ctx.RootPath, daemonlock.LockFileName))
}

func (DaemonLockCheck) Run(ctx *CheckContext) *CheckResult {
	stale, err := daemonlock.StaleOwner(ctx.RootPath)
	if err != nil {
		return &CheckResult{
			Name: "daemon-lock", Status: StatusError,
			Message: "could not inspect daemon.lock: " + err.Error(),
		}
	}
	if stale {
		return &CheckResult{
			Name: "daemon-lock", Status: StatusWarning,
			Message: "daemon.lock exists but is not held — likely left behind by a crashed daemon",
			FixHint: "remove daemon.lock, or run with --fix",
		}
	}
	return &CheckResult{Name: "daemon-lock", Status: StatusOK, Message: "no stale lock"}
}

// DefaultChecks returns the fixed checklist spec.md §8 names.
func DefaultChecks() []Check {
	return []Check{
		GitPresentCheck{},
		PaneBackendBinaryCheck{},
		DaemonRootWritableCheck{},
		StateFilesParseableCheck{},
		DaemonLockCheck{},
	}
}
