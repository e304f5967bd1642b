// Package tmux implements [paneops.Backend] on top of a real tmux
// installation. All units share one tmux window: pane 0 is the root
// unit, pane 1 is the dashboard, and every spawned child gets its own
// pane created by vertically splitting the most recently added pane
// (spec.md §4.4), so children stack below the dashboard in the same
// column; no separate right-hand column is created.
package tmux

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

// WindowName is the single shared tmux window every pane lives in.
const WindowName = "main"

// Tmux is a thin wrapper over the tmux CLI, scoped to one session name
// (the outer tmux session that hosts WindowName).
type Tmux struct {
	session string
}

// New returns a Tmux wrapper for the given outer session name.
func New(session string) *Tmux {
	return &Tmux{session: session}
}

func (t *Tmux) run(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "no server running") || strings.Contains(msg, "can't find session") ||
			strings.Contains(msg, "can't find pane") {
			return "", fmt.Errorf("%s: %w", msg, paneops.ErrSessionNotFound)
		}
		return "", fmt.Errorf("tmux %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return string(out), nil
}

// paneTarget formats the tmux target string for a pane within the shared
// window. A raw tmux pane ID (e.g. "%12") is already a complete target
// and is passed through unchanged.
func (t *Tmux) paneTarget(name string) string {
	if strings.HasPrefix(name, "%") {
		return name
	}
	return fmt.Sprintf("%s:%s.%s", t.session, WindowName, name)
}

// EnsureWindow creates the outer session and its one shared window if
// they do not already exist. Must be called before the first NewSession.
func (t *Tmux) EnsureWindow() error {
	_, err := t.run("has-session", "-t", t.session)
	if err == nil {
		return nil
	}
	if !errors.Is(err, paneops.ErrSessionNotFound) {
		return err
	}
	_, err = t.run("new-session", "-d", "-s", t.session, "-n", WindowName)
	return err
}

// NewSession creates the first pane of the shared window (pane index 0)
// and runs cfg.Command in it. Callers that already hold a pane should
// use Split instead.
func (t *Tmux) NewSession(name string, cfg paneops.SessionConfig) error {
	if err := t.EnsureWindow(); err != nil {
		return err
	}
	_, _ = t.run("set-option", "-t", fmt.Sprintf("%s:%s", t.session, WindowName), "pane-border-format", name)
	_, _ = t.run("set-environment", "-t", t.session, "PANE_NAME_"+name, name)

	shellCmd := sessionShellCommand(cfg)
	if shellCmd == "" {
		return nil
	}
	_, err := t.run("send-keys", "-t", t.paneTarget("0"), shellCmd, "Enter")
	return err
}

// sessionShellCommand builds a single shell command line that cds into
// cfg.WorkDir, exports cfg.Env, and execs cfg.Command — suitable as the
// command tmux runs in a freshly created pane.
func sessionShellCommand(cfg paneops.SessionConfig) string {
	var parts []string
	if cfg.WorkDir != "" {
		parts = append(parts, "cd "+shellQuote(cfg.WorkDir))
	}
	for k, v := range cfg.Env {
		parts = append(parts, fmt.Sprintf("export %s=%s", k, shellQuote(v)))
	}
	if len(cfg.Command) > 0 {
		parts = append(parts, shellJoin(cfg.Command))
	}
	return strings.Join(parts, " && ")
}

// Kill destroys the outer session (and thus every pane in it).
// Idempotent.
func (t *Tmux) Kill(name string) error {
	_, err := t.run("kill-session", "-t", t.session)
	if err != nil && !errors.Is(err, paneops.ErrSessionNotFound) {
		return err
	}
	return nil
}

// KillPane destroys a single pane within the shared window, used by the
// layout manager to reclaim space after a child unit finishes.
func (t *Tmux) KillPane(paneIndex string) error {
	_, err := t.run("kill-pane", "-t", t.paneTarget(paneIndex))
	if err != nil && !errors.Is(err, paneops.ErrSessionNotFound) {
		return err
	}
	return nil
}

// SendKeys writes text into the named pane. If literal is true, -l is
// passed so tmux does not interpret the text as key names, and a
// second send-keys call submits Enter separately — tmux's -l mode
// takes the text as a literal byte string and will not also parse a
// trailing "Enter" key name passed in the same call (spec.md §4.7:
// literal text must be injected, then submitted with Enter).
func (t *Tmux) SendKeys(paneIndex, text string, literal bool) error {
	target := t.paneTarget(paneIndex)
	if literal {
		if _, err := t.run("send-keys", "-t", target, "-l", text); err != nil {
			return err
		}
		_, err := t.run("send-keys", "-t", target, "Enter")
		return err
	}
	_, err := t.run("send-keys", "-t", target, text, "Enter")
	return err
}

// CapturePane returns the last `lines` lines of scrollback for the named
// pane. lines <= 0 captures the entire available history.
func (t *Tmux) CapturePane(paneIndex string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", t.paneTarget(paneIndex)}
	if lines > 0 {
		args = append(args, "-S", strconv.Itoa(-lines))
	} else {
		args = append(args, "-S", "-")
	}
	return t.run(args...)
}

// PaneID returns tmux's internal pane ID (e.g. "%12") for the named
// pane, which is stable across pane-index renumbering from splits.
func (t *Tmux) PaneID(paneIndex string) (string, error) {
	out, err := t.run("display-message", "-p", "-t", t.paneTarget(paneIndex), "#{pane_id}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Split carves a new pane out of target and launches cfg.Command in it.
// Only vertical splits are used by the layout manager; horizontal is
// supported for completeness. Returns paneops.ErrNoSpace if tmux
// refuses (target too small).
func (t *Tmux) Split(target string, mode paneops.SplitMode, cfg paneops.SessionConfig) (string, error) {
	args := []string{"split-window", "-t", t.paneTarget(target), "-P", "-F", "#{pane_id}"}
	switch mode {
	case paneops.SplitVertical:
		args = append(args, "-v")
	case paneops.SplitHorizontal:
		args = append(args, "-h")
	}
	if cfg.WorkDir != "" {
		args = append(args, "-c", cfg.WorkDir)
	}
	if shellCmd := sessionShellCommand(paneops.SessionConfig{Env: cfg.Env, Command: cfg.Command}); shellCmd != "" {
		args = append(args, shellCmd)
	}
	out, err := t.run(args...)
	if err != nil {
		if strings.Contains(err.Error(), "no space") || strings.Contains(err.Error(), "too small") {
			return "", paneops.ErrNoSpace
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// PipeOutput tees a pane's live output to logPath, appending
// (-o toggles piping on without clobbering, and the shell appends).
func (t *Tmux) PipeOutput(paneIndex, logPath string) error {
	_, err := t.run("pipe-pane", "-o", "-t", t.paneTarget(paneIndex), fmt.Sprintf("cat >> %s", shellQuote(logPath)))
	return err
}

// HasSession reports whether the outer tmux session is alive.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", t.session)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, paneops.ErrSessionNotFound) {
		return false, nil
	}
	return false, err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = shellQuote(p)
	}
	return strings.Join(quoted, " ")
}
