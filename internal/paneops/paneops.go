// Package paneops defines the pane backend abstraction used to lay out
// one terminal pane per active unit (spec.md §4.4): a root pane, a
// dashboard pane, and one pane per spawned child, arranged in a single
// fixed-layout window. Concrete backends (tmux, a bare-subprocess
// fallback, and a Kubernetes-pod backend) implement [Backend].
package paneops

import "errors"

// ErrNoSpace is returned by Split when the backend cannot create another
// pane — tmux panes below a usable height, a subprocess backend beyond
// its first pane, or any call at all against the k8s backend, which has
// no notion of pane adjacency.
var ErrNoSpace = errors.New("paneops: no space for new pane")

// ErrSessionNotFound is returned by operations addressed to a session
// that does not exist (or no longer exists) in the backend.
var ErrSessionNotFound = errors.New("paneops: session not found")

// SplitMode selects how a new pane divides the space it is carved from.
type SplitMode int

const (
	// SplitVertical stacks the new pane below the target, splitting
	// height. This is the only mode the layout manager uses (§4.4: child
	// panes stack vertically under the dashboard).
	SplitVertical SplitMode = iota
	// SplitHorizontal places the new pane beside the target, splitting
	// width. Kept for backend completeness; unused by the layout manager.
	SplitHorizontal
)

// SessionConfig describes how to launch the process that occupies a
// pane/session.
type SessionConfig struct {
	WorkDir string
	Command []string
	Env     map[string]string
}

// Backend is the minimal surface the layout manager and spawner need
// from a pane-hosting substrate. A "session" and a "pane" are the same
// thing for the subprocess and k8s backends; for tmux, every session
// lives inside the one shared window and Split carves its pane out of
// an existing one.
type Backend interface {
	// NewSession starts name running cfg.Command in cfg.WorkDir. For the
	// tmux backend this also creates the pane that hosts it.
	NewSession(name string, cfg SessionConfig) error

	// Kill tears down name's process and reclaims its pane. Idempotent:
	// killing an already-gone session is not an error.
	Kill(name string) error

	// SendKeys writes text into name's pane and submits it with Enter.
	// If literal is true, the text is typed verbatim (never parsed as key
	// names) and Enter follows as a separate keystroke; otherwise the
	// text is passed as key names followed by Enter.
	SendKeys(name, text string, literal bool) error

	// CapturePane returns the last `lines` lines of name's pane/output
	// buffer. lines <= 0 means "capture everything available".
	CapturePane(name string, lines int) (string, error)

	// PaneID returns the backend's native identifier for name's pane,
	// for backends where that differs from the session name (tmux).
	PaneID(name string) (string, error)

	// Split carves a new pane out of target, in the given mode, launches
	// cfg.Command in it, and returns the new pane's ID. Returns
	// ErrNoSpace if the backend has no room (or, for k8s, unconditionally
	// — pods have no adjacency to split from).
	Split(target string, mode SplitMode, cfg SessionConfig) (paneID string, err error)

	// HasSession reports whether name currently exists.
	HasSession(name string) (bool, error)
}
