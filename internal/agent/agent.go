// Package agent provides the Unit interface for a spawned agent's
// lifecycle: identity (unit ID, pane name) and the operations (start,
// stop, send keys, capture) that drive it. A unit is built from a
// [paneops.Backend] without needing to know which concrete pane
// substrate is in play; cmd/buswright's capture subcommand uses one.
package agent

import "github.com/ai-app-studio/buswright/internal/paneops"

// Unit represents one spawned agent occupying one pane.
type Unit interface {
	// ID returns the unit's identity (e.g. "root-T001").
	ID() string

	// PaneName returns the pane-backend name this unit's pane is
	// addressed by.
	PaneName() string

	// IsRunning reports whether the unit's pane/process is still alive.
	IsRunning() bool

	// Start launches the unit's process in its pane.
	Start(cfg paneops.SessionConfig) error

	// Stop tears down the unit's pane.
	Stop() error

	// Nudge writes text into the unit's pane, submitted as a line.
	Nudge(text string) error

	// Capture returns the last `lines` lines of the unit's pane output.
	Capture(lines int) (string, error)
}

// New creates a Unit backed by the given pane backend.
func New(unitID, paneName string, backend paneops.Backend) Unit {
	return &managed{unitID: unitID, paneName: paneName, backend: backend}
}

// managed is the concrete Unit implementation that delegates to a
// paneops.Backend using the unit's pane name.
type managed struct {
	unitID   string
	paneName string
	backend  paneops.Backend
}

func (u *managed) ID() string       { return u.unitID }
func (u *managed) PaneName() string { return u.paneName }

func (u *managed) IsRunning() bool {
	running, err := u.backend.HasSession(u.paneName)
	return err == nil && running
}

func (u *managed) Start(cfg paneops.SessionConfig) error {
	return u.backend.NewSession(u.paneName, cfg)
}

func (u *managed) Stop() error {
	return u.backend.Kill(u.paneName)
}

func (u *managed) Nudge(text string) error {
	return u.backend.SendKeys(u.paneName, text, false)
}

func (u *managed) Capture(lines int) (string, error) {
	return u.backend.CapturePane(u.paneName, lines)
}
