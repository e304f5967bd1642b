package tmux

import (
	"fmt"
	"sync"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

// Backend implements [paneops.Backend] over one shared tmux window,
// tracking each unit's pane by tmux's stable pane ID rather than its
// pane index, which renumbers whenever a sibling pane is killed.
type Backend struct {
	tm *Tmux

	mu      sync.Mutex
	paneIDs map[string]string // unit name -> tmux pane ID (e.g. "%12")
}

var _ paneops.Backend = (*Backend)(nil)

// NewBackend returns a tmux-backed Backend for the given outer session.
func NewBackend(session string) *Backend {
	return &Backend{tm: New(session), paneIDs: make(map[string]string)}
}

func (b *Backend) NewSession(name string, cfg paneops.SessionConfig) error {
	if err := b.tm.NewSession(name, cfg); err != nil {
		return err
	}
	id, err := b.tm.PaneID("0")
	if err != nil {
		return fmt.Errorf("paneops/tmux: resolving pane id for %q: %w", name, err)
	}
	b.mu.Lock()
	b.paneIDs[name] = id
	b.mu.Unlock()
	return nil
}

func (b *Backend) target(name string) (string, error) {
	b.mu.Lock()
	id, ok := b.paneIDs[name]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("paneops/tmux: %w: %q", paneops.ErrSessionNotFound, name)
	}
	return id, nil
}

func (b *Backend) Kill(name string) error {
	id, err := b.target(name)
	if err != nil {
		return nil // idempotent: unknown unit is already gone
	}
	if err := b.tm.KillPane(id); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.paneIDs, name)
	b.mu.Unlock()
	return nil
}

func (b *Backend) SendKeys(name, text string, literal bool) error {
	id, err := b.target(name)
	if err != nil {
		return err
	}
	return b.tm.SendKeys(id, text, literal)
}

func (b *Backend) CapturePane(name string, lines int) (string, error) {
	id, err := b.target(name)
	if err != nil {
		return "", err
	}
	return b.tm.CapturePane(id, lines)
}

func (b *Backend) PaneID(name string) (string, error) {
	return b.target(name)
}

func (b *Backend) Split(target string, mode paneops.SplitMode, cfg paneops.SessionConfig) (string, error) {
	id, err := b.target(target)
	if err != nil {
		return "", err
	}
	return b.tm.Split(id, mode, cfg)
}

// Adopt registers a pane ID returned by Split under a unit name, so
// later SendKeys/CapturePane/Kill calls can address it by name.
func (b *Backend) Adopt(name, paneID string) {
	b.mu.Lock()
	b.paneIDs[name] = paneID
	b.mu.Unlock()
}

// PipeOutput tees name's pane output to logPath. Implements
// [paneops.Teeable].
func (b *Backend) PipeOutput(name, logPath string) error {
	id, err := b.target(name)
	if err != nil {
		return err
	}
	return b.tm.PipeOutput(id, logPath)
}

func (b *Backend) HasSession(name string) (bool, error) {
	b.mu.Lock()
	_, ok := b.paneIDs[name]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	return b.tm.HasSession(name)
}
