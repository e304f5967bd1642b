// Package layout implements the fixed pane layout described in
// spec.md §4.4: pane 0 hosts the root unit, pane 1 hosts the dashboard,
// and every additional unit gets its own pane created by vertically
// splitting the most recently added pane, so panes stack top to bottom
// in spawn order.
package layout

import (
	"fmt"
	"sync"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

// RootUnit and DashboardUnit are the fixed identities occupying panes 0
// and 1.
const (
	RootUnit      = "root"
	DashboardUnit = "dashboard"
)

// Manager tracks which pane belongs to which unit and carries out the
// splits needed to add or remove one.
type Manager struct {
	backend paneops.Backend

	mu    sync.Mutex
	order []string          // unit IDs in pane-creation order
	panes map[string]string // unit ID -> backend pane ID
}

// New returns a Manager over the given pane backend. Call InitRoot and
// InitDashboard once before adding any child units.
func New(backend paneops.Backend) *Manager {
	return &Manager{backend: backend, panes: make(map[string]string)}
}

// InitRoot creates pane 0 and starts the root unit's process in it.
func (m *Manager) InitRoot(cfg paneops.SessionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.backend.NewSession(RootUnit, cfg); err != nil {
		return fmt.Errorf("layout: starting root pane: %w", err)
	}
	id, err := m.backend.PaneID(RootUnit)
	if err != nil {
		return fmt.Errorf("layout: resolving root pane id: %w", err)
	}
	m.order = []string{RootUnit}
	m.panes[RootUnit] = id
	return nil
}

// InitDashboard splits pane 1 off the root pane and starts the
// dashboard process in it.
func (m *Manager) InitDashboard(cfg paneops.SessionConfig) error {
	return m.addPane(DashboardUnit, cfg)
}

// AddChild creates a new pane for unitID by splitting the most recently
// added pane, and starts cfg's process in it. Returns
// [paneops.ErrNoSpace] unchanged if the backend has no room — callers
// should surface this to the requester rather than silently dropping
// the spawn.
func (m *Manager) AddChild(unitID string, cfg paneops.SessionConfig) error {
	return m.addPane(unitID, cfg)
}

func (m *Manager) addPane(unitID string, cfg paneops.SessionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.order) == 0 {
		return fmt.Errorf("layout: cannot add pane for %q before InitRoot", unitID)
	}
	if _, exists := m.panes[unitID]; exists {
		return fmt.Errorf("layout: unit %q already has a pane", unitID)
	}

	splitFrom := m.order[len(m.order)-1]
	newPaneID, err := m.backend.Split(splitFrom, paneops.SplitVertical, cfg)
	if err != nil {
		return err // may be paneops.ErrNoSpace; propagate unchanged
	}

	if adopter, ok := m.backend.(interface{ Adopt(name, paneID string) }); ok {
		adopter.Adopt(unitID, newPaneID)
	}

	m.order = append(m.order, unitID)
	m.panes[unitID] = newPaneID
	return nil
}

// RemoveChild kills unitID's pane and forgets its slot, so a future
// split once again targets the new last pane in order.
func (m *Manager) RemoveChild(unitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if unitID == RootUnit || unitID == DashboardUnit {
		return fmt.Errorf("layout: %q is a fixed pane, cannot be removed", unitID)
	}
	if _, ok := m.panes[unitID]; !ok {
		return nil // idempotent
	}
	if err := m.backend.Kill(unitID); err != nil {
		return fmt.Errorf("layout: killing pane for %q: %w", unitID, err)
	}

	delete(m.panes, unitID)
	for i, id := range m.order {
		if id == unitID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// PaneFor returns the backend pane ID for unitID.
func (m *Manager) PaneFor(unitID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.panes[unitID]
	return id, ok
}

// Units returns the unit IDs currently occupying a pane, in
// pane-creation order.
func (m *Manager) Units() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
