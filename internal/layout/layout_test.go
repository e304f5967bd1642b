package layout

import (
	"errors"
	"testing"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

func TestInitRootAndDashboard(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)

	if err := m.InitRoot(paneops.SessionConfig{Command: []string{"bash"}}); err != nil {
		t.Fatalf("InitRoot: %v", err)
	}
	if err := m.InitDashboard(paneops.SessionConfig{Command: []string{"dashboard"}}); err != nil {
		t.Fatalf("InitDashboard: %v", err)
	}

	units := m.Units()
	if len(units) != 2 || units[0] != RootUnit || units[1] != DashboardUnit {
		t.Fatalf("Units() = %v, want [root dashboard]", units)
	}
}

func TestAddChild_SplitsFromLastPane(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.InitDashboard(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}

	if err := m.AddChild("impl-T001", paneops.SessionConfig{Command: []string{"claude"}}); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := m.AddChild("impl-T002", paneops.SessionConfig{Command: []string{"claude"}}); err != nil {
		t.Fatalf("AddChild: %v", err)
	}

	var splitTargets []string
	for _, c := range backend.Calls {
		if c.Method == "Split" {
			splitTargets = append(splitTargets, c.Name)
		}
	}
	if len(splitTargets) != 3 || splitTargets[0] != RootUnit || splitTargets[1] != DashboardUnit || splitTargets[2] != "impl-T001" {
		t.Errorf("split targets = %v, want [root dashboard impl-T001]", splitTargets)
	}

	units := m.Units()
	want := []string{RootUnit, DashboardUnit, "impl-T001", "impl-T002"}
	if len(units) != len(want) {
		t.Fatalf("Units() = %v, want %v", units, want)
	}
	for i := range want {
		if units[i] != want[i] {
			t.Errorf("Units()[%d] = %q, want %q", i, units[i], want[i])
		}
	}
}

func TestAddChild_NoSpacePropagates(t *testing.T) {
	backend := paneops.NewFake()
	backend.SplitErr = paneops.ErrNoSpace
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}

	err := m.AddChild("impl-T001", paneops.SessionConfig{})
	if !errors.Is(err, paneops.ErrNoSpace) {
		t.Fatalf("AddChild = %v, want ErrNoSpace", err)
	}
}

func TestAddChild_DuplicateUnitRejected(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddChild("impl-T001", paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddChild("impl-T001", paneops.SessionConfig{}); err == nil {
		t.Fatal("want error adding duplicate unit")
	}
}

func TestRemoveChild(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddChild("impl-T001", paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}

	if err := m.RemoveChild("impl-T001"); err != nil {
		t.Fatalf("RemoveChild: %v", err)
	}
	if _, ok := m.PaneFor("impl-T001"); ok {
		t.Error("PaneFor still reports a pane for removed unit")
	}
	units := m.Units()
	if len(units) != 1 || units[0] != RootUnit {
		t.Errorf("Units() = %v, want [root]", units)
	}
}

func TestRemoveChild_RootIsProtected(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveChild(RootUnit); err == nil {
		t.Fatal("want error removing root pane")
	}
}

func TestRemoveChild_UnknownIsIdempotent(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveChild("nobody"); err != nil {
		t.Fatalf("RemoveChild(unknown) = %v, want nil", err)
	}
}

func TestAddChild_NextSplitTargetsNewLastPaneAfterRemoval(t *testing.T) {
	backend := paneops.NewFake()
	m := New(backend)
	if err := m.InitRoot(paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddChild("impl-T001", paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveChild("impl-T001"); err != nil {
		t.Fatal(err)
	}
	if err := m.AddChild("impl-T002", paneops.SessionConfig{}); err != nil {
		t.Fatal(err)
	}

	var lastSplit string
	for _, c := range backend.Calls {
		if c.Method == "Split" {
			lastSplit = c.Name
		}
	}
	if lastSplit != RootUnit {
		t.Errorf("last split target = %q, want %q (root, since impl-T001 was removed)", lastSplit, RootUnit)
	}
}
