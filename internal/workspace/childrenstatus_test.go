package workspace

import (
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertChild_AppendsThenReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), ChildrenStatusFile)
	if err := WriteEmptyChildrenStatus(path); err != nil {
		t.Fatal(err)
	}

	rec := ChildStatus{UnitID: "root-T001", Status: "running", CompletedAt: ""}
	if err := UpsertChild(path, rec); err != nil {
		t.Fatalf("UpsertChild: %v", err)
	}

	cs, err := LoadChildrenStatus(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Children) != 1 || cs.Children[0].Status != "running" {
		t.Fatalf("children = %+v", cs.Children)
	}

	done := ChildStatus{UnitID: "root-T001", Status: "done", CompletedAt: NowUTC(time.Unix(0, 0))}
	if err := UpsertChild(path, done); err != nil {
		t.Fatal(err)
	}
	cs, err = LoadChildrenStatus(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Children) != 1 {
		t.Fatalf("want 1 child after upsert replace, got %d", len(cs.Children))
	}
	if cs.Children[0].Status != "done" || cs.Children[0].CompletedAt == "" {
		t.Errorf("children[0] = %+v, want status done with a completed_at", cs.Children[0])
	}
}

func TestLoadChildrenStatus_MissingFileIsEmpty(t *testing.T) {
	cs, err := LoadChildrenStatus(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("LoadChildrenStatus: %v", err)
	}
	if len(cs.Children) != 0 {
		t.Errorf("children = %+v, want empty", cs.Children)
	}
}
