package poster

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/fsys"
	"github.com/ai-app-studio/buswright/internal/mailbox"
	"github.com/ai-app-studio/buswright/internal/unitctx"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

func newTestPoster(t *testing.T) (*Poster, *mailbox.Root) {
	t.Helper()
	mbox := mailbox.New(fsys.OSFS{}, filepath.Join(t.TempDir(), "mbox"))
	p := New(mbox)
	p.SetClock(func() time.Time { return time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC) })
	return p, mbox
}

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, unitctx.RequirementsFile), []byte("goal: test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSpawn_RootUnitHasNoParentEnv(t *testing.T) {
	p, mbox := newTestPoster(t)
	dir := projectDir(t)

	if _, err := p.Spawn(dir, SpawnOptions{}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	entries, err := mbox.ListPending(envelope.RecipientBus)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("pending = %d, want 1", len(entries))
	}
	e, err := mbox.Read(entries[0])
	if err != nil {
		t.Fatal(err)
	}
	if e.TaskID != "root" || e.From != "root" {
		t.Errorf("e = %+v, want task_id/from = root", e)
	}
	var data envelope.SpawnData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		t.Fatal(err)
	}
	if _, ok := data.Env["PARENT_UNIT_ID"]; ok {
		t.Error("root spawn should not set PARENT_UNIT_ID")
	}
}

func TestSpawnFromBreakdown_SkipsAlreadySpawnedChildren(t *testing.T) {
	p, mbox := newTestPoster(t)
	dir := projectDir(t)

	tb := "tasks:\n  - id: T001\n    goal: build the thing\n  - id: T002\n    goal: test the thing\n"
	if err := os.WriteFile(filepath.Join(dir, unitctx.TaskBreakdownFile), []byte(tb), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := workspace.UpsertChild(filepath.Join(dir, workspace.ChildrenStatusFile),
		workspace.ChildStatus{UnitID: "root-T001", Status: "completed"}); err != nil {
		t.Fatal(err)
	}

	envs, err := p.SpawnFromBreakdown(dir, SpawnOptions{})
	if err != nil {
		t.Fatalf("SpawnFromBreakdown: %v", err)
	}
	if len(envs) != 1 || envs[0].TaskID != "root-T002" {
		t.Fatalf("envs = %+v, want exactly root-T002", envs)
	}

	entries, err := mbox.ListPending(envelope.RecipientBus)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("pending = %d, want 1 (T001 already spawned)", len(entries))
	}
}

func TestSend_DeliversToRecipientInbox(t *testing.T) {
	p, mbox := newTestPoster(t)

	e, err := p.Send("root", "root-T001", envelope.TypeSend, envelope.SendData{Text: "go"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries, err := mbox.ListPending("root-T001")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("pending = %d, want 1", len(entries))
	}
	if e.To != "root-T001" {
		t.Errorf("To = %q", e.To)
	}
}

func TestPost_ResultWithoutIsErrorIsRejected(t *testing.T) {
	p, _ := newTestPoster(t)

	_, err := p.Post("root-T001", envelope.TypeResult, "root-T001", json.RawMessage(`{"summary":"done"}`))
	if err == nil {
		t.Fatal("want error for result post missing is_error")
	}
}

func TestPost_ResultWithIsErrorDelivers(t *testing.T) {
	p, mbox := newTestPoster(t)

	_, err := p.Post("root-T001", envelope.TypeResult, "root-T001", json.RawMessage(`{"is_error":false,"summary":"done"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	entries, err := mbox.ListPending(envelope.RecipientRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("pending = %d, want 1", len(entries))
	}
}

func TestPost_LogDoesNotRequireIsError(t *testing.T) {
	p, mbox := newTestPoster(t)

	_, err := p.Post("root-T001", envelope.TypeLog, "root-T001", json.RawMessage(`{"text":"progress"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	entries, err := mbox.ListPending(envelope.RecipientRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("pending = %d, want 1", len(entries))
	}
}
