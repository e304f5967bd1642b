package dispatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/fsys"
	"github.com/ai-app-studio/buswright/internal/journal"
	"github.com/ai-app-studio/buswright/internal/layout"
	"github.com/ai-app-studio/buswright/internal/mailbox"
	"github.com/ai-app-studio/buswright/internal/paneops"
	"github.com/ai-app-studio/buswright/internal/registry"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

type fakeSpawner struct {
	calls []*envelope.Envelope
	err   error
}

func (f *fakeSpawner) Spawn(e *envelope.Envelope) error {
	f.calls = append(f.calls, e)
	return f.err
}

type harness struct {
	mbox    *mailbox.Root
	backend *paneops.Fake
	layout  *layout.Manager
	reg     *registry.Registry
	jrn     *journal.Journal
	spawner *fakeSpawner
	dsp     *Dispatcher
	root    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	mbox := mailbox.New(fsys.OSFS{}, filepath.Join(root, "mbox"))
	backend := paneops.NewFake()
	lm := layout.New(backend)
	reg, err := registry.Open(fsys.OSFS{}, filepath.Join(root, "state"))
	if err != nil {
		t.Fatal(err)
	}
	jrn, err := journal.Open(filepath.Join(root, "logs", "bus.jsonl"), os.Stderr)
	if err != nil {
		t.Fatal(err)
	}
	sp := &fakeSpawner{}
	dsp := New(mbox, sp, lm, backend, reg, jrn, root, filepath.Join(root, "target-repo"), os.Stderr)
	return &harness{mbox: mbox, backend: backend, layout: lm, reg: reg, jrn: jrn, spawner: sp, dsp: dsp, root: root}
}

func deliver(t *testing.T, h *harness, to string, typ envelope.Type, taskID string, payload any) {
	t.Helper()
	e, err := envelope.New(time.Now(), "tester", to, typ, taskID, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mbox.Deliver(to, e); err != nil {
		t.Fatal(err)
	}
}

func TestPollOnce_DispatchesSpawnAndDeletes(t *testing.T) {
	h := newHarness(t)
	deliver(t, h, "bus", envelope.TypeSpawn, "root", envelope.SpawnData{})

	if err := h.dsp.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(h.spawner.calls) != 1 {
		t.Fatalf("spawner calls = %d, want 1", len(h.spawner.calls))
	}
	entries, err := h.mbox.ListPending("bus")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("want inbox drained after successful spawn, got %d pending", len(entries))
	}
}

func TestPollOnce_SpawnFailureLeavesEnvelope(t *testing.T) {
	h := newHarness(t)
	h.spawner.err = os.ErrInvalid
	deliver(t, h, "bus", envelope.TypeSpawn, "root", envelope.SpawnData{})

	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}
	entries, err := h.mbox.ListPending("bus")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("want envelope to remain after handler failure, got %d pending", len(entries))
	}
}

func TestHandleSend_DeliversLiteralTextAndEnter(t *testing.T) {
	h := newHarness(t)
	_ = h.layout.InitRoot(paneops.SessionConfig{})
	_ = h.layout.AddChild("root-T001", paneops.SessionConfig{})

	deliver(t, h, "root-T001", envelope.TypeSend, "", envelope.SendData{Text: "hello there"})
	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, c := range h.backend.Calls {
		if c.Method == "SendKeys" && c.Name == "root-T001" && c.Text == "hello there" {
			found = true
			if !c.Literal {
				t.Error("want handleSend to call SendKeys with literal=true, got literal=false")
			}
		}
	}
	if !found {
		t.Error("want SendKeys(root-T001, \"hello there\") to have been called")
	}
}

func TestHandleSend_UnknownRecipientDiscardsEnvelope(t *testing.T) {
	h := newHarness(t)
	deliver(t, h, "nobody-home", envelope.TypeSend, "", envelope.SendData{Text: "hi"})

	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}
	entries, err := h.mbox.ListPending("nobody-home")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("want unresolvable send to be discarded, not retried")
	}
}

func TestHandlePost_JournalsEveryPostCategoryEnvelope(t *testing.T) {
	h := newHarness(t)
	deliver(t, h, "root", envelope.TypeLog, "root-T001", envelope.SendData{Text: "progress update"})

	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}
	entries, err := journal.ReadAll(filepath.Join(h.root, "logs", "bus.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Type != "log" {
		t.Fatalf("journal entries = %+v", entries)
	}
}

func TestHandlePost_ResultUpdatesTaskAndPropagatesToParent(t *testing.T) {
	h := newHarness(t)
	_ = h.layout.InitRoot(paneops.SessionConfig{})
	if err := h.reg.PutTask(registry.Task{ID: "root-T001", ParentID: "root", Status: registry.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	deliver(t, h, "root", envelope.TypeResult, "root-T001", envelope.ResultData{IsError: false, Summary: "done well"})
	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}

	task, ok := h.reg.Task("root-T001")
	if !ok || task.Status != registry.TaskDone {
		t.Fatalf("task = %+v, %v, want status done", task, ok)
	}

	csPath := filepath.Join(h.root, "target-repo", workspace.ChildrenStatusFile)
	cs, err := workspace.LoadChildrenStatus(csPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Children) != 1 || cs.Children[0].UnitID != "root-T001" || cs.Children[0].Status != "completed" {
		t.Fatalf("children-status = %+v", cs.Children)
	}

	found := false
	for _, c := range h.backend.Calls {
		if c.Method == "SendKeys" && c.Name == "root" && strings.Contains(c.Text, "[CHILD:root-T001]") {
			found = true
		}
	}
	if !found {
		t.Error("want a [CHILD:root-T001] notification sent to the parent pane")
	}
}

func TestHandlePost_ThrottlesBackToBackParentNotifications(t *testing.T) {
	h := newHarness(t)
	_ = h.layout.InitRoot(paneops.SessionConfig{})
	if err := h.reg.PutTask(registry.Task{ID: "root-T001", ParentID: "root", Status: registry.TaskRunning}); err != nil {
		t.Fatal(err)
	}
	if err := h.reg.PutTask(registry.Task{ID: "root-T002", ParentID: "root", Status: registry.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	deliver(t, h, "root", envelope.TypeResult, "root-T001", envelope.ResultData{IsError: false, Summary: "first"})
	deliver(t, h, "root", envelope.TypeResult, "root-T002", envelope.ResultData{IsError: false, Summary: "second"})

	start := time.Now()
	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Errorf("PollOnce took %v, want >= 100ms between back-to-back notifications to the same parent", elapsed)
	}

	notices := 0
	for _, c := range h.backend.Calls {
		if c.Method == "SendKeys" && c.Name == "root" && strings.Contains(c.Text, "[CHILD:") {
			notices++
		}
	}
	if notices != 2 {
		t.Fatalf("want 2 notifications sent to the parent pane, got %d", notices)
	}
}

func TestHandlePost_ErrorResultMarksTaskFailed(t *testing.T) {
	h := newHarness(t)
	_ = h.layout.InitRoot(paneops.SessionConfig{})
	if err := h.reg.PutTask(registry.Task{ID: "root-T002", ParentID: "root", Status: registry.TaskRunning}); err != nil {
		t.Fatal(err)
	}

	deliver(t, h, "root", envelope.TypeResult, "root-T002", envelope.ResultData{IsError: true, Message: "boom"})
	if err := h.dsp.PollOnce(); err != nil {
		t.Fatal(err)
	}

	task, ok := h.reg.Task("root-T002")
	if !ok || task.Status != registry.TaskFailed {
		t.Fatalf("task = %+v, %v, want status failed", task, ok)
	}
}
