// Package dispatch implements the mailbox poller and its three
// handlers (spec.md §4.6-§4.8): a single-threaded cooperative loop that
// drains every recipient's inbox in timestamp order, dispatches each
// envelope by type, and deletes it only once its handler has fully
// applied its side effect.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/journal"
	"github.com/ai-app-studio/buswright/internal/layout"
	"github.com/ai-app-studio/buswright/internal/mailbox"
	"github.com/ai-app-studio/buswright/internal/paneops"
	"github.com/ai-app-studio/buswright/internal/registry"
	"github.com/ai-app-studio/buswright/internal/telemetry"
	"github.com/ai-app-studio/buswright/internal/vcsadapter"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

// Spawner is the subset of spawner.Actuator the dispatcher depends on.
type Spawner interface {
	Spawn(e *envelope.Envelope) error
}

// Dispatcher polls the mailbox tree and routes envelopes to handlers.
type Dispatcher struct {
	mbox       *mailbox.Root
	spawner    Spawner
	layout     *layout.Manager
	backend    paneops.Backend
	reg        *registry.Registry
	journal    *journal.Journal
	daemonRoot string
	targetRepo string
	stderr     io.Writer
	now        func() time.Time

	lastNotify map[string]time.Time
}

// New returns a Dispatcher. targetRepo is the repository the root unit
// works directly in, needed to resolve the root's workspace path for
// status propagation.
func New(mbox *mailbox.Root, sp Spawner, lm *layout.Manager, backend paneops.Backend, reg *registry.Registry, jrn *journal.Journal, daemonRoot, targetRepo string, stderr io.Writer) *Dispatcher {
	return &Dispatcher{
		mbox: mbox, spawner: sp, layout: lm, backend: backend, reg: reg,
		journal: jrn, daemonRoot: daemonRoot, targetRepo: targetRepo, stderr: stderr, now: time.Now,
		lastNotify: make(map[string]time.Time),
	}
}

// notifyThrottle is the minimum gap between two back-to-back parent-pane
// notifications, per spec.md §4.8, so consecutive keystrokes don't merge
// in the agent's input buffer.
const notifyThrottle = 100 * time.Millisecond

// PollOnce runs one full pass over every recipient inbox, in
// lexicographic directory order, draining each in timestamp order.
func (d *Dispatcher) PollOnce() error {
	start := d.now()
	handled := 0

	recipients, err := d.mbox.ListRecipients()
	if err != nil {
		return fmt.Errorf("dispatch: listing recipients: %w", err)
	}

	for _, recipient := range recipients {
		entries, err := d.mbox.ListPending(recipient)
		if err != nil {
			fmt.Fprintf(d.stderr, "dispatch: listing inbox %q: %v\n", recipient, err)
			continue
		}
		for _, entry := range entries {
			d.handleEntry(entry)
			handled++
		}
	}

	telemetry.PollCycle(context.Background(), float64(d.now().Sub(start).Milliseconds()), handled)
	return nil
}

func (d *Dispatcher) handleEntry(entry mailbox.Entry) {
	e, err := d.mbox.Read(entry)
	if err != nil {
		fmt.Fprintf(d.stderr, "dispatch: rejecting malformed envelope %q: %v\n", entry.Name, err)
		telemetry.EnvelopeRejected(context.Background(), "malformed")
		return // leave it — retry only helps after an operator fixes the file
	}

	if err := d.dispatch(e); err != nil {
		fmt.Fprintf(d.stderr, "dispatch: handling %s (%s): %v\n", e.ID, e.Type, err)
		return // leave in inbox
	}

	if err := d.mbox.Delete(entry); err != nil {
		fmt.Fprintf(d.stderr, "dispatch: deleting processed envelope %q: %v\n", entry.Name, err)
	}
}

func (d *Dispatcher) dispatch(e *envelope.Envelope) error {
	switch e.Type {
	case envelope.TypeSpawn:
		return d.spawner.Spawn(e)
	case envelope.TypeSend, envelope.TypeInstruct:
		return d.handleSend(e)
	default: // log, result, error, post
		return d.handlePost(e)
	}
}

// handleSend implements §4.7. A lookup miss is logged and the envelope
// is still considered handled (deleted) — retrying would not change
// the outcome within this daemon's lifetime.
func (d *Dispatcher) handleSend(e *envelope.Envelope) error {
	paneName, ok := d.resolvePaneName(e.To)
	if !ok {
		fmt.Fprintf(d.stderr, "dispatch: send to %q has no known pane, discarding\n", e.To)
		return nil
	}

	text := sendText(e.Data)
	return d.backend.SendKeys(paneName, text, true)
}

// resolvePaneName looks up the pane map entry for an address. It tries
// the full recipient-directory mapping first (e.g. "impl:T001" ->
// "impl-T001", matching how units are actually registered), then falls
// back to the bare suffix after ':' for addresses that name a unit by
// its task-ID component alone.
func (d *Dispatcher) resolvePaneName(to string) (string, bool) {
	dirName := envelope.RecipientDir(to)
	if _, ok := d.layout.PaneFor(dirName); ok {
		return dirName, true
	}
	if idx := strings.LastIndex(to, ":"); idx >= 0 {
		suffix := to[idx+1:]
		if _, ok := d.layout.PaneFor(suffix); ok {
			return suffix, true
		}
	}
	return "", false
}

// sendText extracts the text payload per §4.7: a {"text": "..."} object
// uses Text; anything else is re-serialized as JSON.
func sendText(data json.RawMessage) string {
	var sd envelope.SendData
	if err := json.Unmarshal(data, &sd); err == nil && sd.Text != "" {
		return sd.Text
	}
	return string(data)
}

// handlePost implements §4.8: journal every post-category envelope, and
// for a result envelope, update the unit record and propagate status to
// the parent.
func (d *Dispatcher) handlePost(e *envelope.Envelope) error {
	d.journal.Append(journal.Entry{
		Ts: time.UnixMilli(e.TS), ID: e.ID, From: e.From, To: e.To,
		Type: string(e.Type), TaskID: e.TaskID,
	})

	if e.Type != envelope.TypeResult || e.TaskID == "" {
		return nil
	}

	task, ok := d.reg.Task(e.TaskID)
	if !ok {
		return nil // result for an unknown unit: journaled, nothing more to do
	}

	var rd envelope.ResultData
	if err := json.Unmarshal(e.Data, &rd); err != nil {
		return fmt.Errorf("dispatch: decoding result data: %w", err)
	}

	task.Status = registry.TaskDone
	if rd.IsError {
		task.Status = registry.TaskFailed
	}
	if err := d.reg.PutTask(task); err != nil {
		return fmt.Errorf("dispatch: persisting task %q: %w", e.TaskID, err)
	}

	if task.ParentID == "" {
		return nil
	}
	return d.propagateToParent(task, rd, e.TS)
}

// propagateToParent implements §4.8's two propagation steps: upsert the
// parent's children-status.yml, then inject a notification keystroke
// into the parent's pane.
func (d *Dispatcher) propagateToParent(task registry.Task, rd envelope.ResultData, ts int64) error {
	parentPath, ok := d.parentWorkspacePath(task.ParentID)
	if !ok {
		return fmt.Errorf("no known workspace for parent %q", task.ParentID)
	}

	status := "completed"
	summary := rd.Summary
	if rd.IsError {
		status = "error"
		if summary == "" {
			summary = rd.Message
		}
	}

	rec := workspace.ChildStatus{
		UnitID:      task.ID,
		Status:      status,
		CompletedAt: workspace.NowUTC(time.UnixMilli(ts)),
	}
	if rd.IsError {
		rec.ErrorMessage = summary
	}

	csPath := filepath.Join(parentPath, workspace.ChildrenStatusFile)
	if err := workspace.UpsertChild(csPath, rec); err != nil {
		return fmt.Errorf("updating %s: %w", workspace.ChildrenStatusFile, err)
	}

	d.throttleNotify(task.ParentID)

	notice := fmt.Sprintf("[CHILD:%s] Status: %s, Message: %s", task.ID, status, summary)
	if err := d.backend.SendKeys(task.ParentID, notice, false); err != nil {
		return fmt.Errorf("notifying parent pane %q: %w", task.ParentID, err)
	}
	d.lastNotify[task.ParentID] = d.now()
	return nil
}

// throttleNotify blocks until at least notifyThrottle has elapsed since the
// last notification sent to parentID, so two results landing in the same
// poll cycle don't deliver keystrokes close enough to merge in the parent
// agent's input buffer.
func (d *Dispatcher) throttleNotify(parentID string) {
	last, ok := d.lastNotify[parentID]
	if !ok {
		return
	}
	if wait := notifyThrottle - d.now().Sub(last); wait > 0 {
		time.Sleep(wait)
	}
}

// parentWorkspacePath resolves a parent unit's workspace directory.
// The root unit works directly in the target repo; every other unit's
// workspace is the fixed worktree sibling directory derivable from its
// unit ID alone (vcsadapter.WorktreePath), provided it is a known task.
func (d *Dispatcher) parentWorkspacePath(parentID string) (string, bool) {
	if parentID == layout.RootUnit {
		return d.targetRepo, d.targetRepo != ""
	}
	if _, ok := d.reg.Task(parentID); !ok {
		return "", false
	}
	return vcsadapter.WorktreePath(d.targetRepo, parentID), true
}
