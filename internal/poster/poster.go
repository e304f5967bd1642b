// Package poster implements the CLI poster's message-construction
// contract (spec.md §4.9): the spawn/send/post operations an agent (or
// operator) invokes from inside its pane to talk to the bus. All three
// write through the atomic mailbox writer; none bypass envelope
// validation.
package poster

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/mailbox"
	"github.com/ai-app-studio/buswright/internal/unitctx"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

// Poster wires a resolved unit context to the mailbox.
type Poster struct {
	mbox *mailbox.Root
	now  func() time.Time
}

// New returns a Poster writing into mbox.
func New(mbox *mailbox.Root) *Poster {
	return &Poster{mbox: mbox, now: time.Now}
}

// SetClock overrides the time source, for deterministic tests.
func (p *Poster) SetClock(now func() time.Time) { p.now = now }

// SpawnOptions configures a default-mode spawn.
type SpawnOptions struct {
	TargetRepo string
	ExtraEnv   map[string]string
}

// Spawn constructs and delivers a default-mode spawn envelope addressed
// to "bus", deriving the unit identity via unitctx.Resolve(cwd).
func (p *Poster) Spawn(cwd string, opts SpawnOptions) (*envelope.Envelope, error) {
	ctx, err := unitctx.Resolve(cwd)
	if err != nil {
		return nil, fmt.Errorf("poster: resolving context: %w", err)
	}

	env := map[string]string{"UNIT_ID": ctx.UnitID}
	if ctx.ParentID != "" {
		env["PARENT_UNIT_ID"] = ctx.ParentID
	}
	if opts.TargetRepo != "" {
		env["TARGET_REPO"] = opts.TargetRepo
	}
	for k, v := range opts.ExtraEnv {
		env[k] = v
	}

	data := envelope.SpawnData{
		Branch: "feat/" + ctx.UnitID,
		Env:    env,
	}

	e, err := envelope.New(p.now(), ctx.UnitID, envelope.RecipientBus, envelope.TypeSpawn, ctx.UnitID, data)
	if err != nil {
		return nil, fmt.Errorf("poster: constructing spawn envelope: %w", err)
	}
	if err := p.mbox.Deliver(envelope.RecipientBus, e); err != nil {
		return nil, fmt.Errorf("poster: delivering spawn envelope: %w", err)
	}
	return e, nil
}

// SpawnFromBreakdown reads cwd's task-breakdown.yml, skips tasks already
// listed in children-status.yml, and emits one spawn envelope per
// remaining task with task_id = "<this-unit>-<task-id>".
func (p *Poster) SpawnFromBreakdown(cwd string, opts SpawnOptions) ([]*envelope.Envelope, error) {
	ctx, err := unitctx.Resolve(cwd)
	if err != nil {
		return nil, fmt.Errorf("poster: resolving context: %w", err)
	}

	tb, err := unitctx.LoadTaskBreakdown(filepath.Join(cwd, unitctx.TaskBreakdownFile))
	if err != nil {
		return nil, fmt.Errorf("poster: loading %s: %w", unitctx.TaskBreakdownFile, err)
	}

	existing := existingChildIDs(cwd)

	var out []*envelope.Envelope
	for _, task := range tb.Tasks {
		unitID := ctx.UnitID + "-" + task.ID
		if existing[unitID] {
			continue
		}

		env := map[string]string{"UNIT_ID": unitID, "PARENT_UNIT_ID": ctx.UnitID}
		if opts.TargetRepo != "" {
			env["TARGET_REPO"] = opts.TargetRepo
		}
		for k, v := range opts.ExtraEnv {
			env[k] = v
		}

		goal := task.Goal
		if goal == "" {
			goal = task.Title
		}
		data := envelope.SpawnData{Branch: "feat/" + unitID, Goal: goal, Env: env}

		e, err := envelope.New(p.now(), ctx.UnitID, envelope.RecipientBus, envelope.TypeSpawn, unitID, data)
		if err != nil {
			return out, fmt.Errorf("poster: constructing spawn envelope for %q: %w", unitID, err)
		}
		if err := p.mbox.Deliver(envelope.RecipientBus, e); err != nil {
			return out, fmt.Errorf("poster: delivering spawn envelope for %q: %w", unitID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func existingChildIDs(cwd string) map[string]bool {
	out := make(map[string]bool)
	cs, err := workspace.LoadChildrenStatus(filepath.Join(cwd, workspace.ChildrenStatusFile))
	if err != nil {
		return out
	}
	for _, c := range cs.Children {
		out[c.UnitID] = true
	}
	return out
}

// Send constructs and delivers a send/instruct-type envelope addressed
// to a specific agent.
func (p *Poster) Send(from, to string, typ envelope.Type, payload any) (*envelope.Envelope, error) {
	e, err := envelope.New(p.now(), from, to, typ, "", payload)
	if err != nil {
		return nil, fmt.Errorf("poster: constructing send envelope: %w", err)
	}
	if err := p.mbox.Deliver(to, e); err != nil {
		return nil, fmt.Errorf("poster: delivering send envelope: %w", err)
	}
	return e, nil
}

// Post constructs and delivers an envelope from the caller to the
// parent (root), rejecting a result envelope lacking data.is_error.
func (p *Poster) Post(from string, typ envelope.Type, taskID string, data json.RawMessage) (*envelope.Envelope, error) {
	if typ == envelope.TypeResult {
		var rd struct {
			IsError *bool `json:"is_error"`
		}
		if err := json.Unmarshal(data, &rd); err != nil || rd.IsError == nil {
			return nil, fmt.Errorf("poster: result post requires data.is_error")
		}
	}

	e, err := envelope.New(p.now(), from, envelope.RecipientRoot, typ, taskID, json.RawMessage(data))
	if err != nil {
		return nil, fmt.Errorf("poster: constructing post envelope: %w", err)
	}
	if err := p.mbox.Deliver(envelope.RecipientRoot, e); err != nil {
		return nil, fmt.Errorf("poster: delivering post envelope: %w", err)
	}
	return e, nil
}
