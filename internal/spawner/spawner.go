// Package spawner implements the spawn actuator (spec.md §4.5): given a
// validated spawn envelope, it materializes the unit's workspace,
// allocates a pane, launches the agent, tees its output, and records
// the new unit in the registry. Steps 1-4 are all-or-nothing; once a
// pane has received its first keystrokes (step 5) the handler commits,
// and every failure from step 6 onward is logged, never undone.
package spawner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/layout"
	"github.com/ai-app-studio/buswright/internal/paneops"
	"github.com/ai-app-studio/buswright/internal/registry"
	"github.com/ai-app-studio/buswright/internal/telemetry"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

// Config carries the daemon-level settings the actuator needs beyond
// the envelope itself.
type Config struct {
	DaemonRoot string
	TargetRepo string
	AgentCmd   string // shell command used to launch the agent program
	Warmup     time.Duration
}

// Actuator runs the spawn pipeline.
type Actuator struct {
	cfg     Config
	mat     *workspace.Materializer
	layout  *layout.Manager
	backend paneops.Backend
	reg     *registry.Registry
	stderr  io.Writer
	sleep   func(time.Duration)
	now     func() time.Time
}

// New returns an Actuator. sleep and now default to time.Sleep/time.Now
// when nil, so tests can inject deterministic substitutes.
func New(cfg Config, mat *workspace.Materializer, lm *layout.Manager, backend paneops.Backend, reg *registry.Registry, stderr io.Writer) *Actuator {
	return &Actuator{
		cfg: cfg, mat: mat, layout: lm, backend: backend, reg: reg, stderr: stderr,
		sleep: time.Sleep, now: time.Now,
	}
}

// SetClock overrides the sleep/now functions, for tests that must not
// block on the real warm-up interval.
func (a *Actuator) SetClock(sleep func(time.Duration), now func() time.Time) {
	a.sleep = sleep
	a.now = now
}

// Spawn runs the full pipeline for one spawn envelope. An error returned
// from this function means steps 1-4 failed and the envelope should be
// left in the inbox for retry; once it returns nil, every side effect
// that could be applied was applied (later-step failures are logged to
// stderr, not surfaced as an error).
func (a *Actuator) Spawn(e *envelope.Envelope) error {
	if e.Type != envelope.TypeSpawn {
		return fmt.Errorf("spawner: %q is not a spawn envelope", e.Type)
	}

	var data envelope.SpawnData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fmt.Errorf("spawner: decoding spawn data: %w", err)
	}

	unitID := e.TaskID
	parentID := data.Env["PARENT_UNIT_ID"]
	branch := data.Branch
	if branch == "" {
		branch = "feat/" + unitID
	}

	ctx := context.Background()
	telemetry.SpawnStarted(ctx, unitID, parentID)

	spec := workspace.Spec{UnitID: unitID, ParentID: parentID, Branch: branch}

	// Steps 1-3: workspace materialization.
	path, err := a.mat.Ensure(spec)
	if err != nil {
		telemetry.SpawnFailed(ctx, unitID, err)
		return fmt.Errorf("spawner: materializing workspace for %q: %w", unitID, err)
	}

	// Step 4: pane allocation.
	sessionCfg := paneops.SessionConfig{
		WorkDir: path,
		Command: []string{"sh", "-c", a.cfg.AgentCmd},
		Env:     a.buildEnv(unitID, parentID, data),
	}

	if err := a.allocatePane(unitID, sessionCfg); err != nil {
		telemetry.SpawnFailed(ctx, unitID, err)
		return fmt.Errorf("spawner: allocating pane for %q: %w", unitID, err)
	}

	// From here on, the handler commits: failures are logged, not undone.
	paneID, _ := a.layout.PaneFor(unitID)
	telemetry.PaneAllocated(ctx, unitID, paneID)

	// Step 6: output tee.
	if teeable, ok := a.backend.(paneops.Teeable); ok {
		logPath := filepath.Join(a.cfg.DaemonRoot, "logs", "raw", unitID+".raw")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			fmt.Fprintf(a.stderr, "spawner: creating raw log dir for %q: %v\n", unitID, err)
		} else if err := teeable.PipeOutput(unitID, logPath); err != nil {
			fmt.Fprintf(a.stderr, "spawner: installing output tee for %q: %v\n", unitID, err)
		}
	}

	// Step 7: pane map record.
	if err := a.reg.PutPane(registry.Pane{UnitID: unitID, PaneID: paneID}); err != nil {
		fmt.Fprintf(a.stderr, "spawner: persisting pane record for %q: %v\n", unitID, err)
	}

	// Step 8: warm-up then initial instruction.
	a.sleep(a.cfg.Warmup)
	instruction := initialInstruction(unitID, parentID, data.Goal)
	if err := a.backend.SendKeys(unitID, instruction, false); err != nil {
		fmt.Fprintf(a.stderr, "spawner: delivering initial instruction to %q: %v\n", unitID, err)
	}

	// Step 9: task record.
	task := registry.Task{ID: unitID, ParentID: parentID, Goal: data.Goal, Status: registry.TaskRunning}
	if err := a.reg.PutTask(task); err != nil {
		fmt.Fprintf(a.stderr, "spawner: persisting task record for %q: %v\n", unitID, err)
	}

	telemetry.SpawnSucceeded(ctx, unitID)

	return nil
}

func (a *Actuator) allocatePane(unitID string, cfg paneops.SessionConfig) error {
	if unitID == layout.RootUnit {
		return a.layout.InitRoot(cfg)
	}
	return a.layout.AddChild(unitID, cfg)
}

// buildEnv constructs the step-5 environment prelude, then overlays the
// envelope's own env mapping (which the spec allows to override the
// prelude's defaults).
func (a *Actuator) buildEnv(unitID, parentID string, data envelope.SpawnData) map[string]string {
	env := map[string]string{
		"PATH":        os.Getenv("PATH") + ":" + filepath.Join(a.cfg.DaemonRoot, "bin"),
		"ROOT":        a.cfg.DaemonRoot,
		"BUSCTL_ROOT": a.cfg.DaemonRoot,
		"TASK_ID":     unitID,
	}
	if data.Goal != "" {
		env["TASK_GOAL"] = data.Goal
	}
	if unitID == layout.RootUnit {
		env["TARGET_REPO"] = a.cfg.TargetRepo
	}
	for k, v := range telemetry.OTELEnvMap() {
		env[k] = v
	}
	for k, v := range data.Env {
		env[k] = v
	}
	return env
}

// initialInstruction builds the short directive injected after warm-up.
func initialInstruction(unitID, parentID, goal string) string {
	if parentID == "" {
		return "Read CLAUDE.md. Your first task is to decompose requirements.yml into task-breakdown.yml."
	}
	if goal != "" {
		return fmt.Sprintf("You are unit %s. Read CLAUDE.md. Your goal: %s", unitID, goal)
	}
	return fmt.Sprintf("You are unit %s. Read CLAUDE.md.", unitID)
}
