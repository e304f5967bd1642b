package spawner

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/fsys"
	"github.com/ai-app-studio/buswright/internal/layout"
	"github.com/ai-app-studio/buswright/internal/paneops"
	"github.com/ai-app-studio/buswright/internal/registry"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@test.com")
	runGit(t, dir, "config", "user.name", "Test")
	mustWrite(t, filepath.Join(dir, "requirements.yml"), "project: demo\n")
	mustWrite(t, filepath.Join(dir, "frames", "root", "CLAUDE.md"), "# root frame\n")
	mustWrite(t, filepath.Join(dir, "frames", "unit", "CLAUDE.md"), "# unit frame\n")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "init")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	for _, e := range os.Environ() {
		k, _, _ := strings.Cut(e, "=")
		switch k {
		case "GIT_DIR", "GIT_WORK_TREE", "GIT_INDEX_FILE",
			"GIT_OBJECT_DIRECTORY", "GIT_ALTERNATE_OBJECT_DIRECTORIES":
			continue
		}
		cmd.Env = append(cmd.Env, e)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %s: %v", strings.Join(args, " "), out, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newActuator(t *testing.T, repo string) (*Actuator, *paneops.Fake, *registry.Registry) {
	t.Helper()
	backend := paneops.NewFake()
	lm := layout.New(backend)
	mat := workspace.New(repo, os.Stderr)
	reg, err := registry.Open(fsys.OSFS{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{DaemonRoot: t.TempDir(), TargetRepo: repo, AgentCmd: "echo agent", Warmup: 5 * time.Second}
	a := New(cfg, mat, lm, backend, reg, os.Stderr)
	a.SetClock(func(time.Duration) {}, func() time.Time { return time.Unix(0, 0) })
	return a, backend, reg
}

func spawnEnvelope(t *testing.T, taskID string, data envelope.SpawnData) *envelope.Envelope {
	t.Helper()
	e, err := envelope.New(time.Unix(0, 0), "poster", "bus", envelope.TypeSpawn, taskID, data)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSpawn_Root(t *testing.T) {
	repo := initTestRepo(t)
	a, backend, reg := newActuator(t, repo)

	e := spawnEnvelope(t, "root", envelope.SpawnData{})
	if err := a.Spawn(e); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	has, err := backend.HasSession("root")
	if err != nil || !has {
		t.Fatalf("HasSession(root) = %v, %v", has, err)
	}

	task, ok := reg.Task("root")
	if !ok || task.Status != registry.TaskRunning {
		t.Fatalf("Task(root) = %+v, %v", task, ok)
	}

	pane, ok := reg.Pane("root")
	if !ok || pane.PaneID == "" {
		t.Fatalf("Pane(root) = %+v, %v", pane, ok)
	}

	found := false
	for _, c := range backend.Calls {
		if c.Method == "SendKeys" && c.Name == "root" && strings.Contains(c.Text, "decompose requirements.yml") {
			found = true
		}
	}
	if !found {
		t.Error("want the root unit's initial instruction to mention decomposing requirements.yml")
	}
}

func TestSpawn_Child_SplitsFromRoot(t *testing.T) {
	repo := initTestRepo(t)
	a, backend, _ := newActuator(t, repo)

	if err := a.Spawn(spawnEnvelope(t, "root", envelope.SpawnData{})); err != nil {
		t.Fatal(err)
	}

	childData := envelope.SpawnData{Goal: "implement the thing", Env: map[string]string{"PARENT_UNIT_ID": "root"}}
	if err := a.Spawn(spawnEnvelope(t, "root-T001", childData)); err != nil {
		t.Fatalf("Spawn child: %v", err)
	}

	has, err := backend.HasSession("root-T001")
	if err != nil || !has {
		t.Fatalf("HasSession(root-T001) = %v, %v", has, err)
	}

	found := false
	for _, c := range backend.Calls {
		if c.Method == "SendKeys" && c.Name == "root-T001" && strings.Contains(c.Text, "implement the thing") {
			found = true
		}
	}
	if !found {
		t.Error("want the child unit's initial instruction to mention its goal")
	}
}

func TestSpawn_NoSpace_FailsWithoutRegisteringTask(t *testing.T) {
	repo := initTestRepo(t)
	a, backend, reg := newActuator(t, repo)

	if err := a.Spawn(spawnEnvelope(t, "root", envelope.SpawnData{})); err != nil {
		t.Fatal(err)
	}
	backend.SplitErr = paneops.ErrNoSpace

	err := a.Spawn(spawnEnvelope(t, "root-T001", envelope.SpawnData{Env: map[string]string{"PARENT_UNIT_ID": "root"}}))
	if err == nil {
		t.Fatal("want an error when the pane backend has no space")
	}
	if _, ok := reg.Task("root-T001"); ok {
		t.Error("task record should not exist when pane allocation failed")
	}
}

func TestSpawn_RejectsNonSpawnEnvelope(t *testing.T) {
	repo := initTestRepo(t)
	a, _, _ := newActuator(t, repo)

	e, err := envelope.New(time.Unix(0, 0), "a", "b", envelope.TypeLog, "", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Spawn(e); err == nil {
		t.Fatal("want error spawning a non-spawn envelope")
	}
}

func TestSpawnData_EnvWithQuotesRoundTrips(t *testing.T) {
	// Sanity check that data.Env values containing quote characters
	// survive a JSON marshal/unmarshal round trip unchanged.
	data := envelope.SpawnData{Env: map[string]string{"K": "v\"with'quotes"}}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	var back envelope.SpawnData
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Env["K"] != "v\"with'quotes" {
		t.Errorf("Env[K] = %q", back.Env["K"])
	}
}
