package doctor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGitPresentCheck(t *testing.T) {
	r := GitPresentCheck{}.Run(&CheckContext{})
	if r.Status != StatusOK {
		t.Errorf("git-present = %+v, want ok in a test environment with git installed", r)
	}
}

func TestPaneBackendBinaryCheck_NonTmuxBackendSkipsProbe(t *testing.T) {
	r := PaneBackendBinaryCheck{}.Run(&CheckContext{PaneBackend: "k8s"})
	if r.Status != StatusOK {
		t.Errorf("k8s backend check = %+v, want ok (no binary to probe)", r)
	}
}

func TestDaemonRootWritableCheck_MissingDirFails(t *testing.T) {
	r := DaemonRootWritableCheck{}.Run(&CheckContext{RootPath: filepath.Join(t.TempDir(), "missing")})
	if r.Status != StatusError {
		t.Errorf("status = %v, want error for a missing root", r.Status)
	}
}

func TestDaemonRootWritableCheck_ExistingWritableDirPasses(t *testing.T) {
	r := DaemonRootWritableCheck{}.Run(&CheckContext{RootPath: t.TempDir()})
	if r.Status != StatusOK {
		t.Errorf("status = %v, want ok for a writable root", r.Status)
	}
}

func TestDaemonRootWritableCheck_FixCreatesDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fresh")
	ctx := &CheckContext{RootPath: root}
	if err := (DaemonRootWritableCheck{}).Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if r := (DaemonRootWritableCheck{}).Run(ctx); r.Status != StatusOK {
		t.Errorf("after Fix, status = %v, want ok", r.Status)
	}
}

func TestStateFilesParseableCheck_AbsentFilesAreFine(t *testing.T) {
	r := StateFilesParseableCheck{}.Run(&CheckContext{RootPath: t.TempDir()})
	if r.Status != StatusOK {
		t.Errorf("status = %v, want ok when no state files exist yet", r.Status)
	}
}

func TestStateFilesParseableCheck_MalformedJSONFails(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "state"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "state", "tasks.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := StateFilesParseableCheck{}.Run(&CheckContext{RootPath: root})
	if r.Status != StatusError {
		t.Errorf("status = %v, want error for malformed tasks.json", r.Status)
	}
}

func TestStateFilesParseableCheck_ValidJSONPasses(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "state"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "state", "panes.json"), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := StateFilesParseableCheck{}.Run(&CheckContext{RootPath: root})
	if r.Status != StatusOK {
		t.Errorf("status = %v, want ok for valid JSON", r.Status)
	}
}

func TestDaemonLockCheck_NoFileIsOK(t *testing.T) {
	r := DaemonLockCheck{}.Run(&CheckContext{RootPath: t.TempDir()})
	if r.Status != StatusOK {
		t.Errorf("status = %v, want ok when no lock file exists", r.Status)
	}
}

func TestDaemonLockCheck_StaleFileWarns(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "daemon.lock"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	r := DaemonLockCheck{}.Run(&CheckContext{RootPath: root})
	if r.Status != StatusWarning {
		t.Errorf("status = %v, want warning for a stale (unheld) lock file", r.Status)
	}
}

func TestDaemonLockCheck_FixRemovesStaleFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "daemon.lock")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := (DaemonLockCheck{}).Fix(&CheckContext{RootPath: root}); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("want daemon.lock removed after Fix")
	}
}

func TestDefaultChecks_ReturnsFiveChecks(t *testing.T) {
	if len(DefaultChecks()) != 5 {
		t.Errorf("DefaultChecks() = %d checks, want 5", len(DefaultChecks()))
	}
}
