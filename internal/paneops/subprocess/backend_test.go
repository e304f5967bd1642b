package subprocess

import (
	"strings"
	"testing"
	"time"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

func TestNewSessionAndCapturePane(t *testing.T) {
	b := NewBackend()
	cfg := paneops.SessionConfig{Command: []string{"sh", "-c", "echo hello"}}
	if err := b.NewSession("unit-1", cfg); err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var out string
	for time.Now().Before(deadline) {
		out, _ = b.CapturePane("unit-1", 0)
		if strings.Contains(out, "hello") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("CapturePane = %q, want it to contain %q", out, "hello")
	}
}

func TestNewSession_DuplicateRejected(t *testing.T) {
	b := NewBackend()
	cfg := paneops.SessionConfig{Command: []string{"sleep", "1"}}
	if err := b.NewSession("unit-1", cfg); err != nil {
		t.Fatal(err)
	}
	if err := b.NewSession("unit-1", cfg); err == nil {
		t.Fatal("want error starting a duplicate session")
	}
	_ = b.Kill("unit-1")
}

func TestKill_Idempotent(t *testing.T) {
	b := NewBackend()
	if err := b.Kill("nobody"); err != nil {
		t.Fatalf("Kill(unknown) = %v, want nil", err)
	}
}

func TestHasSession(t *testing.T) {
	b := NewBackend()
	if has, _ := b.HasSession("unit-1"); has {
		t.Error("HasSession = true before NewSession")
	}
	cfg := paneops.SessionConfig{Command: []string{"sleep", "1"}}
	if err := b.NewSession("unit-1", cfg); err != nil {
		t.Fatal(err)
	}
	if has, _ := b.HasSession("unit-1"); !has {
		t.Error("HasSession = false right after NewSession")
	}
	_ = b.Kill("unit-1")
}

func TestSplit_FailsAfterFirstCall(t *testing.T) {
	b := NewBackend()
	cfg := paneops.SessionConfig{Command: []string{"sleep", "1"}}

	paneID, err := b.Split("root", paneops.SplitVertical, cfg)
	if err != nil {
		t.Fatalf("first Split: %v", err)
	}
	b.Adopt("impl-T001", paneID)
	if has, _ := b.HasSession("impl-T001"); !has {
		t.Error("HasSession(impl-T001) = false after Adopt")
	}

	if _, err := b.Split("impl-T001", paneops.SplitVertical, cfg); err != paneops.ErrNoSpace {
		t.Fatalf("second Split = %v, want ErrNoSpace", err)
	}
	_ = b.Kill("impl-T001")
}

func TestSendKeys_IsNoOp(t *testing.T) {
	b := NewBackend()
	if err := b.SendKeys("anyone", "text", false); err != nil {
		t.Fatalf("SendKeys = %v, want nil (no-op)", err)
	}
}
