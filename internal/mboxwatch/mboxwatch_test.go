package mboxwatch

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_SetsDirtyAfterDebounce(t *testing.T) {
	orig := DebounceDelay
	DebounceDelay = 10 * time.Millisecond
	defer func() { DebounceDelay = orig }()

	root := t.TempDir()
	w := Watch(root, io.Discard)
	defer w.Close()

	if err := os.WriteFile(filepath.Join(root, "touch.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Consume() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for Dirty to be set")
}

func TestWatch_MissingRootDegradesSilently(t *testing.T) {
	w := Watch(filepath.Join(os.TempDir(), "mboxwatch-does-not-exist-xyz"), io.Discard)
	defer w.Close()
	if w.Consume() {
		t.Error("want Dirty never set when the watch root cannot be watched")
	}
}

func TestConsume_ClearsFlag(t *testing.T) {
	w := &Watcher{}
	w.Dirty.Store(true)
	if !w.Consume() {
		t.Fatal("want first Consume to report true")
	}
	if w.Consume() {
		t.Error("want second Consume to report false after clearing")
	}
}
