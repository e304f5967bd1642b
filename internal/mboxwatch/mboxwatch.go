// Package mboxwatch implements the poll loop's fast path (spec.md
// §4.13-A): an fsnotify watch on the mailbox root that debounces
// bursts of events and sets an atomic dirty flag the poll loop can
// check to wake early instead of waiting out its full tick interval.
// The watch is not recursive: it sees entries created, renamed or
// removed directly under the root (such as a new recipient directory),
// not envelope files delivered into an existing recipient's in/
// directory. Grounded on the teacher's cmd/gc/controller.go
// watchConfigDirs debounce pattern.
package mboxwatch

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the quiet period after the last event before Dirty
// is set.
var DebounceDelay = 50 * time.Millisecond

// Watcher sets Dirty when it believes the mailbox root has changed.
type Watcher struct {
	Dirty atomic.Bool

	watcher *fsnotify.Watcher
}

// Watch starts watching root (normally "<daemon-root>/mbox"). A
// failure to create the underlying fsnotify watcher is logged to
// stderr and degrades silently to a Watcher whose Dirty flag is never
// set — callers fall back to tick-only polling, never treating this as
// fatal.
func Watch(root string, stderr io.Writer) *Watcher {
	w := &Watcher{}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(stderr, "mboxwatch: creating watcher: %v (falling back to tick-only polling)\n", err)
		return w
	}
	if err := fw.Add(root); err != nil {
		fmt.Fprintf(stderr, "mboxwatch: watching %s: %v (falling back to tick-only polling)\n", root, err)
		fw.Close()
		return w
	}
	w.watcher = fw

	go w.run()
	return w
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DebounceDelay, func() { w.Dirty.Store(true) })
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Consume reports and clears the dirty flag.
func (w *Watcher) Consume() bool {
	return w.Dirty.Swap(false)
}

// Close stops the underlying fsnotify watcher, if one was created.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
