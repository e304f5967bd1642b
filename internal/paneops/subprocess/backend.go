// Package subprocess implements [paneops.Backend] using plain child
// processes with no terminal attached. It is the lightweight fallback
// for environments without tmux (CI, containers, tests): one process
// per unit, stdout/stderr captured to an in-memory ring buffer in place
// of a pane's scrollback.
//
// Limitations compared to the tmux backend:
//   - SendKeys is a no-op (best-effort) — there is no PTY to type into.
//   - Split only succeeds once per backend instance; a second call
//     returns [paneops.ErrNoSpace], since a bare process has no concept
//     of an adjacent pane to carve space from.
package subprocess

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/ai-app-studio/buswright/internal/paneops"
)

// ringLimit bounds the captured output buffer per session.
const ringLimit = 1 << 20 // 1 MiB

type proc struct {
	cmd  *exec.Cmd
	buf  *ringBuffer
	done chan struct{}
}

func (p *proc) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Backend implements [paneops.Backend] over child processes.
type Backend struct {
	mu        sync.Mutex
	procs     map[string]*proc
	splitUsed bool
	splitSeq  int
}

var _ paneops.Backend = (*Backend)(nil)

// NewBackend returns a subprocess-backed Backend.
func NewBackend() *Backend {
	return &Backend{procs: make(map[string]*proc)}
}

func (b *Backend) NewSession(name string, cfg paneops.SessionConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.procs[name]; ok && existing.alive() {
		return fmt.Errorf("paneops/subprocess: session %q already exists", name)
	}

	command := cfg.Command
	if len(command) == 0 {
		command = []string{"sh"}
	}
	cmd := exec.Command(command[0], command[1:]...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	env := os.Environ()
	if len(cfg.Env) > 0 {
		keys := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+cfg.Env[k])
		}
	}
	cmd.Env = env

	buf := newRingBuffer(ringLimit)
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("paneops/subprocess: starting %q: %w", name, err)
	}

	done := make(chan struct{})
	pr := &proc{cmd: cmd, buf: buf, done: done}
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	b.procs[name] = pr
	return nil
}

func (b *Backend) Kill(name string) error {
	b.mu.Lock()
	pr, ok := b.procs[name]
	if ok {
		delete(b.procs, name)
	}
	b.mu.Unlock()
	if !ok || !pr.alive() {
		return nil
	}
	_ = pr.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-pr.done:
	case <-time.After(5 * time.Second):
		_ = pr.cmd.Process.Kill()
		<-pr.done
	}
	return nil
}

// SendKeys is a no-op: there is no PTY to type into.
func (b *Backend) SendKeys(name, text string, literal bool) error {
	return nil
}

func (b *Backend) CapturePane(name string, lines int) (string, error) {
	b.mu.Lock()
	pr, ok := b.procs[name]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("paneops/subprocess: %w: %q", paneops.ErrSessionNotFound, name)
	}
	return pr.buf.tail(lines), nil
}

func (b *Backend) PaneID(name string) (string, error) {
	b.mu.Lock()
	_, ok := b.procs[name]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("paneops/subprocess: %w: %q", paneops.ErrSessionNotFound, name)
	}
	return name, nil
}

// Split always fails after the first call: a bare process has no
// adjacent pane to split space from. On its one allowed call, it starts
// cfg's process under a synthetic pane ID and returns it; callers
// should immediately call Adopt to bind it to the real unit name.
func (b *Backend) Split(target string, mode paneops.SplitMode, cfg paneops.SessionConfig) (string, error) {
	b.mu.Lock()
	if b.splitUsed {
		b.mu.Unlock()
		return "", paneops.ErrNoSpace
	}
	b.splitUsed = true
	b.splitSeq++
	paneID := fmt.Sprintf("split-%d", b.splitSeq)
	b.mu.Unlock()

	if err := b.NewSession(paneID, cfg); err != nil {
		return "", err
	}
	return paneID, nil
}

// Adopt renames a pane ID returned by Split to the unit name future
// SendKeys/CapturePane/Kill calls will use.
func (b *Backend) Adopt(name, paneID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pr, ok := b.procs[paneID]; ok {
		delete(b.procs, paneID)
		b.procs[name] = pr
	}
}

func (b *Backend) HasSession(name string) (bool, error) {
	b.mu.Lock()
	pr, ok := b.procs[name]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	return pr.alive(), nil
}

// ringBuffer is a bounded append-only buffer, keeping the most recent
// writes when it exceeds its limit.
type ringBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func newRingBuffer(limit int) *ringBuffer {
	return &ringBuffer{limit: limit}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if over := r.buf.Len() - r.limit; over > 0 {
		r.buf.Next(over)
	}
	return len(p), nil
}

func (r *ringBuffer) tail(lines int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.buf.String()
	if lines <= 0 {
		return all
	}
	idx := len(all)
	for n := 0; n < lines; n++ {
		prev := bytes.LastIndexByte([]byte(all[:idx]), '\n')
		if prev < 0 {
			return all
		}
		idx = prev
	}
	return all[idx+1:]
}
