package paneops

import (
	"fmt"
	"sync"
)

// Fake is an in-memory [Backend] for testing. It records all calls (spy)
// and simulates pane state (fake). Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	sessions map[string]SessionConfig
	Calls    []Call
	Output   map[string]string // pane name -> canned capture output

	// SplitErr, when set, is returned by every Split call (e.g.
	// ErrNoSpace, to simulate a full layout).
	SplitErr error
	nextPane int

	// PipedTo records the log path PipeOutput was last called with, per
	// pane name.
	PipedTo map[string]string
}

// Call records a single method invocation on [Fake].
type Call struct {
	Method  string // "NewSession", "Kill", "SendKeys", "CapturePane", "PaneID", "Split", "HasSession"
	Name    string
	Text    string
	Literal bool // SendKeys only: the literal flag it was called with
	Mode    SplitMode
}

// NewFake returns a ready-to-use [Fake].
func NewFake() *Fake {
	return &Fake{
		sessions: make(map[string]SessionConfig),
		Output:   make(map[string]string),
		PipedTo:  make(map[string]string),
	}
}

// PipeOutput records logPath for name. Implements [Teeable].
func (f *Fake) PipeOutput(name, logPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[name]; !ok {
		return fmt.Errorf("paneops: %w: %q", ErrSessionNotFound, name)
	}
	f.PipedTo[name] = logPath
	return nil
}

func (f *Fake) NewSession(name string, cfg SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "NewSession", Name: name})
	if _, exists := f.sessions[name]; exists {
		return fmt.Errorf("paneops: session %q already exists", name)
	}
	f.sessions[name] = cfg
	return nil
}

func (f *Fake) Kill(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "Kill", Name: name})
	delete(f.sessions, name)
	return nil
}

func (f *Fake) SendKeys(name, text string, literal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "SendKeys", Name: name, Text: text, Literal: literal})
	if _, ok := f.sessions[name]; !ok {
		return fmt.Errorf("paneops: %w: %q", ErrSessionNotFound, name)
	}
	return nil
}

func (f *Fake) CapturePane(name string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "CapturePane", Name: name})
	if _, ok := f.sessions[name]; !ok {
		return "", fmt.Errorf("paneops: %w: %q", ErrSessionNotFound, name)
	}
	return f.Output[name], nil
}

func (f *Fake) PaneID(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "PaneID", Name: name})
	if _, ok := f.sessions[name]; !ok {
		return "", fmt.Errorf("paneops: %w: %q", ErrSessionNotFound, name)
	}
	return "%" + name, nil
}

func (f *Fake) Split(target string, mode SplitMode, cfg SessionConfig) (string, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Method: "Split", Name: target, Mode: mode})
	if f.SplitErr != nil {
		f.mu.Unlock()
		return "", f.SplitErr
	}
	f.nextPane++
	paneID := fmt.Sprintf("pane-%d", f.nextPane)
	f.mu.Unlock()

	if err := f.NewSession(paneID, cfg); err != nil {
		return "", err
	}
	return paneID, nil
}

// Adopt renames a pane ID returned by Split to the unit name future
// calls will use — mirrors the tmux/subprocess backends' Adopt.
func (f *Fake) Adopt(name, paneID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.sessions[paneID]; ok {
		delete(f.sessions, paneID)
		f.sessions[name] = cfg
	}
}

func (f *Fake) HasSession(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "HasSession", Name: name})
	_, ok := f.sessions[name]
	return ok, nil
}
