package agent

import "github.com/ai-app-studio/buswright/internal/paneops"

// Call records a method invocation on [Fake].
type Call struct {
	Method string // "IsRunning", "Start", "Stop", "Nudge", or "Capture"
	Text   string // argument, for Nudge
}

// Fake is a test double for [Unit] with spy and configurable errors.
type Fake struct {
	FakeID       string
	FakePaneName string
	Running      bool
	Output       string
	Calls        []Call

	StartErr   error
	StopErr    error
	NudgeErr   error
	CaptureErr error
}

// NewFake returns a ready-to-use [Fake] with the given identity.
func NewFake(id, paneName string) *Fake {
	return &Fake{FakeID: id, FakePaneName: paneName}
}

func (f *Fake) ID() string { return f.FakeID }

func (f *Fake) PaneName() string { return f.FakePaneName }

func (f *Fake) IsRunning() bool {
	f.Calls = append(f.Calls, Call{Method: "IsRunning"})
	return f.Running
}

func (f *Fake) Start(cfg paneops.SessionConfig) error {
	f.Calls = append(f.Calls, Call{Method: "Start"})
	if f.StartErr != nil {
		return f.StartErr
	}
	f.Running = true
	return nil
}

func (f *Fake) Stop() error {
	f.Calls = append(f.Calls, Call{Method: "Stop"})
	if f.StopErr != nil {
		return f.StopErr
	}
	f.Running = false
	return nil
}

func (f *Fake) Nudge(text string) error {
	f.Calls = append(f.Calls, Call{Method: "Nudge", Text: text})
	return f.NudgeErr
}

func (f *Fake) Capture(lines int) (string, error) {
	f.Calls = append(f.Calls, Call{Method: "Capture"})
	if f.CaptureErr != nil {
		return "", f.CaptureErr
	}
	return f.Output, nil
}
