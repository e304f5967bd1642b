package paneops

// Teeable is implemented by backends that can pipe a pane's live output
// to a file (spec.md §4.5 step 6). Detected via type assertion, the same
// pattern as the Adopt side-channel — not every backend can do this
// (the subprocess and k8s backends already capture output their own
// way, so they simply don't implement it).
type Teeable interface {
	PipeOutput(name, logPath string) error
}
