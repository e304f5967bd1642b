// Package doctor provides system health diagnostics for a buswright
// daemon root (spec.md §8). It defines a Check interface and runner
// that executes checks with streaming output, optional --fix support,
// and a summary report. Grounded on the teacher's internal/doctor
// package; the runner (doctor.go) is unchanged, only the checks and
// context are domain-specific.
package doctor

// CheckStatus represents the outcome of a health check.
type CheckStatus int

const (
	// StatusOK means the check passed.
	StatusOK CheckStatus = iota
	// StatusWarning means the check found a non-critical issue.
	StatusWarning
	// StatusError means the check found a critical problem.
	StatusError
)

// Check is a single diagnostic check. Implementations are registered with
// a Doctor and executed sequentially during Run.
type Check interface {
	// Name returns a short, unique identifier for this check (e.g. "git-present").
	Name() string
	// Run executes the check and returns a result.
	Run(ctx *CheckContext) *CheckResult
	// CanFix reports whether this check supports automatic remediation.
	CanFix() bool
	// Fix attempts to automatically remediate the issue found by Run.
	// Only called when CanFix returns true and Run returned a non-OK status.
	Fix(ctx *CheckContext) error
}

// CheckContext carries shared state for all checks during a doctor run.
type CheckContext struct {
	// RootPath is the absolute path to the daemon root directory
	// (daemonconfig.Config.Root).
	RootPath string
	// PaneBackend names the configured backend binary to probe for
	// ("tmux", "subprocess", "k8s").
	PaneBackend string
	// Verbose enables extra diagnostic output in check results.
	Verbose bool
}

// CheckResult holds the outcome of a single check execution.
type CheckResult struct {
	// Name identifies which check produced this result.
	Name string
	// Status is the outcome: OK, Warning, or Error.
	Status CheckStatus
	// Message is a human-readable summary of the result.
	Message string
	// Details holds extra lines shown only in verbose mode.
	Details []string
	// FixHint is a suggestion shown when the check did not pass and was
	// not fixed by --fix.
	FixHint string
	// Fixed is true when --fix successfully remediated the issue.
	Fixed bool
}
