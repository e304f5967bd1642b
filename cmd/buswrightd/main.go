// Command buswrightd is the orchestration daemon (spec.md §4): it polls
// the mailbox tree, spawns and tears down unit panes, and keeps the
// registry and journal in sync with what crosses the bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-app-studio/buswright/internal/daemonconfig"
	"github.com/ai-app-studio/buswright/internal/daemonlock"
	"github.com/ai-app-studio/buswright/internal/dispatch"
	"github.com/ai-app-studio/buswright/internal/doctor"
	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/fsys"
	"github.com/ai-app-studio/buswright/internal/journal"
	"github.com/ai-app-studio/buswright/internal/layout"
	"github.com/ai-app-studio/buswright/internal/mailbox"
	"github.com/ai-app-studio/buswright/internal/mboxwatch"
	"github.com/ai-app-studio/buswright/internal/paneops"
	"github.com/ai-app-studio/buswright/internal/paneops/k8sbackend"
	"github.com/ai-app-studio/buswright/internal/paneops/subprocess"
	"github.com/ai-app-studio/buswright/internal/paneops/tmux"
	"github.com/ai-app-studio/buswright/internal/registry"
	"github.com/ai-app-studio/buswright/internal/schema"
	"github.com/ai-app-studio/buswright/internal/spawner"
	"github.com/ai-app-studio/buswright/internal/telemetry"
	"github.com/ai-app-studio/buswright/internal/workspace"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is a sentinel returned from RunE to signal a non-zero exit
// after the command already printed its own error to stderr.
var errExit = errors.New("exit")

// rootFlag holds --root. Empty defers to daemonconfig.Resolve's chain.
var rootFlag string

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "buswrightd",
		Short:         "buswrightd — the buswright orchestration daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&rootFlag, "root", "", "daemon root directory (default: resolved from buswright.toml or ./.ai-app-studio)")
	root.AddCommand(
		newStartCmd(stdout, stderr),
		newStopCmd(stdout, stderr),
		newDoctorCmd(stdout, stderr),
		newGenschemaCmd(stdout, stderr),
	)
	return root
}

func loadConfig() (*daemonconfig.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return daemonconfig.Resolve(fsys.OSFS{}, rootFlag, cwd)
}

func newStartCmd(stdout, stderr io.Writer) *cobra.Command {
	var targetRepo string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(stderr, "buswrightd start: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			if targetRepo == "" {
				targetRepo, err = os.Getwd()
				if err != nil {
					fmt.Fprintf(stderr, "buswrightd start: %v\n", err) //nolint:errcheck // best-effort stderr
					return errExit
				}
			}
			if runDaemon(cfg, targetRepo, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&targetRepo, "target-repo", "", "repository the root unit works in (default: cwd)")
	return cmd
}

func newStopCmd(_, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(stderr, "buswrightd stop: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			conn, err := net.Dial("unix", filepath.Join(cfg.Root, daemonlock.SockFileName))
			if err != nil {
				fmt.Fprintf(stderr, "buswrightd stop: %v (is the daemon running?)\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			defer conn.Close()
			if _, err := conn.Write([]byte("stop\n")); err != nil {
				fmt.Fprintf(stderr, "buswrightd stop: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			return nil
		},
	}
}

func newDoctorCmd(stdout, stderr io.Writer) *cobra.Command {
	var fix, verbose bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check daemon root health",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(stderr, "buswrightd doctor: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			d := &doctor.Doctor{}
			for _, c := range doctor.DefaultChecks() {
				d.Register(c)
			}
			ctx := &doctor.CheckContext{RootPath: cfg.Root, PaneBackend: cfg.PaneBackend, Verbose: verbose}
			report := d.Run(ctx, stdout, fix)
			doctor.PrintSummary(stdout, report)
			if report.Failed > 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "attempt to fix issues automatically")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show extra diagnostic details")
	return cmd
}

func newGenschemaCmd(stdout, stderr io.Writer) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "genschema",
		Short: "Write envelope JSON Schemas to a directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if outDir == "" {
				root, err := schema.ModuleRoot()
				if err != nil {
					fmt.Fprintf(stderr, "buswrightd genschema: %v\n", err) //nolint:errcheck // best-effort stderr
					return errExit
				}
				outDir = filepath.Join(root, "schema")
			}
			written, err := schema.WriteAll(outDir)
			if err != nil {
				fmt.Fprintf(stderr, "buswrightd genschema: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			for _, p := range written {
				fmt.Fprintln(stdout, p) //nolint:errcheck // best-effort stdout
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: <module root>/schema)")
	return cmd
}

// newBackend selects the pane backend named by cfg.PaneBackend.
func newBackend(cfg *daemonconfig.Config) (paneops.Backend, error) {
	switch cfg.PaneBackend {
	case "", "tmux":
		return tmux.NewBackend(cfg.MuxSession), nil
	case "subprocess":
		return subprocess.NewBackend(), nil
	case "k8s":
		return k8sbackend.NewBackend()
	default:
		return nil, fmt.Errorf("unknown pane_backend %q", cfg.PaneBackend)
	}
}

// runDaemon wires every component together and runs the poll loop until
// stopped via the control socket or an interrupt.
func runDaemon(cfg *daemonconfig.Config, targetRepo string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		fmt.Fprintf(stderr, "buswrightd: creating daemon root: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	lock, err := daemonlock.Acquire(cfg.Root)
	if err != nil {
		fmt.Fprintf(stderr, "buswrightd: %v (already running?)\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer lock.Release() //nolint:errcheck // best-effort on shutdown

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{MetricsURL: cfg.OTel.MetricsURL, LogsURL: cfg.OTel.LogsURL, RootDir: cfg.Root})
	if err != nil {
		fmt.Fprintf(stderr, "buswrightd: telemetry init: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer shutdownTelemetry(context.Background()) //nolint:errcheck // best-effort on shutdown

	listener, err := daemonlock.ListenStop(cfg.Root, cancel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "buswrightd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer listener.Close() //nolint:errcheck // best-effort on shutdown

	backend, err := newBackend(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "buswrightd: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	reg, err := registry.Open(fsys.OSFS{}, filepath.Join(cfg.Root, "state"))
	if err != nil {
		fmt.Fprintf(stderr, "buswrightd: opening registry: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	jrn, err := journal.Open(filepath.Join(cfg.Root, "logs", "bus.jsonl"), stderr)
	if err != nil {
		fmt.Fprintf(stderr, "buswrightd: opening journal: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer jrn.Close() //nolint:errcheck // best-effort on shutdown

	mbox := mailbox.New(fsys.OSFS{}, filepath.Join(cfg.Root, "mbox"))
	lm := layout.New(backend)
	mat := workspace.New(targetRepo, stderr)

	spawnerCfg := spawner.Config{
		DaemonRoot: cfg.Root,
		TargetRepo: targetRepo,
		AgentCmd:   cfg.AgentCmd,
		Warmup:     time.Duration(cfg.WarmupSeconds) * time.Second,
	}
	act := spawner.New(spawnerCfg, mat, lm, backend, reg, stderr)
	disp := dispatch.New(mbox, act, lm, backend, reg, jrn, cfg.Root, targetRepo, stderr)

	// Pane 0 (root) must exist before pane 1 (dashboard) can split off it,
	// so the root unit's spawn envelope is processed synchronously here
	// rather than waiting for the first poll tick.
	if err := seedRootSpawn(mbox, targetRepo); err != nil {
		fmt.Fprintf(stderr, "buswrightd: seeding root spawn: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := disp.PollOnce(); err != nil {
		fmt.Fprintf(stderr, "buswrightd: starting root unit: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	if err := lm.InitDashboard(paneops.SessionConfig{WorkDir: cfg.Root, Command: []string{"sh", "-c", "tail -n+1 -f logs/bus.jsonl 2>/dev/null || sh"}}); err != nil {
		fmt.Fprintf(stderr, "buswrightd: starting dashboard pane: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	watcher := mboxwatch.Watch(filepath.Join(cfg.Root, "mbox"), stderr)
	defer watcher.Close() //nolint:errcheck // best-effort on shutdown

	fmt.Fprintf(stdout, "buswrightd: running (root=%s, pane_backend=%s)\n", cfg.Root, cfg.PaneBackend) //nolint:errcheck // best-effort stdout

	// The loop wakes at checkInterval (fine-grained, bounded by the
	// watcher's own debounce window) rather than pollInterval, so a dirty
	// mailbox is never left waiting out the full tick: a poll cycle runs
	// as soon as watcher.Consume() reports true, and the full interval is
	// only the backstop for when fsnotify degrades or stays silent.
	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	checkInterval := pollInterval
	if d := 2 * mboxwatch.DebounceDelay; d < checkInterval {
		checkInterval = d
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	nextPoll := time.Now().Add(pollInterval)
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
			if !watcher.Consume() && time.Now().Before(nextPoll) {
				continue
			}
			if err := disp.PollOnce(); err != nil {
				fmt.Fprintf(stderr, "buswrightd: poll: %v\n", err) //nolint:errcheck // best-effort stderr
			}
			nextPoll = time.Now().Add(pollInterval)
		}
	}
}

// seedRootSpawn delivers the initial spawn envelope for the root unit so
// it goes through the same actuator pipeline — and the same telemetry —
// as every other unit.
func seedRootSpawn(mbox *mailbox.Root, targetRepo string) error {
	data := envelope.SpawnData{Env: map[string]string{"TARGET_REPO": targetRepo}}
	e, err := envelope.New(time.Now(), "buswrightd", envelope.RecipientBus, envelope.TypeSpawn, layout.RootUnit, data)
	if err != nil {
		return err
	}
	return mbox.Deliver(envelope.RecipientBus, e)
}
