// Command buswright is the in-pane poster CLI (spec.md §4.9): agents
// invoke it to spawn children, send instructions to another unit, or
// post a log/result back to the bus.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ai-app-studio/buswright/internal/agent"
	"github.com/ai-app-studio/buswright/internal/daemonconfig"
	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/fsys"
	"github.com/ai-app-studio/buswright/internal/mailbox"
	"github.com/ai-app-studio/buswright/internal/paneops"
	"github.com/ai-app-studio/buswright/internal/paneops/k8sbackend"
	"github.com/ai-app-studio/buswright/internal/paneops/subprocess"
	"github.com/ai-app-studio/buswright/internal/paneops/tmux"
	"github.com/ai-app-studio/buswright/internal/poster"
	"github.com/ai-app-studio/buswright/internal/registry"
	"github.com/ai-app-studio/buswright/internal/unitctx"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

var errExit = errors.New("exit")

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
		Use:           "buswright",
		Short:         "buswright — post spawn/send/log/result envelopes to the bus",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&rootFlag, "root", "", "daemon root directory (default: resolved from buswright.toml or ./.ai-app-studio)")
	root.AddCommand(
		newSpawnCmd(stdout, stderr),
		newSendCmd(stdout, stderr),
		newPostCmd(stdout, stderr),
		newCaptureCmd(stdout, stderr),
	)
	return root
}

// newBackend constructs the pane backend named by cfg.PaneBackend, the
// same switch buswrightd uses so capture addresses panes the same way
// the daemon created them.
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

// newMailbox resolves the daemon root and returns a mailbox rooted at
// its mbox/ subdirectory.
func newMailbox() (*mailbox.Root, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := daemonconfig.Resolve(fsys.OSFS{}, rootFlag, cwd)
	if err != nil {
		return nil, err
	}
	return mailbox.New(fsys.OSFS{}, filepath.Join(cfg.Root, "mbox")), nil
}

func newSpawnCmd(stdout, stderr io.Writer) *cobra.Command {
	var breakdown bool
	var targetRepo string
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Post a spawn envelope for this unit, or for every remaining task in task-breakdown.yml",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			mbox, err := newMailbox()
			if err != nil {
				fmt.Fprintf(stderr, "buswright spawn: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			cwd, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(stderr, "buswright spawn: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			p := poster.New(mbox)
			opts := poster.SpawnOptions{TargetRepo: targetRepo}

			if breakdown {
				envs, err := p.SpawnFromBreakdown(cwd, opts)
				if err != nil {
					fmt.Fprintf(stderr, "buswright spawn: %v\n", err) //nolint:errcheck // best-effort stderr
					return errExit
				}
				for _, e := range envs {
					fmt.Fprintln(stdout, e.TaskID) //nolint:errcheck // best-effort stdout
				}
				return nil
			}

			e, err := p.Spawn(cwd, opts)
			if err != nil {
				fmt.Fprintf(stderr, "buswright spawn: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			fmt.Fprintln(stdout, e.TaskID) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
	cmd.Flags().BoolVar(&breakdown, "breakdown", false, "spawn one child per remaining task-breakdown.yml entry instead of a single default-mode spawn")
	cmd.Flags().StringVar(&targetRepo, "target-repo", "", "repository the root unit should work in (root spawns only)")
	return cmd
}

func newSendCmd(_, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <to> <text>",
		Short: "Send a line of text to another unit's pane",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			mbox, err := newMailbox()
			if err != nil {
				fmt.Fprintf(stderr, "buswright send: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			from, err := resolveSelf()
			if err != nil {
				fmt.Fprintf(stderr, "buswright send: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			p := poster.New(mbox)
			if _, err := p.Send(from, args[0], envelope.TypeSend, envelope.SendData{Text: args[1]}); err != nil {
				fmt.Fprintf(stderr, "buswright send: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			return nil
		},
	}
	return cmd
}

func newPostCmd(_, stderr io.Writer) *cobra.Command {
	var typFlag, taskID string
	cmd := &cobra.Command{
		Use:   "post <json-data>",
		Short: "Post a log/result/error envelope back to the bus",
		Long: `Post an envelope of the given --type (default "log") back to the bus,
addressed to root. A "result" post must include {"is_error": ...} in its
JSON data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			mbox, err := newMailbox()
			if err != nil {
				fmt.Fprintf(stderr, "buswright post: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			from, err := resolveSelf()
			if err != nil {
				fmt.Fprintf(stderr, "buswright post: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			if taskID == "" {
				taskID = from
			}
			if !json.Valid([]byte(args[0])) {
				fmt.Fprintf(stderr, "buswright post: data is not valid JSON\n") //nolint:errcheck // best-effort stderr
				return errExit
			}
			p := poster.New(mbox)
			if _, err := p.Post(from, envelope.Type(typFlag), taskID, json.RawMessage(args[0])); err != nil {
				fmt.Fprintf(stderr, "buswright post: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typFlag, "type", string(envelope.TypeLog), "envelope type: log, result, or error")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id this post concerns (default: this unit's own id)")
	return cmd
}

func newCaptureCmd(stdout, stderr io.Writer) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "capture <unit-id>",
		Short: "Print the last N lines of a unit's pane, by consulting the daemon's pane registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(stderr, "buswright capture: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			cfg, err := daemonconfig.Resolve(fsys.OSFS{}, rootFlag, cwd)
			if err != nil {
				fmt.Fprintf(stderr, "buswright capture: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			reg, err := registry.Open(fsys.OSFS{}, filepath.Join(cfg.Root, "state"))
			if err != nil {
				fmt.Fprintf(stderr, "buswright capture: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			pane, ok := reg.Pane(args[0])
			if !ok {
				fmt.Fprintf(stderr, "buswright capture: no pane recorded for unit %q\n", args[0]) //nolint:errcheck // best-effort stderr
				return errExit
			}
			backend, err := newBackend(cfg)
			if err != nil {
				fmt.Fprintf(stderr, "buswright capture: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			unit := agent.New(args[0], pane.PaneID, backend)
			out, err := unit.Capture(lines)
			if err != nil {
				fmt.Fprintf(stderr, "buswright capture: %v\n", err) //nolint:errcheck // best-effort stderr
				return errExit
			}
			fmt.Fprint(stdout, out) //nolint:errcheck // best-effort stdout
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 200, "number of trailing lines to capture")
	return cmd
}

// resolveSelf derives this unit's identity from the working directory
// via unitctx.Resolve.
func resolveSelf() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	ctx, err := unitctx.Resolve(cwd)
	if err != nil {
		return "", fmt.Errorf("resolving unit context: %w", err)
	}
	return ctx.UnitID, nil
}
