// Package daemonconfig loads the daemon's optional buswright.toml file
// and applies environment variable overrides, grounded on the teacher's
// internal/config TOML loading pattern (config.Load/config.Parse).
package daemonconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ai-app-studio/buswright/internal/fsys"
	"github.com/ai-app-studio/buswright/internal/telemetry"
)

// FileName is the config file the daemon looks for while walking up
// from the working directory.
const FileName = "buswright.toml"

// Defaults mirror SPEC_FULL.md §3's "Daemon config" additions.
const (
	DefaultMuxSession     = "cc"
	DefaultPollIntervalMs = 500
	DefaultWarmupSeconds  = 5
	DefaultPaneBackend    = "tmux"
)

// OTel holds the optional OpenTelemetry exporter endpoints.
type OTel struct {
	MetricsURL string `toml:"metrics_url,omitempty"`
	LogsURL    string `toml:"logs_url,omitempty"`
}

// Config is the parsed form of buswright.toml, merged with environment
// variable overrides.
type Config struct {
	Root           string `toml:"root,omitempty"`
	MuxSession     string `toml:"mux_session,omitempty"`
	AgentCmd       string `toml:"agent_cmd,omitempty"`
	PollIntervalMs int    `toml:"poll_interval_ms,omitempty"`
	WarmupSeconds  int    `toml:"warmup_seconds,omitempty"`
	PaneBackend    string `toml:"pane_backend,omitempty"`
	OTel           OTel   `toml:"otel,omitempty"`
}

// applyDefaults fills zero-valued fields with the documented defaults.
func (c *Config) applyDefaults() {
	if c.MuxSession == "" {
		c.MuxSession = DefaultMuxSession
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.WarmupSeconds == 0 {
		c.WarmupSeconds = DefaultWarmupSeconds
	}
	if c.PaneBackend == "" {
		c.PaneBackend = DefaultPaneBackend
	}
}

// applyEnv overlays the documented environment variable overrides.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("BUSWRIGHT_ROOT"); v != "" {
		c.Root = v
	}
	if v := getenv("BUSWRIGHT_MUX_SESSION"); v != "" {
		c.MuxSession = v
	}
	if v := getenv("BUSWRIGHT_AGENT_CMD"); v != "" {
		c.AgentCmd = v
	}
	if v := getenv("BUSWRIGHT_PANE_BACKEND"); v != "" {
		c.PaneBackend = v
	}
	if v := getenv(telemetry.EnvMetricsURL); v != "" {
		c.OTel.MetricsURL = v
	}
	if v := getenv(telemetry.EnvLogsURL); v != "" {
		c.OTel.LogsURL = v
	}
}

// Parse decodes TOML data into a Config, then applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("daemonconfig: parsing: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads buswright.toml at path via fs. A missing file yields a
// default Config, not an error — the file is optional.
func Load(fs fsys.FS, path string) (*Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("daemonconfig: loading %q: %w", path, err)
	}
	return Parse(data)
}

// Resolve implements the full root-resolution chain: an explicit
// rootFlag, then BUSWRIGHT_ROOT, then a root set in buswright.toml
// (found by walking up from cwd), then "<cwd>/.ai-app-studio". Whatever
// buswright.toml is found (if any) is loaded and merged with
// environment overrides.
func Resolve(fs fsys.FS, rootFlag, cwd string) (*Config, error) {
	cfg := &Config{}

	if configPath := findConfigFile(cwd); configPath != "" {
		loaded, err := Load(fs, configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg.applyDefaults()
	}

	cfg.applyEnv(os.Getenv)

	switch {
	case rootFlag != "":
		cfg.Root = rootFlag
	case os.Getenv("BUSWRIGHT_ROOT") != "":
		cfg.Root = os.Getenv("BUSWRIGHT_ROOT")
	case cfg.Root != "":
		// keep the file-provided root
	default:
		cfg.Root = filepath.Join(cwd, ".ai-app-studio")
	}

	return cfg, nil
}

// findConfigFile walks up from dir looking for FileName, stopping at
// the filesystem root. Returns "" if none is found.
func findConfigFile(dir string) string {
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
