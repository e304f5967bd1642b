package telemetry

import (
	"os"
	"strings"
)

// buildUnitResourceAttrs builds the OTEL_RESOURCE_ATTRIBUTES value from
// unit context vars present in the current process environment.
// Returns "" when no buswright vars are found.
func buildUnitResourceAttrs() string {
	var attrs []string
	if v := os.Getenv("TASK_ID"); v != "" {
		attrs = append(attrs, "buswright.unit="+v)
	}
	if v := os.Getenv("PARENT_UNIT_ID"); v != "" {
		attrs = append(attrs, "buswright.parent="+v)
	}
	if v := os.Getenv("BUSCTL_ROOT"); v != "" {
		attrs = append(attrs, "buswright.root="+v)
	}
	return strings.Join(attrs, ",")
}

// SetProcessOTELAttrs sets OTEL-related variables in the current
// process environment so every agent subprocess the spawn actuator
// launches inherits them automatically — no per-call injection needed.
//
// Sets:
//   - OTEL_RESOURCE_ATTRIBUTES — unit context labels (buswright.unit, .parent, .root)
//   - OTEL_EXPORTER_OTLP_METRICS_ENDPOINT / _LOGS_ENDPOINT — mirror the daemon's own endpoints
//   - CLAUDE_CODE_ENABLE_TELEMETRY=1 — enables the agent CLI's own telemetry
//
// No-op when BUSWRIGHT_OTEL_METRICS_URL is not set.
func SetProcessOTELAttrs() {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return
	}
	if attrs := buildUnitResourceAttrs(); attrs != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", attrs)
	}
	_ = os.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", metricsURL)
	if logsURL := os.Getenv(EnvLogsURL); logsURL != "" {
		_ = os.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", logsURL)
	}
	_ = os.Setenv("CLAUDE_CODE_ENABLE_TELEMETRY", "1")
}

// OTELEnvForSubprocess returns OTEL environment variables to inject
// into an agent subprocess when cmd.Env is built explicitly
// (overriding os.Environ). Complements SetProcessOTELAttrs for callers
// that construct cmd.Env manually so the vars aren't lost when the
// explicit env slice is built from scratch.
//
// Returns nil when telemetry is not active (BUSWRIGHT_OTEL_METRICS_URL
// not set).
func OTELEnvForSubprocess() []string {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return nil
	}
	var env []string
	if attrs := buildUnitResourceAttrs(); attrs != "" {
		env = append(env, "OTEL_RESOURCE_ATTRIBUTES="+attrs)
	}
	env = append(env, "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT="+metricsURL)
	if logsURL := os.Getenv(EnvLogsURL); logsURL != "" {
		env = append(env, "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT="+logsURL)
	}
	env = append(env, "CLAUDE_CODE_ENABLE_TELEMETRY=1")
	return env
}

// OTELEnvMap returns the same variables as OTELEnvForSubprocess, keyed
// by name, for spawner.buildEnv's map-overlay style. Returns nil when
// telemetry is not active.
func OTELEnvMap() map[string]string {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return nil
	}
	m := map[string]string{
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT": metricsURL,
		"CLAUDE_CODE_ENABLE_TELEMETRY":        "1",
	}
	if attrs := buildUnitResourceAttrs(); attrs != "" {
		m["OTEL_RESOURCE_ATTRIBUTES"] = attrs
	}
	if logsURL := os.Getenv(EnvLogsURL); logsURL != "" {
		m["OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"] = logsURL
	}
	return m
}
