// Package telemetry wires the daemon's OTel metric and log providers
// (spec.md §4.11-A): when otel.metrics_url/otel.logs_url are configured,
// it installs real OTLP HTTP exporters; otherwise it installs a no-op
// provider so recorder calls remain cheap and side-effect-free in tests
// and offline runs. Grounded on the teacher's internal/telemetry
// package, generalized from Claude-Code-agent-lifecycle events to the
// daemon's own spawn/pane/poll lifecycle.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Environment variable names consulted when a config value was not
// supplied explicitly (daemonconfig env-override convention).
const (
	EnvMetricsURL = "BUSWRIGHT_OTEL_METRICS_URL"
	EnvLogsURL    = "BUSWRIGHT_OTEL_LOGS_URL"
)

// Options configures Init.
type Options struct {
	MetricsURL string
	LogsURL    string

	// RootDir, when set, is the daemon root under which a local
	// logs/telemetry.jsonl fallback sink is opened whenever no OTLP
	// endpoint is configured, so lifecycle events stay observable
	// without a collector running.
	RootDir string
}

// Shutdown flushes and stops any real exporters Init installed. Calling
// it on a no-op installation is always safe.
type Shutdown func(context.Context) error

// Init installs the global MeterProvider and LoggerProvider. With both
// URLs empty it installs no-op providers and, if opts.RootDir is set,
// a local JSONL sink (see setLocalSink) — every Record* call still
// works, it just has nowhere to send OTel data, which is exactly what
// a test or an operator running without an observability backend
// needs.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	if opts.MetricsURL == "" {
		opts.MetricsURL = os.Getenv(EnvMetricsURL)
	}
	if opts.LogsURL == "" {
		opts.LogsURL = os.Getenv(EnvLogsURL)
	}

	if opts.MetricsURL == "" && opts.LogsURL == "" {
		otel.SetMeterProvider(noopmetric.NewMeterProvider())
		global.SetLoggerProvider(noop.NewLoggerProvider())
		instOnce = sync.Once{}

		closeSink := func() error { return nil }
		if opts.RootDir != "" {
			var err error
			closeSink, err = setLocalSink(filepath.Join(opts.RootDir, "logs", "telemetry.jsonl"))
			if err != nil {
				return nil, fmt.Errorf("telemetry: opening local sink: %w", err)
			}
		}
		return func(context.Context) error { return closeSink() }, nil
	}

	clearLocalSink()

	var shutdowns []Shutdown

	if opts.MetricsURL != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(opts.MetricsURL))
		if err != nil {
			return nil, fmt.Errorf("telemetry: building metrics exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))))
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	} else {
		otel.SetMeterProvider(noopmetric.NewMeterProvider())
	}

	if opts.LogsURL != "" {
		exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(opts.LogsURL))
		if err != nil {
			return nil, fmt.Errorf("telemetry: building logs exporter: %w", err)
		}
		lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)))
		global.SetLoggerProvider(lp)
		shutdowns = append(shutdowns, lp.Shutdown)
	} else {
		global.SetLoggerProvider(noop.NewLoggerProvider())
	}

	instOnce = sync.Once{} // force re-init against the freshly installed provider
	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}
