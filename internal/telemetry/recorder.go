// Package telemetry — recorder.go
// Recording helpers for the daemon's lifecycle events (spec.md
// §4.11-A). Each function increments a metric counter/histogram, and
// every one except PollCycle also emits an OTel log event. Grounded on the teacher's recorder.go,
// generalized from Claude-Code-agent-lifecycle events to buswright's
// own spawn/pane/poll/envelope lifecycle.
package telemetry

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/ai-app-studio/buswright"
	loggerName        = "buswright"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	spawnStartedTotal     metric.Int64Counter
	spawnFailedTotal      metric.Int64Counter
	spawnSucceededTotal   metric.Int64Counter
	paneAllocatedTotal    metric.Int64Counter
	envelopeRejectedTotal metric.Int64Counter

	pollCycleHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Called lazily on first use, and reset
// by telemetry.Init so instruments re-attach to a freshly installed
// provider.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.spawnStartedTotal, _ = m.Int64Counter("buswright.spawn.started.total",
			metric.WithDescription("Total spawn envelopes accepted by the actuator"),
		)
		inst.spawnFailedTotal, _ = m.Int64Counter("buswright.spawn.failed.total",
			metric.WithDescription("Total spawn attempts that failed before committing"),
		)
		inst.spawnSucceededTotal, _ = m.Int64Counter("buswright.spawn.succeeded.total",
			metric.WithDescription("Total spawns that reached a running unit"),
		)
		inst.paneAllocatedTotal, _ = m.Int64Counter("buswright.pane.allocated.total",
			metric.WithDescription("Total panes allocated via the layout manager"),
		)
		inst.envelopeRejectedTotal, _ = m.Int64Counter("buswright.envelope.rejected.total",
			metric.WithDescription("Total envelopes rejected by validation or dispatch"),
		)

		inst.pollCycleHist, _ = m.Float64Histogram("buswright.poll.cycle_ms",
			metric.WithDescription("Mailbox poll cycle duration in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value
// attributes, and mirrors it to the local JSONL sink (logs/telemetry.jsonl)
// when one is active. Init opens that sink only when neither OTLP
// endpoint is configured and clears it otherwise, so a deployment that
// sets otel.metrics_url but not otel.logs_url gets no lifecycle events
// on disk.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)

	m := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsString()
	}
	writeLocalSink(body, m["unit"], body, m)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// truncateOutput trims s to max bytes and appends "…" when truncated.
// Avoids splitting multi-byte UTF-8 characters at the boundary.
func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	truncated := s[:limit]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "…"
}

// SpawnStarted records that a spawn envelope was accepted for processing.
func SpawnStarted(ctx context.Context, unitID, parentID string) {
	initInstruments()
	inst.spawnStartedTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("unit", unitID),
			attribute.String("parent", parentID),
		),
	)
	emit(ctx, "spawn.started", otellog.SeverityInfo,
		otellog.String("unit", unitID),
		otellog.String("parent", parentID),
	)
}

// SpawnFailed records a spawn that failed before committing (steps 1-4).
func SpawnFailed(ctx context.Context, unitID string, err error) {
	initInstruments()
	inst.spawnFailedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("unit", unitID)),
	)
	emit(ctx, "spawn.failed", otellog.SeverityError,
		otellog.String("unit", unitID),
		errKV(err),
	)
}

// SpawnSucceeded records a spawn that reached a running unit.
func SpawnSucceeded(ctx context.Context, unitID string) {
	initInstruments()
	inst.spawnSucceededTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("unit", unitID)),
	)
	emit(ctx, "spawn.succeeded", otellog.SeverityInfo,
		otellog.String("unit", unitID),
	)
}

// PaneAllocated records a successful pane allocation for a unit.
func PaneAllocated(ctx context.Context, unitID, paneID string) {
	initInstruments()
	inst.paneAllocatedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("unit", unitID)),
	)
	emit(ctx, "pane.allocated", otellog.SeverityInfo,
		otellog.String("unit", unitID),
		otellog.String("pane_id", paneID),
	)
}

// PollCycle records one full mailbox poll pass and its duration.
func PollCycle(ctx context.Context, durationMs float64, entriesHandled int) {
	initInstruments()
	inst.pollCycleHist.Record(ctx, durationMs,
		metric.WithAttributes(attribute.Int("entries_handled", entriesHandled)),
	)
}

// EnvelopeRejected records an envelope that was dropped by validation
// or dispatch, with reason naming why (e.g. "malformed", "unknown_type").
func EnvelopeRejected(ctx context.Context, reason string) {
	initInstruments()
	inst.envelopeRejectedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	emit(ctx, "envelope.rejected", otellog.SeverityWarn,
		otellog.String("reason", reason),
	)
}
