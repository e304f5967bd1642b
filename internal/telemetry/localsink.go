package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// localSink is the fallback logs/telemetry.jsonl writer used when no
// OTLP endpoint (metrics or logs) is configured (spec.md §3). emit()
// writes to it and to the OTel log pipeline, which is then a no-op.
var (
	localSinkMu sync.Mutex
	localSink   *os.File
)

// localSinkEvent is one line of logs/telemetry.jsonl.
type localSinkEvent struct {
	Seq     int64             `json:"seq"`
	Type    string            `json:"type"`
	TS      string            `json:"ts"`
	UnitID  string            `json:"unit_id,omitempty"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

var localSinkSeq int64

// setLocalSink opens (creating parent directories as needed) path for
// append and installs it as the active local sink. Returns a close
// func that clears and closes it.
func setLocalSink(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	localSinkMu.Lock()
	localSink = f
	localSinkMu.Unlock()

	return func() error {
		localSinkMu.Lock()
		defer localSinkMu.Unlock()
		if localSink == nil {
			return nil
		}
		err := localSink.Close()
		localSink = nil
		return err
	}, nil
}

// clearLocalSink disables the local sink without closing an
// externally-owned file — used when Init switches to real OTLP
// exporters instead.
func clearLocalSink() {
	localSinkMu.Lock()
	localSink = nil
	localSinkMu.Unlock()
}

// writeLocalSink appends one event line if a local sink is active.
// Failures are silently dropped: the local sink is a convenience
// fallback, not a durability guarantee, and emit() must never block
// or panic the daemon over a logging write.
func writeLocalSink(typ, unitID, message string, attrs map[string]string) {
	localSinkMu.Lock()
	f := localSink
	localSinkMu.Unlock()
	if f == nil {
		return
	}

	localSinkSeq++
	line, err := json.Marshal(localSinkEvent{
		Seq:     localSinkSeq,
		Type:    typ,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		UnitID:  unitID,
		Message: message,
		Attrs:   attrs,
	})
	if err != nil {
		return
	}
	line = append(line, '\n')

	localSinkMu.Lock()
	defer localSinkMu.Unlock()
	if localSink != nil {
		_, _ = localSink.Write(line)
	}
}
