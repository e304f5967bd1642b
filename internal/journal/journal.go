// Package journal implements the daemon's append-only processed-message
// log (bus.jsonl, spec.md §4.8): every envelope the dispatcher's post
// handler processes (log, result, error and post types) is appended
// here; spawn and send/instruct envelopes are not journaled. It is
// independent of the ambient OpenTelemetry
// pipeline in [telemetry]. It exists so an operator (or a later audit)
// can reconstruct exactly what crossed the bus and in what order,
// without needing a tracing backend.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one processed-envelope record.
type Entry struct {
	Seq    uint64    `json:"seq"`
	Ts     time.Time `json:"ts"`
	ID     string    `json:"id"`      // envelope ID
	From   string    `json:"from"`
	To     string    `json:"to"`
	Type   string    `json:"type"`
	TaskID string    `json:"task_id,omitempty"`
}

// Journal appends entries to a JSONL file. It uses O_APPEND for
// cross-process safety and a mutex for in-process serialization.
type Journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	seq    uint64
	stderr io.Writer
}

// Open opens (or creates) the journal at path, scanning any existing
// content to continue the sequence counter monotonically.
func Open(path string, stderr io.Writer) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: creating directory: %w", err)
	}

	var maxSeq uint64
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var e Entry
			if json.Unmarshal(scanner.Bytes(), &e) == nil && e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}
		_ = f.Close()
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", path, err)
	}
	return &Journal{path: path, file: file, seq: maxSeq, stderr: stderr}, nil
}

// Append writes e to the journal, always assigning the next Seq and
// filling in Ts if zero.
// Write failures are logged to stderr and swallowed — the journal is a
// diagnostic aid, never allowed to block message delivery.
func (j *Journal) Append(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	e.Seq = j.seq
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(j.stderr, "journal: marshal: %v\n", err)
		return
	}
	data = append(data, '\n')
	if _, err := j.file.Write(data); err != nil {
		fmt.Fprintf(j.stderr, "journal: write: %v\n", err)
	}
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// ReadAll reads every entry currently in the journal file at path.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: opening %s: %w", path, err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scanning %s: %w", path, err)
	}
	return out, nil
}
