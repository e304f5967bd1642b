package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalSink_WritesOnRecord(t *testing.T) {
	resetInstruments(t)
	t.Cleanup(clearLocalSink)

	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "telemetry.jsonl")

	closeSink, err := setLocalSink(path)
	if err != nil {
		t.Fatalf("setLocalSink: %v", err)
	}
	t.Cleanup(func() { _ = closeSink() })

	SpawnStarted(context.Background(), "impl-T001", "root")
	SpawnSucceeded(context.Background(), "impl-T001")

	if err := closeSink(); err != nil {
		t.Fatalf("closeSink: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening sink file: %v", err)
	}
	defer f.Close()

	var lines []localSinkEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev localSinkEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshaling line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, ev)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Type != "spawn.started" || lines[0].UnitID != "impl-T001" {
		t.Errorf("line 0 = %+v, want type spawn.started unit_id impl-T001", lines[0])
	}
	if lines[1].Type != "spawn.succeeded" {
		t.Errorf("line 1 = %+v, want type spawn.succeeded", lines[1])
	}
}

func TestLocalSink_NoopWithoutSink(t *testing.T) {
	resetInstruments(t)
	clearLocalSink()

	// Must not panic when no sink is active.
	SpawnStarted(context.Background(), "impl-T002", "root")
}
