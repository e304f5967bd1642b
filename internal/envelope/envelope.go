// Package envelope defines the message envelope exchanged between agents
// and the orchestrator daemon over the file-system mailbox (see the
// mailbox package). An envelope is a single JSON object: construction,
// validation, and ID generation all live here; delivery mechanics
// (atomic write, ordered read, delete-on-success) live in mailbox.
package envelope

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type enumerates the envelope kinds the daemon dispatches on.
type Type string

const (
	TypeSpawn    Type = "spawn"
	TypeSend     Type = "send"
	TypeInstruct Type = "instruct"
	TypeLog      Type = "log"
	TypeResult   Type = "result"
	TypeError    Type = "error"
	TypePost     Type = "post"
)

func (t Type) valid() bool {
	switch t {
	case TypeSpawn, TypeSend, TypeInstruct, TypeLog, TypeResult, TypeError, TypePost:
		return true
	}
	return false
}

// Recipient special-cases.
const (
	RecipientBus  = "bus"
	RecipientRoot = "root"
	// RecipientPMAI is a legacy synonym for RecipientRoot — both name the
	// unit whose pane is index 0. See spec Open Question 3.
	RecipientPMAI = "pmai"
)

// Envelope is the wire format for every message on the bus. Fields are
// exported in on-disk field order so pretty-printed JSON reads the same
// way every time a file is regenerated.
type Envelope struct {
	ID     string          `json:"id"`
	TS     int64           `json:"ts"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Type   Type            `json:"type"`
	TaskID string          `json:"task_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// SpawnData is the data payload of a spawn envelope. All fields are
// optional except that Env, when present, must be an object — the zero
// value (nil map) satisfies that trivially.
type SpawnData struct {
	CWD    string            `json:"cwd,omitempty"`
	Frame  string            `json:"frame,omitempty"`
	Goal   string            `json:"goal,omitempty"`
	Branch string            `json:"branch,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
}

// SendData is the data payload of a send/instruct envelope. Callers may
// also pass an arbitrary JSON object instead of {text: ...}; the send
// handler falls back to the raw JSON of the whole Data value whenever
// Text is empty.
type SendData struct {
	Text string `json:"text,omitempty"`
}

// ResultData is the data payload of a result envelope. IsError is
// mandatory; the codec rejects a result envelope that omits it.
type ResultData struct {
	IsError bool   `json:"is_error"`
	Summary string `json:"summary,omitempty"`
	Message string `json:"message,omitempty"`
}

// idTagLen is the length in bytes of the random hex tag appended to the
// timestamp prefix, producing a 12-character lowercase-hex string.
const idTagLen = 6

// New constructs a fully-populated envelope. The caller supplies from, to,
// type, an optional task ID (pass "" when not applicable), and a payload
// that is JSON-marshaled into Data. now is injected so callers (and tests)
// control the timestamp rather than relying on a hidden clock.
func New(now time.Time, from, to string, typ Type, taskID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshaling payload: %w", err)
	}
	id, err := NewID(now)
	if err != nil {
		return nil, fmt.Errorf("envelope: generating id: %w", err)
	}
	e := &Envelope{
		ID:     id,
		TS:     now.UnixMilli(),
		From:   from,
		To:     to,
		Type:   typ,
		TaskID: taskID,
		Data:   data,
	}
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// NewID returns a lexicographically sortable ID: a fixed-width timestamp
// ("20060102T150405.000Z") followed by a 12-character lowercase-hex random
// tag. Sorting IDs as strings reproduces send-time order modulo the random
// tag, which is exactly the ordering guarantee the mailbox poller relies on.
func NewID(now time.Time) (string, error) {
	tag := make([]byte, idTagLen)
	if _, err := rand.Read(tag); err != nil {
		return "", fmt.Errorf("reading random tag: %w", err)
	}
	ts := now.UTC().Format("20060102T150405.000Z")
	return ts + "-" + hex.EncodeToString(tag), nil
}

// Validate checks the required-field invariants from the spec: the six
// core fields, a known Type, task_id on spawn envelopes, and is_error on
// result envelopes. Validation failures are rejected outright — neither
// the poster nor the daemon quarantine a malformed envelope.
func Validate(e *Envelope) error {
	if e.ID == "" {
		return fmt.Errorf("envelope: missing id")
	}
	if e.TS == 0 {
		return fmt.Errorf("envelope: missing ts")
	}
	if e.From == "" {
		return fmt.Errorf("envelope: missing from")
	}
	if e.To == "" {
		return fmt.Errorf("envelope: missing to")
	}
	if !e.Type.valid() {
		return fmt.Errorf("envelope: unknown type %q", e.Type)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope: missing data")
	}
	if e.Type == TypeSpawn && e.TaskID == "" {
		return fmt.Errorf("envelope: spawn requires task_id")
	}
	if e.Type == TypeResult {
		var rd struct {
			IsError *bool `json:"is_error"`
		}
		if err := json.Unmarshal(e.Data, &rd); err != nil {
			return fmt.Errorf("envelope: result data: %w", err)
		}
		if rd.IsError == nil {
			return fmt.Errorf("envelope: result requires data.is_error")
		}
	}
	return nil
}

// Decode parses and validates raw JSON bytes into an Envelope. This is the
// single entry point both the daemon's poller and any offline tooling
// should use to read an envelope file, so validation is never skipped.
func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("envelope: decoding: %w", err)
	}
	if err := Validate(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Encode serializes an envelope as pretty-printed JSON with no HTML
// escaping, matching the on-disk format required by the mailbox writer
// (non-ASCII text in goals/messages must survive byte-for-byte).
func Encode(e *Envelope) ([]byte, error) {
	var buf []byte
	enc, err := marshalNoEscape(e)
	if err != nil {
		return nil, err
	}
	buf = enc
	return buf, nil
}

// RecipientDir maps an address to its mailbox directory name by replacing
// the address separator: "impl:T001" → "impl-T001". Bare names (no ":")
// pass through unchanged, as do the special recipients "bus" and "pmai".
func RecipientDir(addr string) string {
	out := make([]rune, 0, len(addr))
	for _, r := range addr {
		if r == ':' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
