package envelope

import (
	"bytes"
	"encoding/json"
)

// marshalNoEscape pretty-prints v as JSON without HTML-escaping (so '<',
// '>', '&' in goals, messages, or quoted text survive byte-for-byte) and
// without a trailing newline inserted by json.Encoder.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}
