// Package schema generates JSON Schema documents for the wire types a
// third party (an editor extension, a validating proxy, another
// language's client) needs in order to speak the mailbox protocol
// without importing this module.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/ai-app-studio/buswright/internal/envelope"
)

// ModuleRoot finds the repo root by walking up from the current
// directory looking for go.mod. Returns the absolute path.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("schema: getting working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("schema: go.mod not found in any parent of %s", dir)
		}
		dir = parent
	}
}

// newReflector builds a jsonschema.Reflector with Go doc comments
// attached as field descriptions. AddGoComments needs CWD at module
// root to resolve import paths correctly, so this temporarily chdirs
// there and restores the original CWD before returning.
func newReflector() (*jsonschema.Reflector, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}

	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("schema: getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("schema: chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{}
	if err := r.AddGoComments("github.com/ai-app-studio/buswright", "."); err != nil {
		return nil, fmt.Errorf("schema: extracting Go comments: %w", err)
	}
	return r, nil
}

// GenerateEnvelopeSchema produces the JSON Schema for the top-level
// envelope every mailbox file is validated against.
func GenerateEnvelopeSchema() (*jsonschema.Schema, error) {
	r, err := newReflector()
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&envelope.Envelope{})
	s.Title = "Buswright Envelope"
	s.Description = "Schema for a single mailbox envelope file."
	return s, nil
}

// GeneratePayloadSchemas produces one schema per known envelope data
// payload type, keyed by envelope type name.
func GeneratePayloadSchemas() (map[string]*jsonschema.Schema, error) {
	r, err := newReflector()
	if err != nil {
		return nil, err
	}
	out := map[string]*jsonschema.Schema{
		"spawn":  r.Reflect(&envelope.SpawnData{}),
		"send":   r.Reflect(&envelope.SendData{}),
		"result": r.Reflect(&envelope.ResultData{}),
	}
	out["spawn"].Description = "Data payload of a spawn envelope."
	out["send"].Description = "Data payload of a send/instruct envelope."
	out["result"].Description = "Data payload of a result envelope."
	return out, nil
}

// WriteAll writes the envelope schema and every payload schema under
// dir, using the atomic temp-then-rename discipline the rest of this
// module uses for on-disk writes.
func WriteAll(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("schema: creating %s: %w", dir, err)
	}

	envSchema, err := GenerateEnvelopeSchema()
	if err != nil {
		return nil, err
	}
	payloads, err := GeneratePayloadSchemas()
	if err != nil {
		return nil, err
	}

	var written []string
	envPath := filepath.Join(dir, "envelope.schema.json")
	if err := writeSchema(envPath, envSchema); err != nil {
		return written, err
	}
	written = append(written, envPath)

	for name, s := range payloads {
		path := filepath.Join(dir, name+".schema.json")
		if err := writeSchema(path, s); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeSchema(path string, s *jsonschema.Schema) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("schema: marshaling %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".genschema-*")
	if err != nil {
		return fmt.Errorf("schema: creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("schema: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("schema: closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("schema: renaming %s: %w", path, err)
	}
	return nil
}
