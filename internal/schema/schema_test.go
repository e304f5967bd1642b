package schema

import (
	"path/filepath"
	"testing"
)

func TestModuleRoot_FindsGoModFromNestedDir(t *testing.T) {
	root, err := ModuleRoot()
	if err != nil {
		t.Fatalf("ModuleRoot: %v", err)
	}
	if filepath.Base(root) == "" {
		t.Errorf("ModuleRoot returned empty base: %q", root)
	}
}

func TestWriteAll_WritesEnvelopeAndPayloadSchemas(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteAll(dir)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(written) != 4 {
		t.Fatalf("written = %v, want 4 files (envelope + spawn + send + result)", written)
	}
}
