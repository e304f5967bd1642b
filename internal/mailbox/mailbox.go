// Package mailbox implements the atomic, crash-safe delivery mechanics of
// the file-system bus: writing an envelope via tmp-then-rename, and
// listing a recipient's inbox in delivery order. It deliberately knows
// nothing about envelope semantics beyond the filename convention — that
// lives in the envelope package.
package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ai-app-studio/buswright/internal/envelope"
	"github.com/ai-app-studio/buswright/internal/fsys"
)

// tmpPrefix marks a file as not-yet-delivered. Readers must never open
// files with this prefix — the rename from tmpPrefix to its final name is
// the linearization point a concurrent reader relies on.
const tmpPrefix = ".tmp-"

// Root is a mailbox tree rooted at <daemon-root>/mbox.
type Root struct {
	fs   fsys.FS
	path string
}

// New returns a mailbox rooted at dir (normally "<daemon-root>/mbox").
func New(fs fsys.FS, dir string) *Root {
	return &Root{fs: fs, path: dir}
}

// InboxDir returns the inbox directory for a recipient address, applying
// the address→directory-name mapping ("impl:T001" → "impl-T001").
func (r *Root) InboxDir(recipient string) string {
	return filepath.Join(r.path, envelope.RecipientDir(recipient), "in")
}

// Deliver writes e into recipient's inbox via the tmp→rename discipline:
// create the directory if missing, write to ".tmp-<id>.json", then rename
// to "<id>.json". A reader therefore always observes the envelope either
// absent or fully formed, and any number of concurrent writers is safe
// because the random ID tag disambiguates filenames.
func (r *Root) Deliver(recipient string, e *envelope.Envelope) error {
	dir := r.InboxDir(recipient)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mailbox: creating inbox %q: %w", dir, err)
	}
	data, err := envelope.Encode(e)
	if err != nil {
		return fmt.Errorf("mailbox: encoding envelope %s: %w", e.ID, err)
	}
	tmp := filepath.Join(dir, tmpPrefix+e.ID+".json")
	final := filepath.Join(dir, e.ID+".json")
	if err := r.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("mailbox: writing %q: %w", tmp, err)
	}
	if err := r.fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("mailbox: renaming %q to %q: %w", tmp, final, err)
	}
	return nil
}

// Entry is one pending envelope file discovered during a listing.
type Entry struct {
	// Name is the bare filename, e.g. "20260731T101500.000Z-abc123.json".
	Name string
	// Path is the full path to the file, suitable for ReadFile/Remove.
	Path string
}

// ListPending returns the non-tmp envelope files in a recipient's inbox,
// sorted by filename — which, because IDs are timestamp-prefixed, is
// timestamp order. Missing inbox directories yield an empty, nil-error
// result: an inbox is only created lazily on first delivery.
func (r *Root) ListPending(recipient string) ([]Entry, error) {
	dir := r.InboxDir(recipient)
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailbox: reading %q: %w", dir, err)
	}
	var out []Entry
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, Entry{Name: name, Path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListRecipients returns the recipient directory names that currently
// exist under the mailbox root, in lexicographic order. Used by the
// poller's outer loop ("for each directory matching <root>/mbox/*/in").
func (r *Root) ListRecipients() ([]string, error) {
	entries, err := r.fs.ReadDir(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailbox: reading %q: %w", r.path, err)
	}
	var out []string
	for _, de := range entries {
		if de.IsDir() {
			out = append(out, de.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Read loads and decodes one pending envelope.
func (r *Root) Read(entry Entry) (*envelope.Envelope, error) {
	data, err := r.fs.ReadFile(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("mailbox: reading %q: %w", entry.Path, err)
	}
	return envelope.Decode(data)
}

// Delete removes a processed envelope file. Handlers call this only after
// their side effect has been fully applied — see dispatch.Dispatcher.
func (r *Root) Delete(entry Entry) error {
	if err := r.fs.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mailbox: deleting %q: %w", entry.Path, err)
	}
	return nil
}
