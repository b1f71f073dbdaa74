package state

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hrygo/pueued/internal/task"
)

// namedGroup keeps a group's name alongside its record so the JSON snapshot
// preserves insertion order as an array rather than relying on Go's
// unordered map iteration (spec.md §3 "Group" is an "ordered map name→Group").
type namedGroup struct {
	Name  string     `json:"name"`
	Group task.Group `json:"group"`
}

// snapshotState is the exact shape written to state.json (spec.md §3
// "State"): an ordered task list, an ordered group list, and the shutdown
// flag. Children handles never appear here — they are runtime-only.
type snapshotState struct {
	Tasks    []*task.Task  `json:"tasks"`
	Groups   []namedGroup  `json:"groups"`
	Shutdown *ShutdownKind `json:"shutdown,omitempty"`
}

// Save serializes the store to path, optionally gzipped, via a
// write-then-rename so a crash mid-write never corrupts the previous
// snapshot (spec.md §4.B "save", §9 "Atomic snapshot, not journaled writes").
func (s *Store) Save(path string, gzipped bool) error {
	snap := s.snapshot()

	payload, err := json.Marshal(snap)
	if err != nil {
		s.MarkSaveFailed()
		return errors.Wrap(err, "marshal state")
	}

	if gzipped {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			s.MarkSaveFailed()
			return errors.Wrap(err, "gzip state")
		}
		if err := w.Close(); err != nil {
			s.MarkSaveFailed()
			return errors.Wrap(err, "close gzip writer")
		}
		payload = buf.Bytes()
	}

	partial := path + ".partial"
	if err := os.WriteFile(partial, payload, 0o600); err != nil {
		s.MarkSaveFailed()
		return errors.Wrapf(err, "write %q", partial)
	}
	if err := os.Rename(partial, path); err != nil {
		s.MarkSaveFailed()
		return errors.Wrapf(err, "rename %q to %q", partial, path)
	}
	return nil
}

// Restore reads the snapshot at path, applies the crash-recovery rewrites of
// spec.md §4.B, and returns a Store ready to hand to the Supervisor. It is
// not an error for path not to exist yet — a fresh Store is returned.
func Restore(path string, gzipped bool) (*Store, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", path)
	}

	if gzipped {
		r, gzErr := gzip.NewReader(bytes.NewReader(raw))
		if gzErr != nil {
			return nil, errors.Wrap(gzErr, "open gzip state")
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "decompress state")
		}
	}

	var snap snapshotState
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %q", path)
	}

	ApplyCrashRecovery(&snap)

	store := New()
	store.restoreFrom(snap)
	return store, nil
}

// EnsureParentDir creates the directory holding path, matching the
// mkdir-before-write discipline internal/config.Settings.Validate uses for
// the data/log directories.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o700)
}
