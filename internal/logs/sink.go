// Package logs implements the Log Sink described in spec.md §4.C: a plain
// pair of byte files per task id, opened/truncated on spawn and tailed
// best-effort for callback substitution and `log` requests.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func stdoutPath(dir string, taskID int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.stdout", taskID))
}

func stderrPath(dir string, taskID int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.stderr", taskID))
}

// CreateLogHandles opens (creating or truncating) the stdout/stderr files for
// taskID, ready to be handed to the Process Controller as the child's
// stdout/stderr writers. Callers must Close both when the child exits.
func CreateLogHandles(dir string, taskID int) (stdout, stderr *os.File, err error) {
	stdout, err = os.OpenFile(stdoutPath(dir, taskID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create stdout log for task %d", taskID)
	}
	stderr, err = os.OpenFile(stderrPath(dir, taskID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		stdout.Close()
		return nil, nil, errors.Wrapf(err, "create stderr log for task %d", taskID)
	}
	return stdout, stderr, nil
}

// WritableLogHandle opens the stdout log for appending, used by the
// Supervisor to write a diagnostic line when a spawn fails before a child
// ever exists to own the handle.
func WritableLogHandle(dir string, taskID int) (*os.File, error) {
	f, err := os.OpenFile(stdoutPath(dir, taskID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open writable log for task %d", taskID)
	}
	return f, nil
}

// ReadLastLines returns up to n trailing lines from each of the task's
// stdout/stderr files. Missing files yield an empty string, not an error —
// this is the "cheap best-effort tail" spec.md §4.C describes, used for
// callback variable substitution as well as `log` requests.
func ReadLastLines(dir string, taskID int, n int) (stdoutTail, stderrTail string, err error) {
	stdoutTail, err = tailFile(stdoutPath(dir, taskID), n)
	if err != nil {
		return "", "", err
	}
	stderrTail, err = tailFile(stderrPath(dir, taskID), n)
	if err != nil {
		return "", "", err
	}
	return stdoutTail, stderrTail, nil
}

// CleanLog deletes both log files for taskID. Absence of either file is not
// an error.
func CleanLog(dir string, taskID int) error {
	if err := removeIfExists(stdoutPath(dir, taskID)); err != nil {
		return err
	}
	if err := removeIfExists(stderrPath(dir, taskID)); err != nil {
		return err
	}
	return nil
}

// ResetLogDir purges every log file under dir, used by the Supervisor's
// Reset handling (spec.md §4.D step 3).
func ResetLogDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read log directory %q", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return errors.Wrapf(err, "remove log file %q", e.Name())
		}
	}
	return nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove %q", path)
	}
	return nil
}

// tailFile reads the last n lines of path via a bounded backward byte scan,
// so a multi-gigabyte log never gets read in full just to report its tail.
func tailFile(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Wrapf(err, "stat %q", path)
	}
	offset, err := tailOffset(f, info.Size(), n)
	if err != nil {
		return "", err
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return "", errors.Wrapf(err, "read %q", path)
	}
	return string(buf), nil
}

// tailOffset returns the byte offset within an already-open file of size
// `size` where its last n lines begin, via the same bounded backward byte
// scan tailFile uses.
func tailOffset(f *os.File, size int64, n int) (int64, error) {
	if n <= 0 || size == 0 {
		return size, nil
	}

	const chunkSize = 8192
	var (
		newlines  int
		remaining = size
	)
	for remaining > 0 && newlines <= n {
		readSize := int64(chunkSize)
		if readSize > remaining {
			readSize = remaining
		}
		remaining -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, remaining); err != nil && err != io.EOF {
			return 0, errors.Wrapf(err, "read %q", f.Name())
		}
		for i := len(chunk) - 1; i >= 0; i-- {
			if chunk[i] == '\n' {
				newlines++
				if newlines > n {
					return remaining + int64(i) + 1, nil
				}
			}
		}
	}
	return 0, nil
}

// OpenStdoutForStream opens a task's stdout log file read-only, for the Log
// Streamer (spec.md §4.G) to seek within and tail.
func OpenStdoutForStream(dir string, taskID int) (*os.File, error) {
	f, err := os.Open(stdoutPath(dir, taskID))
	if err != nil {
		return nil, errors.Wrapf(err, "open stdout log for task %d", taskID)
	}
	return f, nil
}

// StreamStartOffset returns the byte offset an opened stdout log should be
// seeked to before streaming: 0 for "from the start", or the offset of the
// last `lines` lines when lines > 0 (spec.md §4.G, "seeks to either the
// start or -lines from the end").
func StreamStartOffset(f *os.File, lines int) (int64, error) {
	if lines <= 0 {
		return 0, nil
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %q", f.Name())
	}
	return tailOffset(f, info.Size(), lines)
}
