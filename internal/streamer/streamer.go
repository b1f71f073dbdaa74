// Package streamer implements the Log Streamer described in spec.md §4.G:
// the one long-lived request variant, a continuous tail of a running task's
// stdout log file. Everything else in the daemon is one-request/one-response;
// this is the exception, so it gets its own package rather than living in
// internal/dispatcher alongside the rest.
package streamer

import (
	"io"
	"time"

	"github.com/hrygo/pueued/internal/logs"
	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/state"
)

// pollInterval is how often the streamer checks both for new bytes and for
// the task leaving Running/Paused, when no new bytes were available on the
// previous read.
const pollInterval = 200 * time.Millisecond

// chunkSize bounds a single Stream response's payload.
const chunkSize = 32 * 1024

// Stream follows taskID's stdout log, starting at the beginning or at the
// last `lines` lines when lines > 0, writing rpc.Stream/rpc.Close responses
// via send until the task leaves Running/Paused or send reports the client
// disconnected (send returning a non-nil error is read as "stop").
//
// Stream never returns an error itself — any unrecoverable condition (the
// task not existing, the log file missing) is reported as a single Failure
// response instead, matching the rest of the Dispatcher's contract.
func Stream(store *state.Store, logDir string, taskID int, lines int, send func(rpc.Response) error) {
	if _, ok := store.Task(taskID); !ok {
		_ = send(rpc.Failure("task does not exist"))
		return
	}

	f, err := logs.OpenStdoutForStream(logDir, taskID)
	if err != nil {
		_ = send(rpc.Failure("could not open log: " + err.Error()))
		return
	}
	defer f.Close()

	offset, err := logs.StreamStartOffset(f, lines)
	if err != nil {
		_ = send(rpc.Failure("could not seek log: " + err.Error()))
		return
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = send(rpc.Failure("could not seek log: " + err.Error()))
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := send(rpc.Stream(chunk)); err != nil {
				return
			}
			continue
		}
		if readErr != nil && readErr != io.EOF {
			_ = send(rpc.Failure("error reading log: " + readErr.Error()))
			return
		}

		// Caught up with the writer for now. Before sleeping, check whether
		// the task has already left Running/Paused — if so this is the last
		// pass: drain whatever trailing bytes landed since the read above
		// and close.
		t, ok := store.Task(taskID)
		if !ok || !t.Status.IsLive() {
			drainRemaining(f, send)
			_ = send(rpc.Close())
			return
		}

		time.Sleep(pollInterval)
	}
}

// drainRemaining flushes any bytes written to the log between the last Read
// and the task's status settling, so a fast-finishing task's final output
// is never lost to a race between the last poll and process exit.
func drainRemaining(f io.Reader, send func(rpc.Response) error) {
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := send(rpc.Stream(chunk)); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
