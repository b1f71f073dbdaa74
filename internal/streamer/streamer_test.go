package streamer

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/pueued/internal/logs"
	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/task"
)

func writeLog(t *testing.T, dir string, taskID int, content string) {
	t.Helper()
	stdout, stderr, err := logs.CreateLogHandles(dir, taskID)
	require.NoError(t, err)
	_, err = stdout.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, stdout.Close())
	require.NoError(t, stderr.Close())
}

func TestStreamFailsForMissingTask(t *testing.T) {
	store := state.New()
	dir := t.TempDir()

	var got []rpc.Response
	Stream(store, dir, 99, 0, func(r rpc.Response) error {
		got = append(got, r)
		return nil
	})

	require.Len(t, got, 1)
	require.Equal(t, rpc.RespFailure, got[0].Kind)
}

func TestStreamSendsExistingContentThenCloses(t *testing.T) {
	store := state.New()
	dir := t.TempDir()
	now := time.Now()
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(now)})
	store.ChangeStatus(id, task.Running(now, now))
	writeLog(t, dir, id, "hello world\n")

	// Flip to Done before streaming so the poll loop observes a terminal
	// status on its first pass (no child process involved here).
	store.ChangeStatus(id, task.Done(now, now, now, task.Success()))

	var chunks []byte
	var closed bool
	Stream(store, dir, id, 0, func(r rpc.Response) error {
		switch r.Kind {
		case rpc.RespStream:
			chunks = append(chunks, r.Chunk...)
		case rpc.RespClose:
			closed = true
		}
		return nil
	})

	require.Equal(t, "hello world\n", string(chunks))
	require.True(t, closed)
}

func TestStreamStopsWhenSendReturnsError(t *testing.T) {
	store := state.New()
	dir := t.TempDir()
	now := time.Now()
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(now)})
	store.ChangeStatus(id, task.Running(now, now))
	writeLog(t, dir, id, "line one\nline two\n")

	calls := 0
	Stream(store, dir, id, 0, func(r rpc.Response) error {
		calls++
		return os.ErrClosed
	})

	require.Equal(t, 1, calls, "send should stop being called after the first error")
}

func TestStreamStartOffsetSeeksToTailLines(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, 1, "one\ntwo\nthree\n")

	f, err := logs.OpenStdoutForStream(dir, 1)
	require.NoError(t, err)
	defer f.Close()

	offset, err := logs.StreamStartOffset(f, 1)
	require.NoError(t, err)
	require.Equal(t, int64(len("one\ntwo\n")), offset)
}

func TestStreamStartOffsetZeroLinesReadsFromBeginning(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, 1, "one\ntwo\n")

	f, err := logs.OpenStdoutForStream(dir, 1)
	require.NoError(t, err)
	defer f.Close()

	offset, err := logs.StreamStartOffset(f, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)
}
