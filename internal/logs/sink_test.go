package logs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateLogHandlesTruncatesExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(stdoutPath(dir, 1), []byte("stale"), 0o644))

	stdout, stderr, err := CreateLogHandles(dir, 1)
	require.NoError(t, err)
	defer stdout.Close()
	defer stderr.Close()

	_, err = stdout.WriteString("fresh")
	require.NoError(t, err)

	data, err := os.ReadFile(stdoutPath(dir, 1))
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))
}

func TestWritableLogHandleAppends(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := CreateLogHandles(dir, 2)
	require.NoError(t, err)
	stdout.WriteString("line one\n")
	stdout.Close()

	w, err := WritableLogHandle(dir, 2)
	require.NoError(t, err)
	_, err = w.WriteString("spawn failed: boom\n")
	require.NoError(t, err)
	w.Close()

	data, err := os.ReadFile(stdoutPath(dir, 2))
	require.NoError(t, err)
	require.Equal(t, "line one\nspawn failed: boom\n", string(data))
}

func TestReadLastLinesReturnsEmptyForMissingFiles(t *testing.T) {
	dir := t.TempDir()
	stdoutTail, stderrTail, err := ReadLastLines(dir, 99, 5)
	require.NoError(t, err)
	require.Empty(t, stdoutTail)
	require.Empty(t, stderrTail)
}

func TestReadLastLinesTailsOnlyRequestedCount(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 1; i <= 20; i++ {
		lines = append(lines, strings.Repeat("x", 100))
	}
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(stdoutPath(dir, 3), []byte(content), 0o644))

	tail, _, err := ReadLastLines(dir, 3, 5)
	require.NoError(t, err)
	got := strings.Split(strings.TrimRight(tail, "\n"), "\n")
	require.Len(t, got, 5)
}

func TestReadLastLinesSpanningMultipleChunks(t *testing.T) {
	dir := t.TempDir()
	line := strings.Repeat("y", 5000)
	content := strings.Join([]string{line, line, line, line}, "\n") + "\n"
	require.NoError(t, os.WriteFile(stdoutPath(dir, 4), []byte(content), 0o644))

	tail, _, err := ReadLastLines(dir, 4, 2)
	require.NoError(t, err)
	got := strings.Split(strings.TrimRight(tail, "\n"), "\n")
	require.Len(t, got, 2)
	require.Equal(t, line, got[0])
}

func TestCleanLogRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	_, _, err := CreateLogHandles(dir, 5)
	require.NoError(t, err)

	require.NoError(t, CleanLog(dir, 5))
	_, err = os.Stat(stdoutPath(dir, 5))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(stderrPath(dir, 5))
	require.True(t, os.IsNotExist(err))
}

func TestCleanLogIsNoopWhenFilesAbsent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CleanLog(dir, 6))
}

func TestResetLogDirPurgesEverything(t *testing.T) {
	dir := t.TempDir()
	_, _, err := CreateLogHandles(dir, 7)
	require.NoError(t, err)
	_, _, err = CreateLogHandles(dir, 8)
	require.NoError(t, err)

	require.NoError(t, ResetLogDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestResetLogDirMissingDirIsNotError(t *testing.T) {
	require.NoError(t, ResetLogDir(filepath.Join(t.TempDir(), "absent")))
}
