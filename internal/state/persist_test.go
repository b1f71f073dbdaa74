package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/pueued/internal/task"
)

func TestSaveRestoreRoundTrip(t *testing.T) {
	for _, gzipped := range []bool{false, true} {
		s := New()
		require.True(t, s.CreateGroup("build", 3))
		id := s.AddTask(newTask("build"))
		now := time.Now().Truncate(time.Second)
		s.ChangeStatus(id, task.Done(now, now, now, task.Success()))

		dir := t.TempDir()
		path := filepath.Join(dir, "state.json")
		require.NoError(t, s.Save(path, gzipped))

		restored, err := Restore(path, gzipped)
		require.NoError(t, err)

		got, ok := restored.Task(id)
		require.True(t, ok)
		require.Equal(t, task.KindDone, got.Status.Kind)
		require.Equal(t, "build", got.Group)

		g, ok := restored.Group("build")
		require.True(t, ok)
		require.Equal(t, 3, g.ParallelTasks)
	}
}

func TestRestoreMissingFileReturnsFreshStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Restore(filepath.Join(dir, "absent.json"), false)
	require.NoError(t, err)
	require.Empty(t, s.Tasks())
}

func TestRestoreAppliesCrashRecoveryRewrites(t *testing.T) {
	s := New()
	id := s.AddTask(newTask(task.DefaultGroup))
	s.ChangeStatus(id, task.Running(time.Now(), time.Now()))

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, s.Save(path, false))

	restored, err := Restore(path, false)
	require.NoError(t, err)
	got, _ := restored.Task(id)
	require.Equal(t, task.KindDone, got.Status.Kind)
	require.Equal(t, task.ResultKilled, got.Status.Result.Kind)
}

func TestRestoreIsIdempotentAcrossRepeatedRestarts(t *testing.T) {
	s := New()
	id := s.AddTask(newTask(task.DefaultGroup))
	s.ChangeStatus(id, task.Running(time.Now(), time.Now()))

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, s.Save(path, false))

	first, err := Restore(path, false)
	require.NoError(t, err)
	require.NoError(t, first.Save(path, false))

	second, err := Restore(path, false)
	require.NoError(t, err)

	got, _ := second.Task(id)
	require.Equal(t, task.KindDone, got.Status.Kind)
	require.Equal(t, task.ResultKilled, got.Status.Result.Kind)
}
