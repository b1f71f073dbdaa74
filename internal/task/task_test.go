package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusConstructors(t *testing.T) {
	now := time.Now()

	s := Stashed(nil)
	require.Equal(t, KindStashed, s.Kind)
	require.Nil(t, s.EnqueueAt)

	at := now.Add(time.Hour)
	s = Stashed(&at)
	require.True(t, s.EnqueueAt.Equal(at))

	q := Queued(now)
	require.Equal(t, KindQueued, q.Kind)
	require.True(t, q.EnqueuedAt.Equal(now))

	r := Running(now, now.Add(time.Second))
	require.True(t, r.IsLive())

	p := Paused(now, now.Add(time.Second))
	require.True(t, p.IsLive())

	d := Done(now, now.Add(time.Second), now.Add(2*time.Second), Success())
	require.True(t, d.IsDone())
	require.False(t, d.IsLive())
	require.True(t, d.Result.IsSuccess())

	l := Locked(q)
	require.Equal(t, KindLocked, l.Kind)
	require.Equal(t, KindQueued, l.Previous.Kind)
}

func TestStatusCloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := Running(now, now)
	clone := orig.Clone()

	*clone.Start = clone.Start.Add(time.Hour)
	require.False(t, orig.Start.Equal(*clone.Start), "mutating the clone must not affect the original")
}

func TestTaskCloneIsDeep(t *testing.T) {
	original := &Task{
		ID:           1,
		Envs:         map[string]string{"A": "1"},
		Dependencies: []int{1, 2},
		Status:       Queued(time.Now()),
	}
	clone := original.Clone()
	clone.Envs["A"] = "2"
	clone.Dependencies[0] = 99

	require.Equal(t, "1", original.Envs["A"])
	require.Equal(t, 1, original.Dependencies[0])
}

func TestGroupUnlimited(t *testing.T) {
	require.True(t, Group{ParallelTasks: 0}.Unlimited())
	require.False(t, Group{ParallelTasks: 1}.Unlimited())
}

func TestResultConstructors(t *testing.T) {
	require.Equal(t, ResultFailed, Failed(1).Kind)
	require.Equal(t, 1, Failed(1).ExitCode)
	require.Equal(t, ResultFailedToSpawn, FailedToSpawn("boom").Kind)
	require.Equal(t, "boom", FailedToSpawn("boom").ErrorText)
	require.Equal(t, ResultKilled, Killed().Kind)
	require.Equal(t, ResultErrored, Errored().Kind)
	require.Equal(t, ResultDependencyFailed, DependencyFailed().Kind)
}
