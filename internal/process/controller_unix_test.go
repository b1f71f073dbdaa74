//go:build !windows

package process

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnAndTryWaitSuccess(t *testing.T) {
	ctrl := NewController()
	h, err := ctrl.Spawn(context.Background(), []string{"sh", "-c", "exit 0"}, "", os.Environ(), nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := ctrl.TryWait(h)
		return err == nil && status != nil
	}, 2*time.Second, 10*time.Millisecond)

	status, err := ctrl.TryWait(h)
	require.NoError(t, err)
	require.Equal(t, 0, status.ExitCode)
	require.False(t, status.Signaled)
}

func TestSpawnAndTryWaitFailure(t *testing.T) {
	ctrl := NewController()
	h, err := ctrl.Spawn(context.Background(), []string{"sh", "-c", "exit 7"}, "", os.Environ(), nil, nil)
	require.NoError(t, err)

	var status *ExitStatus
	require.Eventually(t, func() bool {
		status, err = ctrl.TryWait(h)
		return err == nil && status != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 7, status.ExitCode)
}

func TestKillTreeKillsDescendants(t *testing.T) {
	ctrl := NewController()
	h, err := ctrl.Spawn(context.Background(), []string{"sh", "-c", "sleep 60 & sleep 60 && wait"}, "", os.Environ(), nil, nil)
	require.NoError(t, err)

	// Give the shell a moment to fork its children.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, ctrl.KillTree(h, true))

	require.Eventually(t, func() bool {
		status, err := ctrl.TryWait(h)
		return err == nil && status != nil
	}, 2*time.Second, 10*time.Millisecond)

	// No process in the group should still answer signal 0.
	require.Eventually(t, func() bool {
		return syscall.Kill(-h.PID(), syscall.Signal(0)) != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPauseResumeTree(t *testing.T) {
	ctrl := NewController()
	h, err := ctrl.Spawn(context.Background(), []string{"sh", "-c", "sleep 5"}, "", os.Environ(), nil, nil)
	require.NoError(t, err)
	defer ctrl.KillTree(h, true) //nolint:errcheck

	require.NoError(t, ctrl.PauseTree(h, true))
	require.NoError(t, ctrl.ResumeTree(h, true))
}

func TestSignalTreeOnGoneProcessReturnsErrProcessGone(t *testing.T) {
	ctrl := NewController()
	h, err := ctrl.Spawn(context.Background(), []string{"sh", "-c", "exit 0"}, "", os.Environ(), nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := ctrl.TryWait(h)
		return err == nil && status != nil
	}, 2*time.Second, 10*time.Millisecond)

	// give the OS a moment to actually reap the zombie's pid/group
	time.Sleep(50 * time.Millisecond)
	err = ctrl.SignalTree(h, SignalTerminate, true)
	if err != nil {
		require.ErrorIs(t, err, ErrProcessGone)
	}
}
