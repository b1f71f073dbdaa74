// Package process implements the platform abstraction described in
// spec.md §4.A / §9: a handful of operations to spawn a shell-wrapped
// command and to pause/resume/signal/kill the entire process tree it
// spawned, with one implementation per OS family.
//
// The Unix implementation's use of a process-group leader plus
// syscall.Kill(-pid, sig) to reach descendants is grounded on
// ai/agents/runner/session_manager.go in the teacher repo
// (cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}, then
// syscall.Kill(-sess.Cmd.Process.Pid, syscall.SIGKILL)).
package process

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
)

// Signal is the set of tree-wide actions the Supervisor can request
// (spec.md §4.A).
type Signal int

const (
	SignalInterrupt Signal = iota
	SignalTerminate
	SignalKill
	SignalStop
	SignalContinue
)

// ErrProcessGone is returned by any operation whose target handle has
// already exited; the Supervisor treats this as a non-fatal outcome and
// simply lets the reaper observe the exit on the next tick (spec.md §4.A
// "Failure contract").
var ErrProcessGone = errors.New("process: target has already exited")

// ExitStatus is the outcome of a reaped child (spec.md §4.A, try_wait).
type ExitStatus struct {
	// ExitCode is the process's exit code. Valid only when Signaled is false.
	ExitCode int
	// Signaled reports the process was terminated by a signal rather than
	// exiting normally (no exit code is available in that case).
	Signaled bool
	// WaitErr is set when the underlying wait() call itself failed
	// (spec.md §7, ReapFailure); ExitCode/Signaled are meaningless then.
	WaitErr error
}

// ChildHandle is the opaque value every other package holds instead of a
// raw *os.Process — the "same ChildHandle opaque value on every OS" called
// for in spec.md §9.
type ChildHandle struct {
	Cmd *exec.Cmd
	pid int

	mu      sync.Mutex
	exited  bool
	exitErr error
	done    chan struct{}

	stdin io.WriteCloser

	platform platformHandle
}

// PID is the OS process id of the tree's leader/root process.
func (h *ChildHandle) PID() int { return h.pid }

// Stdin returns the writable end of the child's standard input, used by the
// Supervisor's Send command (spec.md §4.F, "Send(id, text)... writes the
// bytes to the child's stdin"). It is nil if the child was spawned without a
// stdin pipe.
func (h *ChildHandle) Stdin() io.Writer { return h.stdin }

// Controller is the ≤6-operation platform trait from spec.md §4.A/§9.
type Controller interface {
	// Spawn starts argv — already shell-wrapped via RenderShellCommand
	// (shell.go) — with the given working directory and environment,
	// connecting the child's stdout/stderr to the given writers (the log
	// handles internal/logs.CreateLogHandles opened for this task).
	Spawn(ctx context.Context, argv []string, workingDir string, env []string, stdout, stderr io.Writer) (*ChildHandle, error)
	PauseTree(h *ChildHandle, includeDescendants bool) error
	ResumeTree(h *ChildHandle, includeDescendants bool) error
	SignalTree(h *ChildHandle, sig Signal, includeDescendants bool) error
	KillTree(h *ChildHandle, includeDescendants bool) error
	// TryWait is a non-blocking reap: nil, nil means still running.
	TryWait(h *ChildHandle) (*ExitStatus, error)
}

// watchExit starts the single goroutine that calls cmd.Wait() and caches
// its result, so TryWait can be a non-blocking poll from the Supervisor's
// tick loop instead of every call forking a new waiter.
func watchExit(h *ChildHandle) {
	go func() {
		err := h.Cmd.Wait()
		h.mu.Lock()
		h.exited = true
		h.exitErr = err
		close(h.done)
		h.mu.Unlock()
	}()
}

func newHandle(cmd *exec.Cmd, stdin io.WriteCloser) *ChildHandle {
	return &ChildHandle{
		Cmd:   cmd,
		pid:   cmd.Process.Pid,
		done:  make(chan struct{}),
		stdin: stdin,
	}
}

// tryWaitFromCache implements the shared non-blocking-poll half of TryWait;
// platform files only need to translate h.exitErr into an ExitStatus.
func tryWaitFromCache(h *ChildHandle, translate func(error) *ExitStatus) (*ExitStatus, error) {
	select {
	case <-h.done:
	default:
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return translate(h.exitErr), nil
}
