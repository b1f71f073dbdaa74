//go:build !windows

package process

import (
	"context"
	"io"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// platformHandle carries no extra state on Unix: the process group id is
// always equal to the leader's pid because Spawn sets Setpgid.
type platformHandle struct{}

// unixController spawns every child as the leader of a fresh process group
// and reaches the whole tree via syscall.Kill(-pid, sig) — the same idiom
// ai/agents/runner/session_manager.go uses in the teacher repo.
type unixController struct{}

// NewController returns the platform Controller for the running OS.
func NewController() Controller { return unixController{} }

func (unixController) Spawn(ctx context.Context, argv []string, workingDir string, env []string, stdout, stderr io.Writer) (*ChildHandle, error) {
	if len(argv) == 0 {
		return nil, errors.New("process: empty command argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workingDir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// New process group so signals sent to -pid reach every descendant the
	// shell itself forked off (e.g. backgrounded jobs), not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "open stdin pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "spawn process")
	}

	h := newHandle(cmd, stdinPipe)
	watchExit(h)
	return h, nil
}

func (unixController) PauseTree(h *ChildHandle, includeDescendants bool) error {
	return sendSignal(h, syscall.SIGSTOP, includeDescendants)
}

func (unixController) ResumeTree(h *ChildHandle, includeDescendants bool) error {
	return sendSignal(h, syscall.SIGCONT, includeDescendants)
}

func (unixController) SignalTree(h *ChildHandle, sig Signal, includeDescendants bool) error {
	return sendSignal(h, toUnixSignal(sig), includeDescendants)
}

func (unixController) KillTree(h *ChildHandle, includeDescendants bool) error {
	return sendSignal(h, syscall.SIGKILL, includeDescendants)
}

func (unixController) TryWait(h *ChildHandle) (*ExitStatus, error) {
	return tryWaitFromCache(h, translateWaitErr)
}

func toUnixSignal(sig Signal) syscall.Signal {
	switch sig {
	case SignalInterrupt:
		return syscall.SIGINT
	case SignalTerminate:
		return syscall.SIGTERM
	case SignalKill:
		return syscall.SIGKILL
	case SignalStop:
		return syscall.SIGSTOP
	case SignalContinue:
		return syscall.SIGCONT
	default:
		return syscall.SIGTERM
	}
}

// sendSignal targets the whole process group (negative pid) when
// includeDescendants is set, or just the leader otherwise.
func sendSignal(h *ChildHandle, sig syscall.Signal, includeDescendants bool) error {
	target := h.pid
	if includeDescendants {
		target = -h.pid
	}
	if err := syscall.Kill(target, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessGone
		}
		return errors.Wrapf(err, "signal %d to pid %d", sig, target)
	}
	return nil
}

func translateWaitErr(err error) *ExitStatus {
	if err == nil {
		return &ExitStatus{ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() {
			return &ExitStatus{Signaled: true}
		}
		return &ExitStatus{ExitCode: exitErr.ExitCode()}
	}
	// wait() itself failed (spec.md §7, ReapFailure).
	return &ExitStatus{WaitErr: err}
}
