package supervisor

import (
	"context"
	"io"
	"sync"

	"github.com/hrygo/pueued/internal/process"
)

// fakeController is a process.Controller double that never forks a real OS
// process — it hands out opaque pids and lets the test decide exactly when
// and how each one "exits", so the Supervisor's scheduling/reaping logic can
// be exercised deterministically.
type fakeController struct {
	mu       sync.Mutex
	nextPID  int
	status   map[int]*process.ExitStatus
	spawned  []spawnRecord
	paused   map[int]bool
	signaled map[int][]process.Signal
}

type spawnRecord struct {
	argv []string
	dir  string
	env  []string
}

func newFakeController() *fakeController {
	return &fakeController{
		status:   make(map[int]*process.ExitStatus),
		paused:   make(map[int]bool),
		signaled: make(map[int][]process.Signal),
	}
}

func (f *fakeController) Spawn(_ context.Context, argv []string, workingDir string, env []string, _, _ io.Writer) (*process.ChildHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	pid := f.nextPID
	f.spawned = append(f.spawned, spawnRecord{argv: argv, dir: workingDir, env: env})
	return process.NewTestHandle(pid), nil
}

func (f *fakeController) PauseTree(h *process.ChildHandle, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[h.PID()] = true
	return nil
}

func (f *fakeController) ResumeTree(h *process.ChildHandle, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[h.PID()] = false
	return nil
}

func (f *fakeController) SignalTree(h *process.ChildHandle, sig process.Signal, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaled[h.PID()] = append(f.signaled[h.PID()], sig)
	return nil
}

func (f *fakeController) KillTree(h *process.ChildHandle, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[h.PID()] = &process.ExitStatus{Signaled: true}
	return nil
}

func (f *fakeController) TryWait(h *process.ChildHandle) (*process.ExitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[h.PID()], nil
}

// finish marks the process with the given pid as exited with status.
func (f *fakeController) finish(pid int, status *process.ExitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[pid] = status
}

func (f *fakeController) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}
