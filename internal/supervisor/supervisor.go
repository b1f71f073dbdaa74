// Package supervisor implements the Task Scheduler & Supervisor described in
// spec.md §4.D: the single-threaded control loop that owns every child
// process handle, picks runnable tasks, reaps finished children, and drives
// every status transition that touches a process. Its tick loop is grounded
// on ai/agents/runner/session_manager.go's CCSessionManager.cleanupLoop in
// the teacher repo (a ticker-driven loop plus a done channel for shutdown);
// here the loop stops on ctx cancellation, and its bookkeeping (children,
// callback handles) is touched only by the loop's goroutine, with no mutex.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/pueued/internal/config"
	"github.com/hrygo/pueued/internal/logs"
	"github.com/hrygo/pueued/internal/metrics"
	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/task"
)

const tickInterval = 200 * time.Millisecond

// Supervisor is the sole owner of every live child handle (spec.md §4.D,
// "It is the only component that ever calls into the Process Controller or
// holds child handles").
type Supervisor struct {
	store   *state.Store
	ctrl    process.Controller
	cfg     *config.Settings
	metrics *metrics.Registry
	log     *slog.Logger

	Inbox chan Command

	children         map[int]*childEntry
	callbackChildren []*process.ChildHandle
	callbackSem      *semaphore.Weighted

	resetInProgress bool

	savePath string
	saveGzip bool
}

// childEntry pairs a live handle with the worker slot it occupies, so a
// finished slot can be reused by the next spawn in the same group
// (spec.md §4.D, "PUEUE_WORKER_ID = next_free_slot_in_group").
type childEntry struct {
	handle *process.ChildHandle
	group  string
	slot   int
	stdout *os.File
	stderr *os.File
}

// New constructs a Supervisor. inboxSize bounds the many-producer/
// single-consumer command queue (spec.md §5).
func New(store *state.Store, ctrl process.Controller, cfg *config.Settings, reg *metrics.Registry, log *slog.Logger, inboxSize int) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		store:       store,
		ctrl:        ctrl,
		cfg:         cfg,
		metrics:     reg,
		log:         log,
		Inbox:       make(chan Command, inboxSize),
		children:    make(map[int]*childEntry),
		callbackSem: semaphore.NewWeighted(cfg.MaxConcurrentCallbacks),
		savePath:    cfg.StatePath(),
		saveGzip:    cfg.StateGzip,
	}
}

// Run drives the tick loop until ctx is canceled or a terminal shutdown is
// requested and fully drained (spec.md §4.D step 3, §5).
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if exitCode, done := s.tick(ctx); done {
				// Always return a non-nil sentinel here, even for a clean
				// exit (code 0). Run is one of two goroutines under a
				// shared errgroup (internal/daemon.Daemon.Run); a nil
				// return does not cancel the sibling accept-loop goroutine,
				// which would otherwise block forever in rpc.Accept. The
				// sentinel cancels the group's context so daemon.Run can
				// unwind both activities before mapping code back to a
				// process exit.
				return errExit{code: exitCode}
			}
		}
	}
}

type errExit struct{ code int }

func (e errExit) Error() string { return "supervisor: shutdown requested" }

// ExitCode extracts the process exit code from an error returned by Run, if
// it represents a requested shutdown rather than context cancellation.
func ExitCode(err error) (int, bool) {
	e, ok := err.(errExit)
	if !ok {
		return 0, false
	}
	return e.code, true
}

// Tick runs a single iteration of the tick loop, exported so tests can drive
// the Supervisor deterministically instead of waiting on the real ticker.
func (s *Supervisor) Tick(ctx context.Context) (exitCode int, done bool) {
	return s.tick(ctx)
}

// tick runs the eight ordered steps of spec.md §4.D. The second return value
// reports whether the daemon should now exit, and the first its exit code.
func (s *Supervisor) tick(ctx context.Context) (exitCode int, done bool) {
	s.drainInbox(ctx)
	s.reapChildren()

	if exit, shouldExit := s.handleReset(); shouldExit {
		return exit, true
	}

	s.reapCallbackChildren()
	s.autoEnqueue()
	s.failDependencyChains()
	s.spawnNewTasks(ctx)

	if err := s.store.Save(s.savePath, s.saveGzip); err != nil {
		s.log.Error("state save failed", "error", err)
	}

	if s.store.SaveFailed() {
		s.log.Error("state save failed, initiating emergency shutdown")
		s.killAllChildren()
		return 1, true
	}

	if s.metrics != nil {
		s.metrics.Observe(s.store.Tasks(), groupsOnly(s.store))
	}

	return 0, false
}

func groupsOnly(store *state.Store) map[string]task.Group {
	groups, _ := store.Groups()
	return groups
}

// writableLog opens (or reopens) the stdout log for a task whose spawn
// failed, so the Supervisor can leave a diagnostic trail even though no
// child handle exists to own the file.
func writableLog(dir string, taskID int, text string) {
	f, err := logs.WritableLogHandle(dir, taskID)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(text)
}
