package supervisor

import (
	"context"
	"io"
	"time"

	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/task"
)

// drainInbox is spec.md §4.D step 1: consume every command pushed since the
// last tick without blocking, mutating state and issuing controller calls as
// dictated by each one.
func (s *Supervisor) drainInbox(ctx context.Context) {
	for {
		select {
		case cmd := <-s.Inbox:
			s.apply(ctx, cmd)
		default:
			return
		}
	}
}

func (s *Supervisor) apply(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CommandForceStart:
		s.forceStart(ctx, cmd.Selection)
	case CommandPause:
		s.pauseSelection(cmd.Selection)
	case CommandResume:
		s.resumeSelection(cmd.Selection)
	case CommandKill:
		s.killSelection(cmd.Selection, cmd.Signal)
	case CommandSendStdin:
		s.sendStdin(cmd.TaskID, cmd.Stdin)
	case CommandReset:
		s.resetInProgress = true
		s.killAllChildren()
	case CommandShutdown:
		kind := state.ShutdownEmergency
		if cmd.Graceful {
			kind = state.ShutdownGraceful
		}
		s.store.SetShutdown(kind)
		s.killAllChildren()
	}
}

// selectionIDs resolves a Selection against the current task list, filtered
// by pred (e.g. "is live", "is Queued/Stashed").
func (s *Supervisor) selectionIDs(sel Selection, pred func(*task.Task) bool) []int {
	var candidates []*task.Task
	switch {
	case len(sel.IDs) > 0:
		candidates, _ = s.store.FilterTasks(func(*task.Task) bool { return true }, sel.IDs)
	case len(sel.Groups) > 0:
		groupSet := make(map[string]bool, len(sel.Groups))
		for _, g := range sel.Groups {
			groupSet[g] = true
		}
		candidates, _ = s.store.FilterTasks(func(t *task.Task) bool { return groupSet[t.Group] }, nil)
	default:
		candidates = s.store.Tasks()
	}

	var ids []int
	for _, t := range candidates {
		if pred == nil || pred(t) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// forceStart force-starts Queued/Stashed tasks matched by sel, bypassing
// dependency gating and the group parallelism bound entirely
// (spec.md §4.D "Force-start").
func (s *Supervisor) forceStart(ctx context.Context, sel Selection) {
	ids := s.selectionIDs(sel, func(t *task.Task) bool {
		return t.Status.Kind == task.KindQueued || t.Status.Kind == task.KindStashed
	})
	for _, id := range ids {
		t, ok := s.store.Task(id)
		if !ok {
			continue
		}
		s.spawnTask(ctx, t)
	}
}

func (s *Supervisor) pauseSelection(sel Selection) {
	ids := s.selectionIDs(sel, func(t *task.Task) bool { return t.Status.Kind == task.KindRunning })
	for _, id := range ids {
		entry, ok := s.children[id]
		if !ok {
			continue
		}
		if err := s.ctrl.PauseTree(entry.handle, true); err != nil {
			s.log.Warn("pause failed", "task_id", id, "error", err)
			continue
		}
		t, _ := s.store.Task(id)
		s.store.ChangeStatus(id, task.Paused(*t.Status.EnqueuedAt, *t.Status.Start))
	}
}

func (s *Supervisor) resumeSelection(sel Selection) {
	ids := s.selectionIDs(sel, func(t *task.Task) bool { return t.Status.Kind == task.KindPaused })
	for _, id := range ids {
		entry, ok := s.children[id]
		if !ok {
			continue
		}
		if err := s.ctrl.ResumeTree(entry.handle, true); err != nil {
			s.log.Warn("resume failed", "task_id", id, "error", err)
			continue
		}
		t, _ := s.store.Task(id)
		s.store.ChangeStatus(id, task.Running(*t.Status.EnqueuedAt, *t.Status.Start))
	}
}

// killSelection terminates the process tree of every live task matched by
// sel via sig (spec.md §4.D "Kill"). It does not itself change task status —
// the reap step observes the exit and transitions to Done(Killed) once the
// OS reports it.
func (s *Supervisor) killSelection(sel Selection, sig process.Signal) {
	if sig == process.SignalInterrupt {
		// process.Signal's zero value (SignalInterrupt) also means "the
		// caller didn't ask for a specific signal" — the RPC wire format has
		// no separate "unset" representation (spec.md §4.D "Kill": default
		// is Kill on Unix, Terminate on Windows, never Interrupt).
		sig = process.SignalKill
	}
	ids := s.selectionIDs(sel, func(t *task.Task) bool { return t.Status.IsLive() })
	for _, id := range ids {
		entry, ok := s.children[id]
		if !ok {
			continue
		}
		if err := s.ctrl.SignalTree(entry.handle, sig, true); err != nil {
			s.log.Warn("kill failed", "task_id", id, "error", err)
		}
	}
}

func (s *Supervisor) sendStdin(taskID int, text string) {
	entry, ok := s.children[taskID]
	if !ok {
		s.log.Warn("send: task has no live child", "task_id", taskID)
		return
	}
	w := entry.handle.Stdin()
	if w == nil {
		return
	}
	if _, err := io.WriteString(w, text); err != nil {
		s.log.Warn("send: write to stdin failed", "task_id", taskID, "error", err)
	}
}

func (s *Supervisor) killAllChildren() {
	for _, entry := range s.children {
		_ = s.ctrl.KillTree(entry.handle, true)
	}
}

// nowFunc is overridden in tests.
var nowFunc = time.Now
