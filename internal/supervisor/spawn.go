package supervisor

import (
	"context"
	"fmt"
	"sort"

	"github.com/hrygo/pueued/internal/logs"
	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/task"
)

// reapChildren is spec.md §4.D step 2: a non-blocking try_wait per live
// child, translating the exit into a TaskResult and dropping the handle.
func (s *Supervisor) reapChildren() {
	for id, entry := range s.children {
		status, err := s.ctrl.TryWait(entry.handle)
		if err != nil {
			s.finishTask(id, entry, task.Errored())
			continue
		}
		if status == nil {
			continue // still running
		}
		s.finishTask(id, entry, resultFromExitStatus(status))
	}
}

func resultFromExitStatus(status *process.ExitStatus) task.TaskResult {
	switch {
	case status.WaitErr != nil:
		return task.Errored()
	case status.Signaled:
		return task.Killed()
	case status.ExitCode == 0:
		return task.Success()
	default:
		return task.Failed(status.ExitCode)
	}
}

func (s *Supervisor) finishTask(id int, entry *childEntry, result task.TaskResult) {
	delete(s.children, id)
	if entry.stdout != nil {
		entry.stdout.Close()
	}
	if entry.stderr != nil {
		entry.stderr.Close()
	}

	t, ok := s.store.Task(id)
	if !ok {
		return
	}
	now := nowFunc()
	start := now
	enqueuedAt := now
	if t.Status.Start != nil {
		start = *t.Status.Start
	}
	if t.Status.EnqueuedAt != nil {
		enqueuedAt = *t.Status.EnqueuedAt
	}
	s.store.ChangeStatus(id, task.Done(enqueuedAt, start, now, result))

	if !result.IsSuccess() && (s.cfg.PauseGroupOnFailure || s.cfg.PauseAllOnFailure) {
		if s.cfg.PauseAllOnFailure {
			s.store.SetAllGroupsStatus(task.GroupPaused)
		} else {
			s.store.SetGroupStatus(t.Group, task.GroupPaused)
		}
	}
	if result.Kind == task.ResultFailedToSpawn && s.metrics != nil {
		s.metrics.IncSpawnFailure()
	}

	s.spawnCallback(id)
}

// handleReset is spec.md §4.D step 3. It reports whether the daemon should
// exit, and the code to exit with, when a shutdown was requested.
func (s *Supervisor) handleReset() (exitCode int, shouldExit bool) {
	kind := s.store.Shutdown()
	if kind == nil && !s.resetInProgress {
		return 0, false
	}
	if len(s.children) > 0 {
		return 0, false // still waiting for children to exit
	}

	if s.resetInProgress {
		s.purgeForReset()
		s.resetInProgress = false
	}

	if kind == nil {
		return 0, false
	}
	if *kind == state.ShutdownGraceful {
		return 0, true
	}
	return 1, true
}

func (s *Supervisor) purgeForReset() {
	for _, t := range s.store.Tasks() {
		s.store.RemoveTask(t.ID)
	}
	s.store.SetAllGroupsStatus(task.GroupRunning)
	if err := logs.ResetLogDir(s.cfg.LogDir); err != nil {
		s.log.Error("reset: failed to purge log directory", "error", err)
	}
}

// autoEnqueue is spec.md §4.D step 5.
func (s *Supervisor) autoEnqueue() {
	now := nowFunc()
	for _, t := range s.store.Tasks() {
		if t.Status.Kind != task.KindStashed || t.Status.EnqueueAt == nil {
			continue
		}
		if t.Status.EnqueueAt.After(now) {
			continue
		}
		s.store.ChangeStatus(t.ID, task.Queued(now))
	}
}

// failDependencyChains is spec.md §4.D step 6.
func (s *Supervisor) failDependencyChains() {
	now := nowFunc()
	tasks := s.store.Tasks()
	byID := make(map[int]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks {
		if t.Status.Kind != task.KindQueued || len(t.Dependencies) == 0 {
			continue
		}
		group, ok := s.store.Group(t.Group)
		if ok && group.Status == task.GroupPaused {
			continue
		}
		for _, depID := range t.Dependencies {
			dep, ok := byID[depID]
			if !ok || !dep.Status.IsDone() || dep.Status.Result == nil {
				continue
			}
			if !dep.Status.Result.IsSuccess() {
				s.store.ChangeStatus(t.ID, task.Done(now, now, now, task.DependencyFailed()))
				s.spawnCallback(t.ID)
				break
			}
		}
	}
}

// spawnNewTasks is spec.md §4.D step 7: while a runnable candidate exists,
// spawn the highest-priority one (ties broken by lowest id), repeating until
// none remain.
func (s *Supervisor) spawnNewTasks(ctx context.Context) {
	for {
		candidate := s.pickCandidate()
		if candidate == nil {
			return
		}
		s.spawnTask(ctx, candidate)
	}
}

// pickCandidate finds the runnable task (spec.md §4.D "Candidate selection")
// with the highest priority, breaking ties by lowest id.
func (s *Supervisor) pickCandidate() *task.Task {
	tasks := s.store.Tasks()
	byID := make(map[int]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	liveCountByGroup := make(map[string]int)
	for _, entry := range s.children {
		liveCountByGroup[entry.group]++
	}

	var best *task.Task
	for _, t := range tasks {
		if t.Status.Kind != task.KindQueued {
			continue
		}
		group, ok := s.store.Group(t.Group)
		if !ok || group.Status != task.GroupRunning {
			continue
		}
		if !group.Unlimited() && liveCountByGroup[t.Group] >= group.ParallelTasks {
			continue
		}
		if !dependenciesSatisfied(t, byID) {
			continue
		}
		if best == nil || t.Priority > best.Priority || (t.Priority == best.Priority && t.ID < best.ID) {
			best = t
		}
	}
	return best
}

func dependenciesSatisfied(t *task.Task, byID map[int]*task.Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status.Kind != task.KindDone || dep.Status.Result == nil || !dep.Status.Result.IsSuccess() {
			return false
		}
	}
	return true
}

// spawnTask opens log handles, builds the environment, wraps the command in
// the configured shell, and spawns it via the Process Controller
// (spec.md §4.D "Spawning").
func (s *Supervisor) spawnTask(ctx context.Context, t *task.Task) {
	slot := s.nextFreeSlot(t.Group)
	env := buildEnv(t, s.cfg.DefaultGroupParallel, t.Group, slot)
	argv := process.RenderShellCommand(s.cfg.ShellCmd, t.Command)

	stdout, stderr, err := logs.CreateLogHandles(s.cfg.LogDir, t.ID)
	if err != nil {
		s.failSpawn(t.ID, err.Error())
		return
	}

	handle, err := s.ctrl.Spawn(ctx, argv, t.Path, env, stdout, stderr)
	if err != nil {
		stdout.Close()
		stderr.Close()
		s.failSpawn(t.ID, err.Error())
		return
	}

	s.children[t.ID] = &childEntry{handle: handle, group: t.Group, slot: slot, stdout: stdout, stderr: stderr}

	now := nowFunc()
	enqueuedAt := now
	if t.Status.EnqueuedAt != nil {
		enqueuedAt = *t.Status.EnqueuedAt
	}
	s.store.ChangeStatus(t.ID, task.Running(enqueuedAt, now))
}

func (s *Supervisor) failSpawn(taskID int, errText string) {
	t, ok := s.store.Task(taskID)
	if !ok {
		return
	}
	now := nowFunc()
	enqueuedAt := now
	if t.Status.EnqueuedAt != nil {
		enqueuedAt = *t.Status.EnqueuedAt
	}
	s.store.ChangeStatus(taskID, task.Done(enqueuedAt, now, now, task.FailedToSpawn(errText)))
	writableLog(s.cfg.LogDir, taskID, fmt.Sprintf("pueue: failed to spawn task: %s\n", errText))
	if s.metrics != nil {
		s.metrics.IncSpawnFailure()
	}
	if s.cfg.PauseGroupOnFailure || s.cfg.PauseAllOnFailure {
		if s.cfg.PauseAllOnFailure {
			s.store.SetAllGroupsStatus(task.GroupPaused)
		} else {
			s.store.SetGroupStatus(t.Group, task.GroupPaused)
		}
	}
	s.spawnCallback(taskID)
}

// nextFreeSlot finds the smallest worker index in group not currently
// occupied by a live child, so PUEUE_WORKER_ID reuses slots rather than
// growing unboundedly (spec.md §4.D "Spawning").
func (s *Supervisor) nextFreeSlot(group string) int {
	used := make(map[int]bool)
	for _, entry := range s.children {
		if entry.group == group {
			used[entry.slot] = true
		}
	}
	slot := 0
	for used[slot] {
		slot++
	}
	return slot
}

func buildEnv(t *task.Task, _ int, group string, slot int) []string {
	env := make([]string, 0, len(t.Envs)+2)
	keys := make([]string, 0, len(t.Envs))
	for k := range t.Envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, t.Envs[k]))
	}
	env = append(env, fmt.Sprintf("PUEUE_GROUP=%s", group))
	env = append(env, fmt.Sprintf("PUEUE_WORKER_ID=%d", slot))
	return env
}
