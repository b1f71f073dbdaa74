package state

import (
	"time"

	"github.com/hrygo/pueued/internal/task"
)

// ApplyCrashRecovery rewrites a freshly loaded snapshot the way spec.md
// §4.B "restore" requires, so a task list saved mid-run never lies about
// which processes are actually still alive:
//
//   - Running or Paused → Done{Killed}, preserving start/enqueued_at and
//     setting end = now (no child survives a daemon restart).
//   - Locked → Stashed{enqueue_at: None} (an in-flight edit is abandoned).
//   - Every group that still has a Queued task is paused, so nothing
//     resumes running by surprise right after a crash.
//   - A task whose group no longer exists is reassigned to default,
//     creating it if necessary.
//
// Restoring twice is idempotent: none of these rewrites apply a second time
// to their own output (Done/Stashed/Paused are all fixed points).
func ApplyCrashRecovery(snap *snapshotState) {
	now := nowFunc()

	// Index by position, not pointer: ensureGroup appends to snap.Groups,
	// which can reallocate the backing array and strand any *namedGroup
	// taken before the append. Re-deriving snap.Groups[idx] on every use
	// keeps pauseGroup pointed at the live slice no matter how many
	// appends happened in between.
	groupIndex := make(map[string]int, len(snap.Groups))
	for i := range snap.Groups {
		groupIndex[snap.Groups[i].Name] = i
	}
	groupExists := func(name string) bool {
		_, ok := groupIndex[name]
		return ok
	}
	ensureGroup := func(name string) {
		if groupExists(name) {
			return
		}
		snap.Groups = append(snap.Groups, namedGroup{Name: name, Group: task.Group{Status: task.GroupRunning, ParallelTasks: 1}})
		groupIndex[name] = len(snap.Groups) - 1
	}
	pauseGroup := func(name string) {
		if idx, ok := groupIndex[name]; ok {
			snap.Groups[idx].Group.Status = task.GroupPaused
		}
	}

	for _, t := range snap.Tasks {
		if !groupExists(t.Group) {
			ensureGroup(task.DefaultGroup)
			t.Group = task.DefaultGroup
		}

		switch t.Status.Kind {
		case task.KindRunning, task.KindPaused:
			enqueuedAt := timeOrNow(t.Status.EnqueuedAt, now)
			start := timeOrNow(t.Status.Start, now)
			t.Status = task.Done(enqueuedAt, start, now, task.Killed())
		case task.KindLocked:
			t.Status = task.Stashed(nil)
		case task.KindQueued:
			pauseGroup(t.Group)
		}
	}
}

func timeOrNow(t *time.Time, now time.Time) time.Time {
	if t == nil {
		return now
	}
	return *t
}
