package dispatcher

import (
	"fmt"

	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/supervisor"
	"github.com/hrygo/pueued/internal/task"
)

// handleAdd validates every listed dependency exists, picks the starting
// status from the EnqueueAt/Stashed flags, and optionally pushes a
// force-start command (spec.md §4.F, "Add").
func (d *Dispatcher) handleAdd(req rpc.Request) rpc.Response {
	if req.New == nil {
		return rpc.Failure("add request is missing the new task body")
	}
	nt := req.New

	for _, dep := range nt.Dependencies {
		if _, ok := d.store.Task(dep); !ok {
			return rpc.Failure(fmt.Sprintf("dependency %d does not exist", dep))
		}
	}

	group := nt.Group
	if group == "" {
		group = task.DefaultGroup
	}
	if _, ok := d.store.Group(group); !ok {
		return rpc.Failure(fmt.Sprintf("group %q does not exist", group))
	}

	var status task.Status
	switch {
	case nt.EnqueueAt != nil:
		status = task.Stashed(nt.EnqueueAt)
	case nt.Stashed:
		status = task.Stashed(nil)
	default:
		status = task.Queued(d.now())
	}

	newTask := &task.Task{
		Command:      nt.Command,
		Path:         nt.Path,
		Envs:         nt.Envs,
		Group:        group,
		Dependencies: nt.Dependencies,
		Priority:     nt.Priority,
		Label:        nt.Label,
		Status:       status,
	}
	id := d.store.AddTask(newTask)

	if nt.StartImmediately {
		d.sup.Inbox <- supervisor.Command{
			Kind:      supervisor.CommandForceStart,
			Selection: supervisor.Selection{IDs: []int{id}},
		}
	}

	return rpc.Success(fmt.Sprintf("new task added (id %d)", id))
}

// handleRemove removes every id that is is_task_removable and not currently
// Running/Paused, reporting the split (spec.md §4.F, "Remove(ids)").
func (d *Dispatcher) handleRemove(req rpc.Request) rpc.Response {
	ids := req.Selection.IDs
	alsoRemoving := make(map[int]bool, len(ids))
	for _, id := range ids {
		alsoRemoving[id] = true
	}

	var removed, rejected []int
	for _, id := range ids {
		t, ok := d.store.Task(id)
		if !ok {
			rejected = append(rejected, id)
			continue
		}
		if t.Status.IsLive() {
			rejected = append(rejected, id)
			continue
		}
		if !d.store.IsTaskRemovable(id, alsoRemoving) {
			rejected = append(rejected, id)
			continue
		}
		d.store.RemoveTask(id)
		removed = append(removed, id)
	}

	return rpc.Success(fmt.Sprintf("removed %d task(s), %d could not be removed", len(removed), len(rejected)))
}

// handleSwitch exchanges two Queued/Stashed tasks' ids (spec.md §4.F,
// "Switch(a,b)").
func (d *Dispatcher) handleSwitch(req rpc.Request) rpc.Response {
	if len(req.Selection.IDs) != 2 {
		return rpc.Failure("switch requires exactly two task ids")
	}
	a, b := req.Selection.IDs[0], req.Selection.IDs[1]
	if !d.store.SwitchTasks(a, b) {
		return rpc.Failure("both tasks must exist and be Queued or Stashed to switch")
	}
	return rpc.Success(fmt.Sprintf("switched tasks %d and %d", a, b))
}

// handleStash transitions matching Queued tasks to Stashed (spec.md §4.F,
// "Stash/Enqueue(selection, at?)").
func (d *Dispatcher) handleStash(req rpc.Request) rpc.Response {
	matching, _ := d.store.FilterTasks(func(t *task.Task) bool {
		return t.Status.Kind == task.KindQueued
	}, selectionIDs(d, req.Selection))

	for _, t := range matching {
		d.store.ChangeStatus(t.ID, task.Stashed(nil))
	}
	return rpc.Success(fmt.Sprintf("stashed %d task(s)", len(matching)))
}

// handleEnqueue transitions matching Stashed/Locked-restored tasks to
// Queued, or to a rescheduled Stashed if EnqueueAt is set (spec.md §4.F).
func (d *Dispatcher) handleEnqueue(req rpc.Request) rpc.Response {
	matching, _ := d.store.FilterTasks(func(t *task.Task) bool {
		return t.Status.Kind == task.KindStashed
	}, selectionIDs(d, req.Selection))

	for _, t := range matching {
		if req.EnqueueAt != nil {
			d.store.ChangeStatus(t.ID, task.Stashed(req.EnqueueAt))
		} else {
			d.store.ChangeStatus(t.ID, task.Queued(d.now()))
		}
	}
	return rpc.Success(fmt.Sprintf("enqueued %d task(s)", len(matching)))
}

// handleEnvSet and handleEnvUnset mutate a task's env map; only valid
// before the task has started (spec.md §4.F, "Env Set/Unset").
func (d *Dispatcher) handleEnvSet(req rpc.Request) rpc.Response {
	t, ok := d.store.Task(req.TaskID)
	if !ok || t.Status.IsLive() || t.Status.IsDone() {
		return rpc.Failure("task does not exist or has already started")
	}
	d.store.UpdateTask(req.TaskID, func(t *task.Task) {
		if t.Envs == nil {
			t.Envs = make(map[string]string)
		}
		t.Envs[req.EnvKey] = req.EnvValue
	})
	return rpc.Success(fmt.Sprintf("set %s for task %d", req.EnvKey, req.TaskID))
}

func (d *Dispatcher) handleEnvUnset(req rpc.Request) rpc.Response {
	t, ok := d.store.Task(req.TaskID)
	if !ok || t.Status.IsLive() || t.Status.IsDone() {
		return rpc.Failure("task does not exist or has already started")
	}
	d.store.UpdateTask(req.TaskID, func(t *task.Task) {
		delete(t.Envs, req.EnvKey)
	})
	return rpc.Success(fmt.Sprintf("unset %s for task %d", req.EnvKey, req.TaskID))
}

// handleClean removes every Done task reachable from the selection
// (spec.md §4.F, "Clean").
func (d *Dispatcher) handleClean(req rpc.Request) rpc.Response {
	matching, _ := d.store.FilterTasks(func(t *task.Task) bool {
		return t.Status.IsDone()
	}, selectionIDs(d, req.Selection))

	removed := 0
	for _, t := range matching {
		if d.store.IsTaskRemovable(t.ID, nil) {
			d.store.RemoveTask(t.ID)
			removed++
		}
	}
	return rpc.Success(fmt.Sprintf("cleaned %d finished task(s)", removed))
}

// selectionIDs resolves a Selection to an explicit id list against the
// store's groups, or nil to mean "every task" (the shape FilterTasks
// expects), the same resolution order the Supervisor uses for its own
// commands (internal/supervisor/commands.go's selectionIDs).
func selectionIDs(d *Dispatcher, sel rpc.Selection) []int {
	if len(sel.IDs) > 0 {
		return sel.IDs
	}
	if len(sel.Groups) > 0 {
		groupSet := make(map[string]bool, len(sel.Groups))
		for _, g := range sel.Groups {
			groupSet[g] = true
		}
		var ids []int
		for _, t := range d.store.Tasks() {
			if groupSet[t.Group] {
				ids = append(ids, t.ID)
			}
		}
		return ids
	}
	return nil
}
