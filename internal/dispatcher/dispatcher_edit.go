package dispatcher

import (
	"fmt"

	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/task"
)

// handleEditRequest locks every matching Queued/Stashed task and returns
// their editable fields (spec.md §4.F, "EditRequest(ids) locks matching
// Queued/Stashed tasks and returns their editable fields").
func (d *Dispatcher) handleEditRequest(req rpc.Request) rpc.Response {
	var edit []rpc.EditedTask
	for _, id := range req.Selection.IDs {
		t, ok := d.store.Task(id)
		if !ok {
			continue
		}
		if t.Status.Kind != task.KindQueued && t.Status.Kind != task.KindStashed {
			continue
		}
		d.store.ChangeStatus(id, task.Locked(t.Status))
		edit = append(edit, rpc.EditedTask{
			ID:       id,
			Command:  t.Command,
			Path:     t.Path,
			Priority: t.Priority,
			Label:    t.Label,
		})
	}
	return rpc.Response{Kind: rpc.RespEdit, Edit: edit}
}

// handleEditedTasks commits the edit: each Locked task is rewritten with the
// client's fields and returned to the status it had before EditRequest
// (spec.md §4.F, "EditedTasks(list) (commit)").
func (d *Dispatcher) handleEditedTasks(req rpc.Request) rpc.Response {
	committed := 0
	for _, edited := range req.EditedTasks {
		t, ok := d.store.Task(edited.ID)
		if !ok || t.Status.Kind != task.KindLocked {
			continue
		}
		d.store.UpdateTask(edited.ID, func(t *task.Task) {
			t.Command = edited.Command
			t.Path = edited.Path
			t.Priority = edited.Priority
			t.Label = edited.Label
			t.Status = *t.Status.Previous
		})
		committed++
	}
	return rpc.Success(commitMessage(committed))
}

// handleEditRestore aborts the edit, restoring every listed Locked task to
// its pre-lock status without applying any change (spec.md §4.F,
// "EditRestore(ids) (abort, restore previous status)").
func (d *Dispatcher) handleEditRestore(req rpc.Request) rpc.Response {
	restored := 0
	for _, id := range req.Selection.IDs {
		t, ok := d.store.Task(id)
		if !ok || t.Status.Kind != task.KindLocked {
			continue
		}
		d.store.ChangeStatus(id, *t.Status.Previous)
		restored++
	}
	return rpc.Success(restoreMessage(restored))
}

func commitMessage(n int) string {
	return fmt.Sprintf("%d task(s) edited", n)
}

func restoreMessage(n int) string {
	return fmt.Sprintf("%d edit(s) restored", n)
}
