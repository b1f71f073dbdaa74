package dispatcher

import (
	"fmt"

	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/supervisor"
	"github.com/hrygo/pueued/internal/task"
)

// handleStart implements spec.md §4.F's "Start/Pause/Kill(selection, …)"
// for Start specifically: explicit ids/groups force-start, a bare Start
// (no selection) only resumes paused tasks (spec.md §4.D, "Force-start").
func (d *Dispatcher) handleStart(req rpc.Request) rpc.Response {
	sel := toSelection(req.Selection)
	if len(sel.IDs) > 0 || len(sel.Groups) > 0 {
		d.sup.Inbox <- supervisor.Command{Kind: supervisor.CommandForceStart, Selection: sel}
		return rpc.Success("force-start command queued")
	}
	d.sup.Inbox <- supervisor.Command{Kind: supervisor.CommandResume, Selection: supervisor.Selection{All: true}}
	return rpc.Success("resume command queued")
}

func (d *Dispatcher) handlePause(req rpc.Request) rpc.Response {
	d.sup.Inbox <- supervisor.Command{Kind: supervisor.CommandPause, Selection: toSelection(req.Selection)}
	return rpc.Success("pause command queued")
}

func (d *Dispatcher) handleKill(req rpc.Request) rpc.Response {
	d.sup.Inbox <- supervisor.Command{
		Kind:      supervisor.CommandKill,
		Selection: toSelection(req.Selection),
		Signal:    req.Signal,
	}
	return rpc.Success("kill command queued")
}

// handleSend requires the target task to be Running and forwards a command
// that the Supervisor turns into a write to the child's stdin (spec.md
// §4.F, "Send(id, text)").
func (d *Dispatcher) handleSend(req rpc.Request) rpc.Response {
	t, ok := d.store.Task(req.TaskID)
	if !ok {
		return rpc.Failure(fmt.Sprintf("task %d does not exist", req.TaskID))
	}
	if t.Status.Kind != task.KindRunning {
		return rpc.Failure(fmt.Sprintf("task %d is not running", req.TaskID))
	}
	d.sup.Inbox <- supervisor.Command{Kind: supervisor.CommandSendStdin, TaskID: req.TaskID, Stdin: req.Text}
	return rpc.Success(fmt.Sprintf("sent %d byte(s) to task %d", len(req.Text), req.TaskID))
}

// handleReset pushes a reset command; the Supervisor purges all non-running
// state once every child has exited (spec.md §4.D step 3).
func (d *Dispatcher) handleReset(_ rpc.Request) rpc.Response {
	d.sup.Inbox <- supervisor.Command{Kind: supervisor.CommandReset}
	return rpc.Success("reset command queued")
}

// handleShutdown replies first, then (via the returned post-action) pushes
// the shutdown command the Supervisor observes no later than its next tick
// (spec.md §5, "Shutdown is ordered").
func (d *Dispatcher) handleShutdown(req rpc.Request) (rpc.Response, func()) {
	resp := rpc.Success("shutting down")
	after := func() {
		d.sup.Inbox <- supervisor.Command{Kind: supervisor.CommandShutdown, Graceful: req.Graceful}
	}
	return resp, after
}
