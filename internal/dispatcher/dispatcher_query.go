package dispatcher

import (
	"github.com/hrygo/pueued/internal/logs"
	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/task"
)

const defaultLogLines = 40

// handleStatus returns every task and group, narrowed by req.Filter when
// present (spec.md §4.F [FULL], the CEL query language layered on top of
// Status).
func (d *Dispatcher) handleStatus(req rpc.Request) rpc.Response {
	tasks := d.store.Tasks()
	if req.Filter != "" {
		filter, err := state.CompileFilter(req.Filter)
		if err != nil {
			return rpc.Failure("invalid filter: " + err.Error())
		}
		pred := filter.Predicate()
		var filtered []*task.Task
		for _, t := range tasks {
			if pred(t) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	out := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *t)
	}
	groups, _ := d.store.Groups()
	return rpc.Response{Kind: rpc.RespStatus, Tasks: out, Groups: groups}
}

// handleLog reads the last N lines of stdout/stderr for every selected task
// (spec.md §4.F, "Status / Log / Clean / Reset / Shutdown: obvious
// mappings").
func (d *Dispatcher) handleLog(req rpc.Request) rpc.Response {
	lines := req.LogLines
	if lines <= 0 {
		lines = defaultLogLines
	}

	ids := selectionIDs(d, req.Selection)
	if ids == nil {
		for _, t := range d.store.Tasks() {
			ids = append(ids, t.ID)
		}
	}

	out := make(map[int]rpc.TaskLog, len(ids))
	for _, id := range ids {
		t, ok := d.store.Task(id)
		if !ok {
			continue
		}
		stdout, stderr, err := logs.ReadLastLines(d.logDir, id, lines)
		entry := rpc.TaskLog{Task: *t}
		if err == nil {
			entry.Stdout = stdout
			entry.Stderr = stderr
		}
		out[id] = entry
	}
	return rpc.Response{Kind: rpc.RespLog, Log: out}
}
