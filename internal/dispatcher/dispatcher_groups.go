package dispatcher

import (
	"fmt"

	"github.com/hrygo/pueued/internal/rpc"
)

// handleGroupAdd creates a new group at the given parallelism
// (spec.md §4.F, "Group Add/Remove/List").
func (d *Dispatcher) handleGroupAdd(req rpc.Request) rpc.Response {
	parallel := req.ParallelTasks
	if parallel == 0 {
		parallel = 1
	}
	if !d.store.CreateGroup(req.GroupName, parallel) {
		return rpc.Failure(fmt.Sprintf("group %q already exists", req.GroupName))
	}
	return rpc.Success(fmt.Sprintf("group %q created", req.GroupName))
}

// handleGroupRemove deletes a group; the default group can never be removed
// (enforced by state.Store.RemoveGroup).
func (d *Dispatcher) handleGroupRemove(req rpc.Request) rpc.Response {
	if err := d.store.RemoveGroup(req.GroupName); err != nil {
		return rpc.Failure(err.Error())
	}
	return rpc.Success(fmt.Sprintf("group %q removed", req.GroupName))
}

// handleGroupList returns the full group map.
func (d *Dispatcher) handleGroupList(_ rpc.Request) rpc.Response {
	groups, _ := d.store.Groups()
	return rpc.Response{Kind: rpc.RespGroup, Groups: groups}
}

// handleParallel updates a group's parallel slot count
// (spec.md §4.F, "Parallel(group, n)").
func (d *Dispatcher) handleParallel(req rpc.Request) rpc.Response {
	if !d.store.SetGroupParallelism(req.GroupName, req.ParallelTasks) {
		return rpc.Failure(fmt.Sprintf("group %q does not exist", req.GroupName))
	}
	return rpc.Success(fmt.Sprintf("group %q parallelism set to %d", req.GroupName, req.ParallelTasks))
}
