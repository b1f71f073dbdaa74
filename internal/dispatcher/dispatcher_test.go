package dispatcher

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/pueued/internal/config"
	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/rpc"
	"github.com/hrygo/pueued/internal/state"
	"github.com/hrygo/pueued/internal/supervisor"
	"github.com/hrygo/pueued/internal/task"
)

// stubController is a process.Controller double that never forks a real OS
// process — good enough for dispatcher tests, which only need the
// Supervisor to accept commands onto its inbox, not actually run anything.
type stubController struct{}

func (stubController) Spawn(_ context.Context, _ []string, _ string, _ []string, _, _ io.Writer) (*process.ChildHandle, error) {
	return process.NewTestHandle(1), nil
}
func (stubController) PauseTree(_ *process.ChildHandle, _ bool) error  { return nil }
func (stubController) ResumeTree(_ *process.ChildHandle, _ bool) error { return nil }
func (stubController) SignalTree(_ *process.ChildHandle, _ process.Signal, _ bool) error {
	return nil
}
func (stubController) KillTree(_ *process.ChildHandle, _ bool) error { return nil }
func (stubController) TryWait(_ *process.ChildHandle) (*process.ExitStatus, error) {
	return nil, nil
}

func newHarness(t *testing.T) (*Dispatcher, *state.Store) {
	t.Helper()
	store := state.New()
	dir := t.TempDir()
	cfg := &config.Settings{
		Data:                   dir,
		LogDir:                 dir,
		ShellCmd:               []string{"sh", "-c", "{{ pueue_command_string }}"},
		MaxConcurrentCallbacks: 8,
		DefaultGroupParallel:   1,
	}
	sup := supervisor.New(store, stubController{}, cfg, nil, nil, 8)
	return New(store, sup, dir), store
}

func handle(d *Dispatcher, req rpc.Request) rpc.Response {
	resp, _ := d.Handle(req)
	return resp
}

func TestHandleAddRejectsMissingDependency(t *testing.T) {
	d, _ := newHarness(t)
	resp := handle(d, rpc.Request{
		Kind: rpc.ReqAdd,
		New:  &rpc.NewTask{Command: "true", Path: "/tmp", Dependencies: []int{99}},
	})
	require.Equal(t, rpc.RespFailure, resp.Kind)
}

func TestHandleAddDefaultsToQueued(t *testing.T) {
	d, store := newHarness(t)
	resp := handle(d, rpc.Request{
		Kind: rpc.ReqAdd,
		New:  &rpc.NewTask{Command: "true", Path: "/tmp"},
	})
	require.Equal(t, rpc.RespSuccess, resp.Kind)

	tasks := store.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, task.KindQueued, tasks[0].Status.Kind)
}

func TestHandleAddStashedWhenEnqueueAtSet(t *testing.T) {
	d, store := newHarness(t)
	at := time.Now().Add(time.Hour)
	resp := handle(d, rpc.Request{
		Kind: rpc.ReqAdd,
		New:  &rpc.NewTask{Command: "true", Path: "/tmp", EnqueueAt: &at},
	})
	require.Equal(t, rpc.RespSuccess, resp.Kind)
	tasks := store.Tasks()
	require.Equal(t, task.KindStashed, tasks[0].Status.Kind)
	require.NotNil(t, tasks[0].Status.EnqueueAt)
}

func TestHandleRemoveRejectsRunningTask(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})
	now := time.Now()
	store.ChangeStatus(id, task.Running(now, now))

	resp := handle(d, rpc.Request{Kind: rpc.ReqRemove, Selection: rpc.Selection{IDs: []int{id}}})
	require.Equal(t, rpc.RespSuccess, resp.Kind)
	_, stillThere := store.Task(id)
	require.True(t, stillThere, "a running task must never be removed")
}

func TestHandleSwitchExchangesTwoQueuedTasks(t *testing.T) {
	d, store := newHarness(t)
	a := store.AddTask(&task.Task{Command: "a", Path: "/tmp", Group: task.DefaultGroup, Label: "a", Status: task.Queued(time.Now())})
	b := store.AddTask(&task.Task{Command: "b", Path: "/tmp", Group: task.DefaultGroup, Label: "b", Status: task.Queued(time.Now())})

	resp := handle(d, rpc.Request{Kind: rpc.ReqSwitch, Selection: rpc.Selection{IDs: []int{a, b}}})
	require.Equal(t, rpc.RespSuccess, resp.Kind)

	atA, _ := store.Task(a)
	require.Equal(t, "b", atA.Label)
}

func TestHandleStashAndEnqueueRoundTrip(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "a", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})

	stashResp := handle(d, rpc.Request{Kind: rpc.ReqStash, Selection: rpc.Selection{IDs: []int{id}}})
	require.Equal(t, rpc.RespSuccess, stashResp.Kind)
	stashed, _ := store.Task(id)
	require.Equal(t, task.KindStashed, stashed.Status.Kind)

	enqueueResp := handle(d, rpc.Request{Kind: rpc.ReqEnqueue, Selection: rpc.Selection{IDs: []int{id}}})
	require.Equal(t, rpc.RespSuccess, enqueueResp.Kind)
	queued, _ := store.Task(id)
	require.Equal(t, task.KindQueued, queued.Status.Kind)
}

func TestHandleCleanRemovesOnlyDoneTasks(t *testing.T) {
	d, store := newHarness(t)
	now := time.Now()
	doneID := store.AddTask(&task.Task{Command: "a", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(now)})
	store.ChangeStatus(doneID, task.Done(now, now, now, task.Success()))
	queuedID := store.AddTask(&task.Task{Command: "b", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(now)})

	resp := handle(d, rpc.Request{Kind: rpc.ReqClean})
	require.Equal(t, rpc.RespSuccess, resp.Kind)

	_, doneStillThere := store.Task(doneID)
	require.False(t, doneStillThere)
	_, queuedStillThere := store.Task(queuedID)
	require.True(t, queuedStillThere)
}

func TestEditFlowCommitAppliesChangesAndUnlocks(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "old", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})

	lockResp := handle(d, rpc.Request{Kind: rpc.ReqEditRequest, Selection: rpc.Selection{IDs: []int{id}}})
	require.Equal(t, rpc.RespEdit, lockResp.Kind)
	require.Len(t, lockResp.Edit, 1)

	locked, _ := store.Task(id)
	require.Equal(t, task.KindLocked, locked.Status.Kind)

	commitResp := handle(d, rpc.Request{
		Kind:        rpc.ReqEditedTasks,
		EditedTasks: []rpc.EditedTask{{ID: id, Command: "new", Path: "/tmp", Priority: 5}},
	})
	require.Equal(t, rpc.RespSuccess, commitResp.Kind)

	committed, _ := store.Task(id)
	require.Equal(t, "new", committed.Command)
	require.Equal(t, task.KindQueued, committed.Status.Kind)
}

func TestEditFlowRestoreDiscardsLock(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "old", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})
	handle(d, rpc.Request{Kind: rpc.ReqEditRequest, Selection: rpc.Selection{IDs: []int{id}}})

	resp := handle(d, rpc.Request{Kind: rpc.ReqEditRestore, Selection: rpc.Selection{IDs: []int{id}}})
	require.Equal(t, rpc.RespSuccess, resp.Kind)

	restored, _ := store.Task(id)
	require.Equal(t, task.KindQueued, restored.Status.Kind)
	require.Equal(t, "old", restored.Command)
}

func TestHandleGroupAddRemoveList(t *testing.T) {
	d, _ := newHarness(t)
	resp := handle(d, rpc.Request{Kind: rpc.ReqGroupAdd, GroupName: "build", ParallelTasks: 3})
	require.Equal(t, rpc.RespSuccess, resp.Kind)

	listResp := handle(d, rpc.Request{Kind: rpc.ReqGroupList})
	require.Equal(t, rpc.RespGroup, listResp.Kind)
	require.Contains(t, listResp.Groups, "build")

	removeResp := handle(d, rpc.Request{Kind: rpc.ReqGroupRemove, GroupName: "build"})
	require.Equal(t, rpc.RespSuccess, removeResp.Kind)

	removeDefault := handle(d, rpc.Request{Kind: rpc.ReqGroupRemove, GroupName: task.DefaultGroup})
	require.Equal(t, rpc.RespFailure, removeDefault.Kind)
}

func TestHandleParallelUpdatesGroup(t *testing.T) {
	d, store := newHarness(t)
	handle(d, rpc.Request{Kind: rpc.ReqGroupAdd, GroupName: "build", ParallelTasks: 1})

	resp := handle(d, rpc.Request{Kind: rpc.ReqParallel, GroupName: "build", ParallelTasks: 4})
	require.Equal(t, rpc.RespSuccess, resp.Kind)

	g, ok := store.Group("build")
	require.True(t, ok)
	require.Equal(t, 4, g.ParallelTasks)
}

func TestHandleEnvSetRejectsStartedTask(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})
	now := time.Now()
	store.ChangeStatus(id, task.Running(now, now))

	resp := handle(d, rpc.Request{Kind: rpc.ReqEnvSet, TaskID: id, EnvKey: "FOO", EnvValue: "bar"})
	require.Equal(t, rpc.RespFailure, resp.Kind)
}

func TestHandleEnvSetAndUnset(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})

	setResp := handle(d, rpc.Request{Kind: rpc.ReqEnvSet, TaskID: id, EnvKey: "FOO", EnvValue: "bar"})
	require.Equal(t, rpc.RespSuccess, setResp.Kind)
	withEnv, _ := store.Task(id)
	require.Equal(t, "bar", withEnv.Envs["FOO"])

	unsetResp := handle(d, rpc.Request{Kind: rpc.ReqEnvUnset, TaskID: id, EnvKey: "FOO"})
	require.Equal(t, rpc.RespSuccess, unsetResp.Kind)
	withoutEnv, _ := store.Task(id)
	_, stillSet := withoutEnv.Envs["FOO"]
	require.False(t, stillSet)
}

func TestHandleStatusAppliesFilter(t *testing.T) {
	d, store := newHarness(t)
	store.CreateGroup("alpha", 1)
	store.AddTask(&task.Task{Command: "a", Path: "/tmp", Group: "alpha", Status: task.Queued(time.Now())})
	store.AddTask(&task.Task{Command: "b", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})

	resp := handle(d, rpc.Request{Kind: rpc.ReqStatus, Filter: `group == "alpha"`})
	require.Equal(t, rpc.RespStatus, resp.Kind)
	require.Len(t, resp.Tasks, 1)
	require.Equal(t, "alpha", resp.Tasks[0].Group)
}

func TestHandleStatusRejectsInvalidFilter(t *testing.T) {
	d, _ := newHarness(t)
	resp := handle(d, rpc.Request{Kind: rpc.ReqStatus, Filter: `not a valid expression (`})
	require.Equal(t, rpc.RespFailure, resp.Kind)
}

func TestHandleStartBranchesOnSelection(t *testing.T) {
	d, sup := newHarness(t)
	_ = sup

	forceResp := handle(d, rpc.Request{Kind: rpc.ReqStart, Selection: rpc.Selection{IDs: []int{1}}})
	require.Equal(t, rpc.RespSuccess, forceResp.Kind)
	cmd := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandForceStart, cmd.Kind)

	bareResp := handle(d, rpc.Request{Kind: rpc.ReqStart})
	require.Equal(t, rpc.RespSuccess, bareResp.Kind)
	cmd2 := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandResume, cmd2.Kind)
	require.True(t, cmd2.Selection.All)
}

func TestHandlePauseKillQueueCommands(t *testing.T) {
	d, _ := newHarness(t)

	handle(d, rpc.Request{Kind: rpc.ReqPause, Selection: rpc.Selection{All: true}})
	pauseCmd := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandPause, pauseCmd.Kind)

	handle(d, rpc.Request{Kind: rpc.ReqKill, Selection: rpc.Selection{IDs: []int{1}}, Signal: process.SignalKill})
	killCmd := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandKill, killCmd.Kind)
}

func TestHandleSendRejectsNonRunningTask(t *testing.T) {
	d, store := newHarness(t)
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(time.Now())})

	resp := handle(d, rpc.Request{Kind: rpc.ReqSend, TaskID: id, Text: "hello\n"})
	require.Equal(t, rpc.RespFailure, resp.Kind)
}

func TestHandleSendQueuesStdinForRunningTask(t *testing.T) {
	d, store := newHarness(t)
	now := time.Now()
	id := store.AddTask(&task.Task{Command: "true", Path: "/tmp", Group: task.DefaultGroup, Status: task.Queued(now)})
	store.ChangeStatus(id, task.Running(now, now))

	resp := handle(d, rpc.Request{Kind: rpc.ReqSend, TaskID: id, Text: "hello\n"})
	require.Equal(t, rpc.RespSuccess, resp.Kind)
	cmd := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandSendStdin, cmd.Kind)
	require.Equal(t, "hello\n", cmd.Stdin)
}

func TestHandleResetQueuesCommand(t *testing.T) {
	d, _ := newHarness(t)
	resp := handle(d, rpc.Request{Kind: rpc.ReqReset})
	require.Equal(t, rpc.RespSuccess, resp.Kind)
	cmd := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandReset, cmd.Kind)
}

func TestHandleShutdownRepliesBeforeQueueingCommand(t *testing.T) {
	d, _ := newHarness(t)
	resp, after := d.Handle(rpc.Request{Kind: rpc.ReqShutdown, Graceful: true})
	require.Equal(t, rpc.RespSuccess, resp.Kind)
	require.NotNil(t, after)

	select {
	case <-d.sup.Inbox:
		t.Fatal("shutdown command must not be queued before the post-action runs")
	default:
	}

	after()
	cmd := <-d.sup.Inbox
	require.Equal(t, supervisor.CommandShutdown, cmd.Kind)
	require.True(t, cmd.Graceful)
}
