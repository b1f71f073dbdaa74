package rpc

import (
	"time"

	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/task"
)

// Selection mirrors supervisor.Selection on the wire so a Request can name
// "these ids", "these groups" or "everything" without depending on the
// supervisor package.
type Selection struct {
	IDs    []int    `cbor:"ids,omitempty"`
	Groups []string `cbor:"groups,omitempty"`
	All    bool     `cbor:"all,omitempty"`
}

// NewTask carries everything a client supplies for Add (spec.md §4.F, "Add").
type NewTask struct {
	Command          string            `cbor:"command"`
	Path             string            `cbor:"path"`
	Envs             map[string]string `cbor:"envs,omitempty"`
	Group            string            `cbor:"group,omitempty"`
	Dependencies     []int             `cbor:"dependencies,omitempty"`
	Priority         int               `cbor:"priority,omitempty"`
	Label            string            `cbor:"label,omitempty"`
	EnqueueAt        *time.Time        `cbor:"enqueue_at,omitempty"`
	Stashed          bool              `cbor:"stashed,omitempty"`
	StartImmediately bool              `cbor:"start_immediately,omitempty"`
}

// RequestKind discriminates Request the way task.Kind discriminates Status:
// a tag plus the union of every variant's fields on one struct, so the wire
// type stays a single CBOR-friendly value instead of an interface.
type RequestKind string

const (
	ReqAdd          RequestKind = "Add"
	ReqRemove       RequestKind = "Remove"
	ReqSwitch       RequestKind = "Switch"
	ReqStash        RequestKind = "Stash"
	ReqEnqueue      RequestKind = "Enqueue"
	ReqStart        RequestKind = "Start"
	ReqPause        RequestKind = "Pause"
	ReqKill         RequestKind = "Kill"
	ReqSend         RequestKind = "Send"
	ReqEditRequest  RequestKind = "EditRequest"
	ReqEditedTasks  RequestKind = "EditedTasks"
	ReqEditRestore  RequestKind = "EditRestore"
	ReqEnvSet       RequestKind = "EnvSet"
	ReqEnvUnset     RequestKind = "EnvUnset"
	ReqGroupAdd     RequestKind = "GroupAdd"
	ReqGroupRemove  RequestKind = "GroupRemove"
	ReqGroupList    RequestKind = "GroupList"
	ReqParallel     RequestKind = "Parallel"
	ReqStatus       RequestKind = "Status"
	ReqLog          RequestKind = "Log"
	ReqStreamLog    RequestKind = "StreamLog"
	ReqClean        RequestKind = "Clean"
	ReqReset        RequestKind = "Reset"
	ReqShutdown     RequestKind = "Shutdown"
)

// Request is the tagged-union wire type for every client-initiated message
// (spec.md §4.F, §6). Only the fields meaningful for Kind are populated.
type Request struct {
	Kind RequestKind `cbor:"kind"`

	// Add
	New *NewTask `cbor:"new,omitempty"`

	// Remove, Switch (two ids via Selection.IDs), Stash, Enqueue, Start,
	// Pause, Kill, EditRequest, EditRestore, Clean, Log. Send and
	// EnvSet/Unset use TaskID instead; GroupAdd/Remove and Parallel use
	// GroupName.
	Selection Selection `cbor:"selection,omitempty"`

	EnqueueAt *time.Time     `cbor:"enqueue_at,omitempty"`
	Signal    process.Signal `cbor:"signal,omitempty"`

	TaskID int    `cbor:"task_id,omitempty"`
	Text   string `cbor:"text,omitempty"`

	EditedTasks []EditedTask `cbor:"edited_tasks,omitempty"`

	EnvKey   string `cbor:"env_key,omitempty"`
	EnvValue string `cbor:"env_value,omitempty"`

	GroupName     string `cbor:"group_name,omitempty"`
	ParallelTasks int    `cbor:"parallel_tasks,omitempty"`

	Filter string `cbor:"filter,omitempty"`

	LogLines int `cbor:"log_lines,omitempty"`

	Graceful bool `cbor:"graceful,omitempty"`
}

// EditedTask is the editable subset of a task a client may rewrite during
// the commit half of the edit flow (spec.md §4.F, "EditedTasks(list)").
type EditedTask struct {
	ID       int    `cbor:"id"`
	Command  string `cbor:"command,omitempty"`
	Path     string `cbor:"path,omitempty"`
	Priority int    `cbor:"priority,omitempty"`
	Label    string `cbor:"label,omitempty"`
}

// ResponseKind discriminates Response (spec.md §6).
type ResponseKind string

const (
	RespSuccess ResponseKind = "Success"
	RespFailure ResponseKind = "Failure"
	RespStatus  ResponseKind = "Status"
	RespLog     ResponseKind = "Log"
	RespGroup   ResponseKind = "Group"
	RespEdit    ResponseKind = "Edit"
	RespStream  ResponseKind = "Stream"
	RespClose   ResponseKind = "Close"
)

// TaskLog pairs a task snapshot with its captured output for the Log
// response (spec.md §6).
type TaskLog struct {
	Task      task.Task `cbor:"task"`
	Stdout    string    `cbor:"stdout,omitempty"`
	Stderr    string    `cbor:"stderr,omitempty"`
	Truncated bool      `cbor:"truncated,omitempty"`
}

// Response is the tagged-union wire type for every daemon reply.
type Response struct {
	Kind ResponseKind `cbor:"kind"`

	Text string `cbor:"text,omitempty"` // Success, Failure

	Tasks  []task.Task           `cbor:"tasks,omitempty"`  // Status
	Groups map[string]task.Group `cbor:"groups,omitempty"` // Status, Group

	Log map[int]TaskLog `cbor:"log,omitempty"`

	Edit []EditedTask `cbor:"edit,omitempty"`

	Chunk []byte `cbor:"chunk,omitempty"` // Stream
}

func Success(text string) Response { return Response{Kind: RespSuccess, Text: text} }
func Failure(text string) Response { return Response{Kind: RespFailure, Text: text} }
func Close() Response              { return Response{Kind: RespClose} }

func Stream(chunk []byte) Response {
	return Response{Kind: RespStream, Chunk: chunk}
}
