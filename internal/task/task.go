// Package task holds the data model shared by every other package in this
// module: the Task record, its tagged-union Status, and the Group quota
// record described in spec.md §3.
package task

import "time"

// Kind discriminates the variants of Status. Go has no native sum type, so
// the tag plus variant-carried fields are kept together on one struct rather
// than splitting status into a flat enum with nullable timestamp fields next
// to it — that shape is exactly what spec.md §9 calls out as error-prone.
type Kind string

const (
	KindStashed Kind = "Stashed"
	KindLocked  Kind = "Locked"
	KindQueued  Kind = "Queued"
	KindRunning Kind = "Running"
	KindPaused  Kind = "Paused"
	KindDone    Kind = "Done"
)

// ResultKind discriminates the outcome of a Done task.
type ResultKind string

const (
	ResultSuccess          ResultKind = "Success"
	ResultFailed           ResultKind = "Failed"
	ResultFailedToSpawn    ResultKind = "FailedToSpawn"
	ResultKilled           ResultKind = "Killed"
	ResultErrored          ResultKind = "Errored"
	ResultDependencyFailed ResultKind = "DependencyFailed"
)

// TaskResult is the outcome of a finished task (spec.md §3, "result").
type TaskResult struct {
	Kind ResultKind `json:"kind"`
	// ExitCode is set when Kind == ResultFailed.
	ExitCode int `json:"exit_code,omitempty"`
	// ErrorText is set when Kind == ResultFailedToSpawn.
	ErrorText string `json:"error_text,omitempty"`
}

func Success() TaskResult { return TaskResult{Kind: ResultSuccess} }

func Failed(exitCode int) TaskResult {
	return TaskResult{Kind: ResultFailed, ExitCode: exitCode}
}

func FailedToSpawn(errText string) TaskResult {
	return TaskResult{Kind: ResultFailedToSpawn, ErrorText: errText}
}

func Killed() TaskResult { return TaskResult{Kind: ResultKilled} }

func Errored() TaskResult { return TaskResult{Kind: ResultErrored} }

func DependencyFailed() TaskResult { return TaskResult{Kind: ResultDependencyFailed} }

// IsSuccess reports whether the result represents a successful completion.
func (r TaskResult) IsSuccess() bool { return r.Kind == ResultSuccess }

// Status is the tagged union described in spec.md §3. Only the fields valid
// for Kind are meaningful; callers should go through the constructors below
// rather than building a Status by hand.
type Status struct {
	Kind Kind `json:"kind"`

	// Stashed
	EnqueueAt *time.Time `json:"enqueue_at,omitempty"`

	// Locked
	Previous *Status `json:"previous,omitempty"`

	// Queued, Running, Paused, Done
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty"`

	// Running, Paused, Done
	Start *time.Time `json:"start,omitempty"`

	// Done
	End    *time.Time  `json:"end,omitempty"`
	Result *TaskResult `json:"result,omitempty"`
}

func Stashed(enqueueAt *time.Time) Status {
	return Status{Kind: KindStashed, EnqueueAt: enqueueAt}
}

func Locked(previous Status) Status {
	prev := previous
	return Status{Kind: KindLocked, Previous: &prev}
}

func Queued(enqueuedAt time.Time) Status {
	t := enqueuedAt
	return Status{Kind: KindQueued, EnqueuedAt: &t}
}

func Running(enqueuedAt, start time.Time) Status {
	e, s := enqueuedAt, start
	return Status{Kind: KindRunning, EnqueuedAt: &e, Start: &s}
}

func Paused(enqueuedAt, start time.Time) Status {
	e, s := enqueuedAt, start
	return Status{Kind: KindPaused, EnqueuedAt: &e, Start: &s}
}

func Done(enqueuedAt, start, end time.Time, result TaskResult) Status {
	e, s, n := enqueuedAt, start, end
	r := result
	return Status{Kind: KindDone, EnqueuedAt: &e, Start: &s, End: &n, Result: &r}
}

// IsLive reports whether a child process handle should exist for this status
// (spec.md §3 invariant: Running/Paused ↔ live child handle).
func (s Status) IsLive() bool {
	return s.Kind == KindRunning || s.Kind == KindPaused
}

// IsDone reports whether the status is terminal.
func (s Status) IsDone() bool { return s.Kind == KindDone }

// Clone deep-copies a Status so callers outside the State Store's lock never
// observe a mutation made after the copy was taken.
func (s Status) Clone() Status {
	out := s
	if s.EnqueueAt != nil {
		t := *s.EnqueueAt
		out.EnqueueAt = &t
	}
	if s.Previous != nil {
		p := s.Previous.Clone()
		out.Previous = &p
	}
	if s.EnqueuedAt != nil {
		t := *s.EnqueuedAt
		out.EnqueuedAt = &t
	}
	if s.Start != nil {
		t := *s.Start
		out.Start = &t
	}
	if s.End != nil {
		t := *s.End
		out.End = &t
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}

// Task is the central entity described in spec.md §3.
type Task struct {
	ID              int               `json:"id"`
	OriginalCommand string            `json:"original_command"`
	Command         string            `json:"command"`
	Path            string            `json:"path"`
	Envs            map[string]string `json:"envs"`
	Group           string            `json:"group"`
	Dependencies    []int             `json:"dependencies"`
	Priority        int               `json:"priority"`
	Label           string            `json:"label"`
	Status          Status            `json:"status"`
}

// Clone deep-copies a Task, the unit of isolation every State Store read
// returns so that a caller holding no lock can't race a later mutation.
func (t *Task) Clone() *Task {
	out := *t
	out.Status = t.Status.Clone()
	if t.Envs != nil {
		out.Envs = make(map[string]string, len(t.Envs))
		for k, v := range t.Envs {
			out.Envs[k] = v
		}
	}
	if t.Dependencies != nil {
		out.Dependencies = append([]int(nil), t.Dependencies...)
	}
	return &out
}

// GroupStatus is the run/pause/reset switch described in spec.md §3.
type GroupStatus string

const (
	GroupRunning GroupStatus = "Running"
	GroupPaused  GroupStatus = "Paused"
	GroupReset   GroupStatus = "Reset"
)

// DefaultGroup is the group name that always exists and cannot be removed.
const DefaultGroup = "default"

// Group is a named quota bucket (spec.md §3).
type Group struct {
	Status       GroupStatus `json:"status"`
	ParallelTasks int        `json:"parallel_tasks"`
}

// Unlimited reports whether the group imposes no parallelism bound.
func (g Group) Unlimited() bool { return g.ParallelTasks == 0 }
