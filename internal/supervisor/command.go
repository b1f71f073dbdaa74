package supervisor

import "github.com/hrygo/pueued/internal/process"

// Selection identifies which tasks a Command applies to (spec.md §4.F): an
// explicit id list, one or more groups, or every task. Exactly one of these
// should be populated by the Dispatcher; Supervisor.selectionIDs treats
// an empty Selection as "every task".
type Selection struct {
	IDs    []int
	Groups []string
	All    bool
}

// CommandKind discriminates the inbox messages spec.md §4.F lists as
// "Exactly those actions that must interact with child handles".
type CommandKind string

const (
	CommandForceStart CommandKind = "ForceStart"
	CommandPause      CommandKind = "Pause"
	CommandResume     CommandKind = "Resume"
	CommandKill       CommandKind = "Kill"
	CommandSendStdin  CommandKind = "SendStdin"
	CommandReset      CommandKind = "Reset"
	CommandShutdown   CommandKind = "Shutdown"
)

// Command is a single message on the Supervisor's inbox, pushed by
// Dispatcher handlers and drained non-blockingly at the start of every tick
// (spec.md §4.D step 1).
type Command struct {
	Kind CommandKind

	Selection Selection

	// Kill
	Signal process.Signal

	// SendStdin
	TaskID int
	Stdin  string

	// Shutdown
	Graceful bool
}
