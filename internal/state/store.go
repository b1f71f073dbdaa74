// Package state implements the State Store described in spec.md §4.B: the
// in-memory authoritative model of tasks and groups, guarded by a single
// mutex the way ai/agents/runner/session_manager.go in the teacher repo
// guards its session map with CCSessionManager.mu.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/pueued/internal/task"
)

// ShutdownKind discriminates a requested shutdown (spec.md §3 "State").
type ShutdownKind string

const (
	ShutdownGraceful  ShutdownKind = "Graceful"
	ShutdownEmergency ShutdownKind = "Emergency"
)

// nowFunc is overridden in tests so persistence/recovery assertions don't
// race real wall-clock time.
var nowFunc = time.Now

// State is the serializable snapshot described in spec.md §3. Children
// handles are runtime-only and are never part of it.
type State struct {
	Tasks    map[int]*task.Task    `json:"-"`
	Groups   map[string]*task.Group `json:"-"`
	Shutdown *ShutdownKind          `json:"-"`

	order      []int
	groupOrder []string
}

// Store is the locked, mutable owner of a State (spec.md §4.B). Every
// mutating operation takes the exclusive lock for the minimum span required;
// no I/O other than the atomic snapshot write happens while it is held.
type Store struct {
	mu    sync.RWMutex
	state State

	// saveFailed is set once Save fails; the Supervisor checks it at the
	// end of every tick and initiates emergency shutdown if set
	// (spec.md §4.B "save").
	saveFailed bool
}

// New returns a Store seeded with only the "default" group, which always
// exists and can never be removed (spec.md §3 "Group").
func New() *Store {
	return &Store{
		state: State{
			Tasks:  make(map[int]*task.Task),
			Groups: map[string]*task.Group{
				task.DefaultGroup: {Status: task.GroupRunning, ParallelTasks: 1},
			},
			groupOrder: []string{task.DefaultGroup},
		},
	}
}

// AddTask assigns the next id (max existing + 1, or 0 when empty) and
// inserts t, returning the assigned id (spec.md §3 "id").
func (s *Store) AddTask(t *task.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := 0
	if len(s.state.order) > 0 {
		id = s.state.order[len(s.state.order)-1] + 1
	}
	clone := t.Clone()
	clone.ID = id
	s.state.Tasks[id] = clone
	s.state.order = append(s.state.order, id)
	return id
}

// Task returns a deep copy of the task with the given id.
func (s *Store) Task(id int) (*task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.Tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns a deep copy of every task, in insertion order.
func (s *Store) Tasks() []*task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.Task, 0, len(s.state.order))
	for _, id := range s.state.order {
		out = append(out, s.state.Tasks[id].Clone())
	}
	return out
}

// ChangeStatus is the direct setter described in spec.md §4.B; callers are
// responsible for only requesting transitions legal under spec.md §4.D.
func (s *Store) ChangeStatus(id int, status task.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Tasks[id]
	if !ok {
		return false
	}
	t.Status = status
	return true
}

// UpdateTask runs mutate against the live task under the store's lock,
// letting callers (principally the Dispatcher's edit/env handlers) change
// multiple fields atomically.
func (s *Store) UpdateTask(id int, mutate func(*task.Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Tasks[id]
	if !ok {
		return false
	}
	mutate(t)
	return true
}

// RemoveTask deletes id unconditionally; callers must have already verified
// it is safe to remove (not Running/Paused, and IsTaskRemovable) — this
// mirrors spec.md §4.B, which keeps the safety predicate
// (is_task_removable) separate from the removal itself.
func (s *Store) RemoveTask(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Tasks[id]; !ok {
		return false
	}
	delete(s.state.Tasks, id)
	for i, existing := range s.state.order {
		if existing == id {
			s.state.order = append(s.state.order[:i], s.state.order[i+1:]...)
			break
		}
	}
	return true
}

// SwitchTasks exchanges the ids of two tasks, both of which must currently
// be Queued or Stashed (spec.md §4.F, "Switch(a,b)").
func (s *Store) SwitchTasks(a, b int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ta, ok := s.state.Tasks[a]
	if !ok || !switchable(ta) {
		return false
	}
	tb, ok := s.state.Tasks[b]
	if !ok || !switchable(tb) {
		return false
	}

	ta.ID, tb.ID = b, a
	s.state.Tasks[a] = tb
	s.state.Tasks[b] = ta
	return true
}

func switchable(t *task.Task) bool {
	return t.Status.Kind == task.KindQueued || t.Status.Kind == task.KindStashed
}

// IsTaskRemovable recursively verifies no non-Done task outside
// alsoBeingRemoved still lists id as a dependency (spec.md §4.B).
func (s *Store) IsTaskRemovable(id int, alsoBeingRemoved map[int]bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visited := map[int]bool{}
	var removable func(id int) bool
	removable = func(id int) bool {
		visited[id] = true
		for _, t := range s.state.Tasks {
			if t.Status.IsDone() {
				continue
			}
			for _, dep := range t.Dependencies {
				if dep != id {
					continue
				}
				if !alsoBeingRemoved[t.ID] {
					return false
				}
				if !visited[t.ID] && !removable(t.ID) {
					return false
				}
			}
		}
		return true
	}
	return removable(id)
}

// FilterTasks is the primitive spec.md §4.B describes as "used by all
// 'apply action to group/all/ids' operations": it splits either every task
// (ids == nil) or just the listed ids into those pred accepts and those it
// rejects. Ids absent from the store are silently skipped.
func (s *Store) FilterTasks(pred func(*task.Task) bool, ids []int) (matching, nonMatching []*task.Task) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consider := ids
	if consider == nil {
		consider = s.state.order
	}
	for _, id := range consider {
		t, ok := s.state.Tasks[id]
		if !ok {
			continue
		}
		clone := t.Clone()
		if pred(t) {
			matching = append(matching, clone)
		} else {
			nonMatching = append(nonMatching, clone)
		}
	}
	return matching, nonMatching
}

// CreateGroup creates name with the given parallelTasks and status Running
// (spec.md §4.B). An existing group is left unchanged and false is returned.
func (s *Store) CreateGroup(name string, parallelTasks int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.Groups[name]; exists {
		return false
	}
	s.state.Groups[name] = &task.Group{Status: task.GroupRunning, ParallelTasks: parallelTasks}
	s.state.groupOrder = append(s.state.groupOrder, name)
	return true
}

// RemoveGroup fails for the default group; every task referencing name is
// reassigned to default (spec.md §4.B).
func (s *Store) RemoveGroup(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == task.DefaultGroup {
		return errors.New("state: the default group cannot be removed")
	}
	if _, exists := s.state.Groups[name]; !exists {
		return errors.Errorf("state: group %q does not exist", name)
	}
	delete(s.state.Groups, name)
	for i, existing := range s.state.groupOrder {
		if existing == name {
			s.state.groupOrder = append(s.state.groupOrder[:i], s.state.groupOrder[i+1:]...)
			break
		}
	}
	for _, t := range s.state.Tasks {
		if t.Group == name {
			t.Group = task.DefaultGroup
		}
	}
	return nil
}

// SetAllGroupsStatus sets status on every existing group.
func (s *Store) SetAllGroupsStatus(status task.GroupStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.state.Groups {
		g.Status = status
	}
}

// Group returns a copy of the named group.
func (s *Store) Group(name string) (task.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.Groups[name]
	if !ok {
		return task.Group{}, false
	}
	return *g, true
}

// SetGroupStatus sets the status of a single existing group.
func (s *Store) SetGroupStatus(name string, status task.GroupStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.state.Groups[name]
	if !ok {
		return false
	}
	g.Status = status
	return true
}

// SetGroupParallelism updates the group's parallel slot count
// (spec.md §4.F "Parallel(group, n)").
func (s *Store) SetGroupParallelism(name string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.state.Groups[name]
	if !ok {
		return false
	}
	g.ParallelTasks = n
	return true
}

// Groups returns a copy of the group map along with its insertion order.
func (s *Store) Groups() (map[string]task.Group, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]task.Group, len(s.state.Groups))
	for name, g := range s.state.Groups {
		out[name] = *g
	}
	order := append([]string(nil), s.state.groupOrder...)
	return out, order
}

// SetShutdown records the requested shutdown kind (spec.md §4.F "Shutdown").
func (s *Store) SetShutdown(kind ShutdownKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := kind
	s.state.Shutdown = &k
}

// Shutdown returns the requested shutdown kind, if any.
func (s *Store) Shutdown() *ShutdownKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Shutdown == nil {
		return nil
	}
	k := *s.state.Shutdown
	return &k
}

// MarkSaveFailed records that the last snapshot write failed; the
// Supervisor's tick loop consults SaveFailed to trigger emergency shutdown
// (spec.md §4.B, §7 StateSaveFailure).
func (s *Store) MarkSaveFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveFailed = true
}

// SaveFailed reports whether the last snapshot write failed.
func (s *Store) SaveFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveFailed
}

// snapshot copies the current state into the stable, ordered shape persist.go
// serializes, without holding the lock during I/O.
func (s *Store) snapshot() snapshotState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*task.Task, 0, len(s.state.order))
	for _, id := range s.state.order {
		tasks = append(tasks, s.state.Tasks[id].Clone())
	}
	groups := make([]namedGroup, 0, len(s.state.groupOrder))
	for _, name := range s.state.groupOrder {
		groups = append(groups, namedGroup{Name: name, Group: *s.state.Groups[name]})
	}
	return snapshotState{Tasks: tasks, Groups: groups, Shutdown: s.state.Shutdown}
}

// restoreFrom replaces the store's contents with snap, rebuilding the order
// slices and next-id bookkeeping.
func (s *Store) restoreFrom(snap snapshotState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Tasks = make(map[int]*task.Task, len(snap.Tasks))
	s.state.order = make([]int, 0, len(snap.Tasks))
	ids := make([]int, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		ids = append(ids, t.ID)
	}
	sort.Ints(ids)
	byID := make(map[int]*task.Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		byID[t.ID] = t
	}
	for _, id := range ids {
		s.state.Tasks[id] = byID[id]
		s.state.order = append(s.state.order, id)
	}

	s.state.Groups = make(map[string]*task.Group, len(snap.Groups))
	s.state.groupOrder = make([]string, 0, len(snap.Groups))
	for _, ng := range snap.Groups {
		g := ng.Group
		s.state.Groups[ng.Name] = &g
		s.state.groupOrder = append(s.state.groupOrder, ng.Name)
	}
	if _, ok := s.state.Groups[task.DefaultGroup]; !ok {
		s.state.Groups[task.DefaultGroup] = &task.Group{Status: task.GroupRunning, ParallelTasks: 1}
		s.state.groupOrder = append(s.state.groupOrder, task.DefaultGroup)
	}

	s.state.Shutdown = snap.Shutdown
	s.saveFailed = false
}
