package state

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/hrygo/pueued/internal/task"
)

// QueryFilter is the small expression language layered on top of
// FilterTasks (spec.md §4.B [FULL]) so a Status request can select
// tasks with an expression like `status == "Running" && group == "default"`
// instead of just an id list or a single group name. It is compiled once
// per request and evaluated per task, the same cel.NewEnv(cel.Variable(...))
// / env.Compile shape the teacher repo uses in
// server/router/api/v1/user_service_crud.go for its own filter strings.
type QueryFilter struct {
	program cel.Program
}

func filterEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("status", cel.StringType),
		cel.Variable("group", cel.StringType),
		cel.Variable("label", cel.StringType),
		cel.Variable("priority", cel.IntType),
	)
}

// CompileFilter compiles expr, which must evaluate to a bool, into a
// reusable QueryFilter. An empty expr is not a valid expression and fails
// to compile (callers should special-case it to "match everything" before
// calling CompileFilter, the way dispatcher_query.go does).
func CompileFilter(expr string) (*QueryFilter, error) {
	env, err := filterEnv()
	if err != nil {
		return nil, errors.Wrap(err, "build filter environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile filter %q", expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build program for filter %q", expr)
	}
	return &QueryFilter{program: prg}, nil
}

// Matches evaluates the compiled expression against t.
func (f *QueryFilter) Matches(t *task.Task) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"id":       int64(t.ID),
		"status":   string(t.Status.Kind),
		"group":    t.Group,
		"label":    t.Label,
		"priority": int64(t.Priority),
	})
	if err != nil {
		return false, errors.Wrap(err, "evaluate filter")
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("filter expression must evaluate to a bool")
	}
	return b, nil
}

// Predicate adapts the CEL filter to the func(*task.Task) bool shape
// FilterTasks expects; evaluation errors are treated as non-matches.
func (f *QueryFilter) Predicate() func(*task.Task) bool {
	return func(t *task.Task) bool {
		ok, err := f.Matches(t)
		return err == nil && ok
	}
}
