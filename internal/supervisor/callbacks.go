package supervisor

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/pueued/internal/logs"
	"github.com/hrygo/pueued/internal/process"
	"github.com/hrygo/pueued/internal/task"
)

const callbackTailLines = 10

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// renderCallback substitutes {{var}} placeholders in tmpl with values drawn
// from t (spec.md §4.D "Callbacks"). An unknown variable is an error, which
// the caller turns into a logged, dropped callback rather than a spawn.
func renderCallback(tmpl string, t *task.Task, logDir string) (string, error) {
	stdout, stderr, err := logs.ReadLastLines(logDir, t.ID, callbackTailLines)
	if err != nil {
		return "", errors.Wrap(err, "read log tail for callback")
	}

	values := map[string]string{
		"id":      fmt.Sprintf("%d", t.ID),
		"command": t.Command,
		"path":    t.Path,
		"group":   t.Group,
		"stdout":  stdout,
		"stderr":  stderr,
	}
	if t.Status.EnqueuedAt != nil {
		values["enqueue"] = t.Status.EnqueuedAt.Format(time.RFC3339)
	}
	if t.Status.Start != nil {
		values["start"] = t.Status.Start.Format(time.RFC3339)
	}
	if t.Status.End != nil {
		values["end"] = t.Status.End.Format(time.RFC3339)
	}
	if t.Status.Result != nil {
		values["result"] = string(t.Status.Result.Kind)
		values["exit_code"] = fmt.Sprintf("%d", t.Status.Result.ExitCode)
	}

	var renderErr error
	rendered := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := values[name]
		if !ok {
			renderErr = errors.Errorf("callback template: unknown variable %q", name)
			return match
		}
		return v
	})
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}

// spawnCallback renders and spawns the configured callback for a just-
// finished task, bounded by callbackSem so a burst of simultaneous
// completions cannot fork-bomb the host (spec.md §4.D [FULL]).
func (s *Supervisor) spawnCallback(taskID int) {
	if s.cfg.CallbackTemplate == "" {
		return
	}
	t, ok := s.store.Task(taskID)
	if !ok {
		return
	}

	rendered, err := renderCallback(s.cfg.CallbackTemplate, t, s.cfg.LogDir)
	if err != nil {
		s.log.Error("callback render failed", "task_id", taskID, "error", err)
		if s.metrics != nil {
			s.metrics.IncCallbackFailure()
		}
		return
	}

	if !s.callbackSem.TryAcquire(1) {
		s.log.Warn("callback dropped: concurrency limit reached", "task_id", taskID)
		return
	}

	argv := process.RenderShellCommand(s.cfg.ShellCmd, rendered)
	handle, err := s.ctrl.Spawn(context.Background(), argv, t.Path, nil, nil, nil)
	if err != nil {
		s.callbackSem.Release(1)
		s.log.Error("callback spawn failed", "task_id", taskID, "error", err)
		if s.metrics != nil {
			s.metrics.IncCallbackFailure()
		}
		return
	}
	s.callbackChildren = append(s.callbackChildren, handle)
}

// reapCallbackChildren is spec.md §4.D step 4.
func (s *Supervisor) reapCallbackChildren() {
	live := s.callbackChildren[:0]
	for _, h := range s.callbackChildren {
		status, err := s.ctrl.TryWait(h)
		if err != nil {
			s.log.Error("callback reap failed", "error", err)
			s.callbackSem.Release(1)
			if s.metrics != nil {
				s.metrics.IncCallbackFailure()
			}
			continue
		}
		if status == nil {
			live = append(live, h)
			continue
		}
		s.callbackSem.Release(1)
		if status.WaitErr != nil || (!status.Signaled && status.ExitCode != 0) {
			s.log.Warn("callback exited non-zero", "exit_code", status.ExitCode)
			if s.metrics != nil {
				s.metrics.IncCallbackFailure()
			}
		}
	}
	s.callbackChildren = live
}
