package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/pueued/internal/task"
)

func TestObserveUpdatesGauges(t *testing.T) {
	r := New()
	tasks := []*task.Task{
		{Group: "default", Status: task.Status{Kind: task.KindRunning}},
		{Group: "default", Status: task.Status{Kind: task.KindRunning}},
		{Group: "build", Status: task.Status{Kind: task.KindQueued}},
	}
	groups := map[string]task.Group{"default": {}, "build": {}}
	r.Observe(tasks, groups)
	r.IncSpawnFailure()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	require.Contains(t, body, `pueue_tasks_total{status="Running"} 2`)
	require.Contains(t, body, `pueue_tasks_total{status="Queued"} 1`)
	require.Contains(t, body, `pueue_group_running_tasks{group="default"} 2`)
	require.Contains(t, body, `pueue_spawn_failures_total 1`)
	require.True(t, strings.Contains(body, "pueue_callback_failures_total"))
}
