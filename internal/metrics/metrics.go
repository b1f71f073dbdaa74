// Package metrics exposes a small Prometheus surface for the daemon
// (spec.md §4.D [FULL]): task counts by status, per-group running counts,
// and spawn failures, updated by the Supervisor at the end of every tick and
// served on a loopback-only debug address entirely separate from the RPC
// transport. It is additive observability, not part of any scheduling
// decision, the same role ai/metrics.PrometheusExporter plays in the teacher
// repo for its own chat/tool/LLM counters.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/pueued/internal/task"
)

// Registry owns the daemon's Prometheus collectors and the handler that
// serves them.
type Registry struct {
	registry *prometheus.Registry

	tasksByStatus   *prometheus.GaugeVec
	groupRunning    *prometheus.GaugeVec
	spawnFailures   prometheus.Counter
	callbackFailure prometheus.Counter
}

// New creates a Registry with its own private prometheus.Registry, mirroring
// the teacher's NewPrometheusExporter(cfg) which defaults to a fresh
// registry when none is supplied.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{registry: reg}

	r.tasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pueue",
			Name:      "tasks_total",
			Help:      "Number of tasks currently in each status.",
		},
		[]string{"status"},
	)
	r.groupRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pueue",
			Name:      "group_running_tasks",
			Help:      "Number of Running tasks per group.",
		},
		[]string{"group"},
	)
	r.spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pueue",
			Name:      "spawn_failures_total",
			Help:      "Total number of tasks that transitioned to Done(FailedToSpawn).",
		},
	)
	r.callbackFailure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pueue",
			Name:      "callback_failures_total",
			Help:      "Total number of callback processes that exited non-zero or failed to render.",
		},
	)

	reg.MustRegister(r.tasksByStatus, r.groupRunning, r.spawnFailures, r.callbackFailure)
	return r
}

// Observe recomputes the gauges from a fresh task/group snapshot; called by
// the Supervisor at the end of every tick.
func (r *Registry) Observe(tasks []*task.Task, groups map[string]task.Group) {
	counts := map[task.Kind]int{}
	for _, t := range tasks {
		counts[t.Status.Kind]++
	}
	for _, kind := range []task.Kind{task.KindStashed, task.KindLocked, task.KindQueued, task.KindRunning, task.KindPaused, task.KindDone} {
		r.tasksByStatus.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}

	running := map[string]int{}
	for _, t := range tasks {
		if t.Status.Kind == task.KindRunning {
			running[t.Group]++
		}
	}
	for name := range groups {
		r.groupRunning.WithLabelValues(name).Set(float64(running[name]))
	}
}

// IncSpawnFailure records one more spawn failure.
func (r *Registry) IncSpawnFailure() { r.spawnFailures.Inc() }

// IncCallbackFailure records one more failed callback.
func (r *Registry) IncCallbackFailure() { r.callbackFailure.Inc() }

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve starts a plain net/http server bound to addr exposing /metrics,
// shutting down when ctx is canceled. addr is expected to be a loopback
// address (spec.md §4.D [FULL], "bound to a loopback-only debug address").
func Serve(ctx context.Context, addr string, r *Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
