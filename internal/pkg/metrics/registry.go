package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	SandboxInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "sandbox_invocations_total",
		Help:      "Sandbox invocations by provider and result status.",
	}, []string{"provider", "status"})

	SandboxDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parley",
		Name:      "sandbox_invocation_seconds",
		Help:      "Wall-clock duration of sandbox invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"provider"})

	TaskRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "task_runs_total",
		Help:      "Scheduled task runs by outcome.",
	}, []string{"outcome"})

	OutboxFiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "outbox_files_total",
		Help:      "IPC outbox files by area and disposition.",
	}, []string{"area", "disposition"})
)

func init() {
	registry.MustRegister(SandboxInvocations, SandboxDuration, TaskRuns, OutboxFiles)
}

func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler serves the process metrics; mounted by the serve command.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
