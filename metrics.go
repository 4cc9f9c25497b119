package flowstone

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runner metrics for Prometheus scraping. All metrics are
// namespaced "flowstone_". Nil *Metrics is a valid no-op collector.
type Metrics struct {
	runsStarted      *prometheus.CounterVec
	runsFinished     *prometheus.CounterVec
	executorInvoked  *prometheus.CounterVec
	executorFailures *prometheus.CounterVec
	executorDuration *prometheus.HistogramVec
	checkpointsSaved *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	pendingDecisions prometheus.Gauge
}

// NewMetrics registers the runner metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstone_runs_started_total",
			Help: "Number of runs started or resumed.",
		}, []string{"graph"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstone_runs_finished_total",
			Help: "Number of runs that returned control to the caller, by final status.",
		}, []string{"graph", "status"}),
		executorInvoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstone_executor_invocations_total",
			Help: "Number of executor invocations.",
		}, []string{"graph", "executor"}),
		executorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstone_executor_failures_total",
			Help: "Number of executor invocations that returned an error.",
		}, []string{"graph", "executor"}),
		executorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowstone_executor_duration_seconds",
			Help:    "Executor handle duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"graph", "executor"}),
		checkpointsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstone_checkpoints_saved_total",
			Help: "Number of checkpoints persisted.",
		}, []string{"graph"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowstone_ready_queue_depth",
			Help: "Ready-queue depth observed at the start of each super-step.",
		}),
		pendingDecisions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowstone_pending_decisions",
			Help: "Decision requests outstanding for the current run.",
		}),
	}
}

func (m *Metrics) runStarted(graph string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(graph).Inc()
}

func (m *Metrics) runFinished(graph string, status Status) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(graph, string(status)).Inc()
}

func (m *Metrics) executorInvocation(graph, executor string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.executorInvoked.WithLabelValues(graph, executor).Inc()
	m.executorDuration.WithLabelValues(graph, executor).Observe(duration.Seconds())
	if failed {
		m.executorFailures.WithLabelValues(graph, executor).Inc()
	}
}

func (m *Metrics) checkpointSaved(graph string) {
	if m == nil {
		return
	}
	m.checkpointsSaved.WithLabelValues(graph).Inc()
}

func (m *Metrics) observeQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) observePendingDecisions(count int) {
	if m == nil {
		return
	}
	m.pendingDecisions.Set(float64(count))
}
