package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	laneQueueSize    *prometheus.GaugeVec
	laneTaskTotal    *prometheus.CounterVec
	laneTaskDuration *prometheus.HistogramVec

	activeThreads        prometheus.Gauge
	threadLoadDuration   prometheus.Histogram
	threadAppendDuration prometheus.Histogram

	turnTotal      *prometheus.CounterVec
	chunkTotal     *prometheus.CounterVec
	interruptTotal prometheus.Counter
	decisionTotal  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	providerCooldown  *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			laneQueueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "tether_lane_queue_size",
					Help: "Current queued turns by lane.",
				},
				[]string{"lane"},
			),
			laneTaskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tether_lane_tasks_total",
					Help: "Completed lane tasks by status.",
				},
				[]string{"status"},
			),
			laneTaskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tether_lane_task_duration_seconds",
					Help:    "Lane task duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			activeThreads: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tether_active_threads",
					Help: "Threads currently present in the thread store.",
				},
			),
			threadLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "tether_thread_load_duration_seconds",
					Help:    "Thread state load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			threadAppendDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "tether_thread_append_duration_seconds",
					Help:    "Thread step append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tether_turns_total",
					Help: "Session turns by operation (run, resume) and outcome.",
				},
				[]string{"operation", "outcome"},
			),
			chunkTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tether_chunks_total",
					Help: "Chunks streamed to callers by kind.",
				},
				[]string{"kind"},
			),
			interruptTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tether_interrupts_total",
					Help: "Turns that ended paused on pending action requests.",
				},
			),
			decisionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tether_decisions_total",
					Help: "Human decisions applied to action requests by kind.",
				},
				[]string{"kind"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tether_tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tether_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tether_model_call_total",
					Help: "Model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tether_model_call_duration_seconds",
					Help:    "Model call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "tether_provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.laneQueueSize,
			m.laneTaskTotal,
			m.laneTaskDuration,
			m.activeThreads,
			m.threadLoadDuration,
			m.threadAppendDuration,
			m.turnTotal,
			m.chunkTotal,
			m.interruptTotal,
			m.decisionTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.modelCallTotal,
			m.modelCallDuration,
			m.providerCooldown,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetLaneQueueSize(lane string, size int) {
	getMetrics().laneQueueSize.WithLabelValues(lane).Set(float64(size))
}

// ForgetLane drops the per-lane gauge once a lane is idle, keeping label cardinality bounded.
func ForgetLane(lane string) {
	getMetrics().laneQueueSize.DeleteLabelValues(lane)
}

func RecordLaneTask(duration time.Duration, success bool) {
	m := getMetrics()
	status := statusLabel(success)
	m.laneTaskTotal.WithLabelValues(status).Inc()
	m.laneTaskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func SetActiveThreads(count int) {
	getMetrics().activeThreads.Set(float64(count))
}

func RecordThreadLoad(duration time.Duration) {
	getMetrics().threadLoadDuration.Observe(duration.Seconds())
}

func RecordThreadAppend(duration time.Duration) {
	getMetrics().threadAppendDuration.Observe(duration.Seconds())
}

// RecordTurn counts one run/resume call by outcome: completed, interrupted, abandoned or error.
func RecordTurn(operation, outcome string) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(operation, outcome).Inc()
	if outcome == "interrupted" {
		m.interruptTotal.Inc()
	}
}

func RecordChunk(kind string) {
	getMetrics().chunkTotal.WithLabelValues(kind).Inc()
}

func RecordDecisions(kind string, count int) {
	getMetrics().decisionTotal.WithLabelValues(kind).Add(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}
