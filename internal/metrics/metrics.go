package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tri2820/backend/indexer/internal/dispatch"
	"github.com/tri2820/backend/indexer/internal/ws"
)

// Metrics exports worker connection and task metrics. It observes both the
// lifecycle and the dispatch loop.
type Metrics struct {
	state         *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	backoffs      prometheus.Counter
	backoffDelay  prometheus.Gauge
	tasks         *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	tasksInFlight prometheus.Gauge
	decodeErrors  prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer, workerID string) *Metrics {
	labels := prometheus.Labels{"worker": workerID}
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "indexer",
			Subsystem:   "connection",
			Name:        "state",
			Help:        "1 for the current connection state, 0 otherwise.",
			ConstLabels: labels,
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "indexer",
			Subsystem:   "connection",
			Name:        "transitions_total",
			Help:        "Connection state transitions by target state.",
			ConstLabels: labels,
		}, []string{"state"}),
		backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "indexer",
			Subsystem:   "connection",
			Name:        "backoffs_total",
			Help:        "Reconnect delays started.",
			ConstLabels: labels,
		}),
		backoffDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "indexer",
			Subsystem:   "connection",
			Name:        "backoff_delay_seconds",
			Help:        "Most recent reconnect delay.",
			ConstLabels: labels,
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "indexer",
			Subsystem:   "tasks",
			Name:        "total",
			Help:        "Tasks executed by outcome.",
			ConstLabels: labels,
		}, []string{"type", "outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "indexer",
			Subsystem:   "tasks",
			Name:        "duration_seconds",
			Help:        "Workload execution time.",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
			ConstLabels: labels,
		}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "indexer",
			Subsystem:   "tasks",
			Name:        "in_flight",
			Help:        "Workloads currently executing.",
			ConstLabels: labels,
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "indexer",
			Subsystem:   "frames",
			Name:        "decode_errors_total",
			Help:        "Inbound frames dropped because they could not be decoded.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.state, m.transitions, m.backoffs, m.backoffDelay,
		m.tasks, m.taskDuration, m.tasksInFlight, m.decodeErrors)

	for _, s := range ws.States() {
		m.state.WithLabelValues(s.String()).Set(0)
	}
	m.state.WithLabelValues(ws.Disconnected.String()).Set(1)
	return m
}

func (m *Metrics) OnStateChange(from, to ws.State) {
	m.state.WithLabelValues(from.String()).Set(0)
	m.state.WithLabelValues(to.String()).Set(1)
	m.transitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) OnBackoff(attempt int, delay time.Duration, cause error) {
	m.backoffs.Inc()
	m.backoffDelay.Set(delay.Seconds())
}

func (m *Metrics) OnTaskStarted(ev dispatch.TaskEvent) {
	m.tasksInFlight.Inc()
}

func (m *Metrics) OnTaskFinished(ev dispatch.TaskEvent) {
	m.tasksInFlight.Dec()
	outcome := "success"
	if ev.Err != nil {
		outcome = "failure"
	}
	m.tasks.WithLabelValues(ev.Task.Type(), outcome).Inc()
	m.taskDuration.Observe(ev.Duration.Seconds())
}

func (m *Metrics) OnDecodeError(sessionID string, err error) {
	m.decodeErrors.Inc()
}
