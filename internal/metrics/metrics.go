package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stratis-backend/internal/models"
	"stratis-backend/internal/resilience"
)

// Pipeline records generation telemetry. It satisfies pipeline.Observer.
type Pipeline struct {
	steps       *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	retries     *prometheus.CounterVec
	imageFailed prometheus.Counter
	queueDepth  *prometheus.GaugeVec
}

func NewPipeline(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stratis_step_duration_seconds",
			Help:    "Duration of generation steps by final status.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"step", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratis_runs_total",
			Help: "Finished generation runs by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratis_ai_retries_total",
			Help: "Provider calls retried after a retryable failure, by failure kind.",
		}, []string{"kind"}),
		imageFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratis_image_failures_total",
			Help: "Visuals that failed after all attempts.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratis_queue_depth",
			Help: "Jobs waiting in each generation queue.",
		}, []string{"queue"}),
	}
	reg.MustRegister(m.steps, m.runs, m.retries, m.imageFailed, m.queueDepth)
	return m
}

func (m *Pipeline) StepFinished(step string, status models.StepStatus, elapsed time.Duration) {
	m.steps.WithLabelValues(step, string(status)).Observe(elapsed.Seconds())
}

func (m *Pipeline) RunFinished(kind models.RunKind, outcome models.RunStatus) {
	m.runs.WithLabelValues(string(kind), string(outcome)).Inc()
}

func (m *Pipeline) ImageFailed() {
	m.imageFailed.Inc()
}

// Retried matches resilience.Executor.OnRetry.
func (m *Pipeline) Retried(_ int, _ time.Duration, c resilience.Classification) {
	m.retries.WithLabelValues(string(c.Kind)).Inc()
}

func (m *Pipeline) SetQueueDepth(queue string, depth int64) {
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
