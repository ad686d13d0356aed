package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "web2pdf"

// Metrics はジョブ処理の Prometheus メトリクスです。nil でも安全に呼び出せます。
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	PagesRendered *prometheus.CounterVec
	JobsRunning   prometheus.Gauge
	Merges        *prometheus.CounterVec
	SweptJobs     prometheus.Counter
}

// NewMetrics はメトリクスを reg に登録します。reg が nil の場合は既定のレジストリです。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of submitted conversion jobs",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of jobs that reached a terminal status",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from processing start to terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		PagesRendered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pages",
			Name:      "rendered_total",
			Help:      "Pages rendered, by outcome",
		}, []string{"outcome"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Jobs currently being processed",
		}),
		Merges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "merges",
			Name:      "total",
			Help:      "Merge attempts, by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		SweptJobs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "swept_total",
			Help:      "Jobs removed by the retention sweep",
		}),
	}
}

func (m *Metrics) submitted() {
	if m != nil {
		m.JobsSubmitted.Inc()
	}
}

func (m *Metrics) started() {
	if m != nil {
		m.JobsRunning.Inc()
	}
}

func (m *Metrics) finished(status Status, seconds float64) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobsFinished.WithLabelValues(string(status)).Inc()
	m.JobDuration.Observe(seconds)
}

func (m *Metrics) page(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.PagesRendered.WithLabelValues(outcome).Inc()
}

func (m *Metrics) merge(trigger string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.Merges.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) swept(n int) {
	if m != nil {
		m.SweptJobs.Add(float64(n))
	}
}

// RegisterQueueDepth は待機中ジョブ数のゲージを登録します（メモリキュー用）。
func RegisterQueueDepth(reg prometheus.Registerer, depth func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Tasks waiting in the in-process queue",
	}, func() float64 { return float64(depth()) })
}
