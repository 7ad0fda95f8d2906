package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the alert pipeline plus the
// last-run health state served on /health. A nil *Metrics is a no-op.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	FeedsPolled     *prometheus.CounterVec
	ItemsTotal      *prometheus.CounterVec
	SuppressedTotal *prometheus.CounterVec
	AlertsSent      *prometheus.CounterVec
	SeverityScores  prometheus.Histogram
	SummariesTotal  *prometheus.CounterVec

	mu            sync.RWMutex
	lastRunTime   time.Time
	lastErrorTime time.Time
	lastError     string
	lastSent      int
	isHealthy     bool
}

// NewMetrics registers and returns pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisiswatch_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crisiswatch_cycle_duration_seconds",
			Help:    "Duration of poll cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
		}),
		FeedsPolled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisiswatch_feeds_polled_total",
			Help: "Feed fetches by region and status.",
		}, []string{"region", "status"}),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisiswatch_items_total",
			Help: "Candidate items by pipeline stage reached.",
		}, []string{"stage"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisiswatch_items_suppressed_total",
			Help: "Candidate items dropped, by reason.",
		}, []string{"reason"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisiswatch_alerts_sent_total",
			Help: "Dispatched alerts by region and criticality.",
		}, []string{"region", "critical"}),
		SeverityScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crisiswatch_severity_score",
			Help:    "Severity scores of evaluated candidates.",
			Buckets: prometheus.LinearBuckets(0, 2, 10), // 0 .. 18
		}),
		SummariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crisiswatch_summaries_total",
			Help: "Summaries produced, by strategy.",
		}, []string{"strategy"}),
		isHealthy: true,
	}
	reg.MustRegister(
		m.CyclesTotal, m.CycleDuration, m.FeedsPolled, m.ItemsTotal,
		m.SuppressedTotal, m.AlertsSent, m.SeverityScores, m.SummariesTotal,
	)
	return m
}

func (m *Metrics) FeedPolled(region string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.FeedsPolled.WithLabelValues(region, status).Inc()
}

func (m *Metrics) Stage(stage string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) Suppressed(reason string) {
	if m == nil {
		return
	}
	m.SuppressedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Severity(score int) {
	if m == nil {
		return
	}
	m.SeverityScores.Observe(float64(score))
}

func (m *Metrics) Sent(region string, critical bool) {
	if m == nil {
		return
	}
	c := "false"
	if critical {
		c = "true"
	}
	m.AlertsSent.WithLabelValues(region, c).Inc()
}

func (m *Metrics) Summary(strategy string) {
	if m == nil {
		return
	}
	m.SummariesTotal.WithLabelValues(strategy).Inc()
}

// CycleDone records a completed cycle and marks the service healthy.
func (m *Metrics) CycleDone(d time.Duration, sent int, outcome string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRunTime = time.Now()
	m.lastSent = sent
	m.isHealthy = true
}

func (m *Metrics) SetError(err string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues("failed").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err
	m.lastErrorTime = time.Now()
	m.isHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"last_run_time":   m.lastRunTime.Format(time.RFC3339),
		"last_error_time": m.lastErrorTime.Format(time.RFC3339),
		"last_error":      m.lastError,
		"last_run_sent":   m.lastSent,
		"is_healthy":      m.isHealthy,
	}
}
