package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors.
type Metrics struct {
	blocksProcessed    prometheus.Counter
	transactionsScored *prometheus.CounterVec
	alertsRaised       *prometheus.CounterVec
	alertsSent         prometheus.Counter
	alertsDropped      prometheus.Counter
	emitFailures       prometheus.Counter
	errors             *prometheus.CounterVec
	chainConnected     prometheus.Gauge
	monitorRunning     prometheus.Gauge
	riskScore          prometheus.Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chain_sentinel_blocks_processed_total",
				Help: "Total number of blocks processed by the block stream",
			}),
			transactionsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_sentinel_transactions_scored_total",
				Help: "Total number of transactions scored, by stream",
			}, []string{"stream"}),
			alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_sentinel_alerts_raised_total",
				Help: "Total number of alerts raised, by severity",
			}, []string{"severity"}),
			alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chain_sentinel_alerts_sent_total",
				Help: "Total number of alerts delivered to sinks",
			}),
			alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chain_sentinel_alerts_dropped_total",
				Help: "Total number of alerts dropped (policy or emission capacity)",
			}),
			emitFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "chain_sentinel_emit_failures_total",
				Help: "Total number of failed sink deliveries",
			}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_sentinel_errors_total",
				Help: "Total number of errors encountered, by stage",
			}, []string{"stage"}),
			chainConnected: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "chain_sentinel_chain_connected",
				Help: "1 when the chain client is connected",
			}),
			monitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "chain_sentinel_monitor_running",
				Help: "1 while the streaming loops are running",
			}),
			riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "chain_sentinel_risk_score",
				Help:    "Distribution of transaction risk scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			}),
		}
		prometheus.MustRegister(
			metrics.blocksProcessed,
			metrics.transactionsScored,
			metrics.alertsRaised,
			metrics.alertsSent,
			metrics.alertsDropped,
			metrics.emitFailures,
			metrics.errors,
			metrics.chainConnected,
			metrics.monitorRunning,
			metrics.riskScore,
		)
	})
	return metrics
}

// BlocksProcessed increments the blocks processed counter.
func (m *Metrics) BlocksProcessed() {
	if m != nil {
		m.blocksProcessed.Inc()
	}
}

// TransactionScored records one scored transaction.
func (m *Metrics) TransactionScored(stream string, score float64) {
	if m != nil {
		m.transactionsScored.WithLabelValues(stream).Inc()
		m.riskScore.Observe(score)
	}
}

// AlertRaised increments the raised counter for severity.
func (m *Metrics) AlertRaised(severity string) {
	if m != nil {
		m.alertsRaised.WithLabelValues(severity).Inc()
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// EmitFailed increments the failed delivery counter.
func (m *Metrics) EmitFailed() {
	if m != nil {
		m.emitFailures.Inc()
	}
}

// Errors increments the errors counter for stage.
func (m *Metrics) Errors(stage string) {
	if m != nil {
		m.errors.WithLabelValues(stage).Inc()
	}
}

// SetChainConnected records connectivity.
func (m *Metrics) SetChainConnected(ok bool) {
	if m != nil {
		m.chainConnected.Set(boolToFloat(ok))
	}
}

// SetRunning records whether the loops are running.
func (m *Metrics) SetRunning(ok bool) {
	if m != nil {
		m.monitorRunning.Set(boolToFloat(ok))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
