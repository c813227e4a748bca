package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors. It implements the provider,
// coordinator and ledger observer interfaces so one instance can be
// handed to every component.
type Metrics struct {
	registry *prometheus.Registry

	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec

	transitionsTotal     *prometheus.CounterVec
	parcelsFailedTotal   prometheus.Counter
	confirmLatency       prometheus.Histogram
	pendingReceiptsTotal *prometheus.CounterVec

	ledgerFetchErrors  prometheus.Counter
	ledgerDecodeErrors prometheus.Counter
	ledgerFlushed      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers collectors on registry, or on a fresh registry
// when nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_rpc_calls_total",
				Help: "Total number of provider calls by method, mode and status",
			},
			[]string{"method", "mode", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txqueue_rpc_call_duration_seconds",
				Help:    "Duration of provider calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "mode"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_transitions_total",
				Help: "Total number of parcel status transitions by target status",
			},
			[]string{"to"},
		),
		parcelsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "txqueue_parcels_failed_total",
			Help: "Total number of parcels that reached FAILED",
		}),
		confirmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "txqueue_confirmation_latency_seconds",
			Help:    "Time from broadcast to confirmation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		pendingReceiptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_pending_receipts_total",
				Help: "Total number of pending receipts handed to sinks by status",
			},
			[]string{"status"},
		),
		ledgerFetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "txqueue_ledger_fetch_errors_total",
			Help: "Total number of kafka fetch errors in the ledger consumer",
		}),
		ledgerDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "txqueue_ledger_decode_errors_total",
			Help: "Total number of undecodable ledger messages",
		}),
		ledgerFlushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_ledger_flushed_messages_total",
				Help: "Total number of ledger messages flushed by status",
			},
			[]string{"status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txqueue_http_requests_total",
				Help: "Total number of HTTP requests by path and status code",
			},
			[]string{"path", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txqueue_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRPCCall(method, mode, status string, d time.Duration) {
	m.rpcCallsTotal.WithLabelValues(method, mode, status).Inc()
	m.rpcCallDuration.WithLabelValues(method, mode).Observe(d.Seconds())
}

func (m *Metrics) OnTransition(_, to string) {
	m.transitionsTotal.WithLabelValues(to).Inc()
	if to == "FAILED" {
		m.parcelsFailedTotal.Inc()
	}
}

func (m *Metrics) OnConfirmed(latency time.Duration) {
	m.confirmLatency.Observe(latency.Seconds())
}

func (m *Metrics) OnPendingReceipt(err error) {
	m.pendingReceiptsTotal.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) OnLedgerFetchError() {
	m.ledgerFetchErrors.Inc()
}

func (m *Metrics) OnLedgerDecodeError() {
	m.ledgerDecodeErrors.Inc()
}

func (m *Metrics) OnLedgerFlush(count int, err error) {
	m.ledgerFlushed.WithLabelValues(outcome(err)).Add(float64(count))
}

// instrument records request count and latency per route pattern.
func (m *Metrics) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		m.httpRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
