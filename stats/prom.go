package stats

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{0.5, 1, 5, 50, 100, 500, 1000}

// Prometheus exposes offloader measurements as prometheus metrics labelled by topic.
type Prometheus struct {
	counterVecs   map[string]*prometheus.CounterVec
	histogramVecs map[string]*prometheus.HistogramVec
}

// NewPrometheus registers the offloader metrics on reg. A nil reg uses the
// default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		counterVecs: map[string]*prometheus.CounterVec{
			"offloadError": factory.NewCounterVec(prometheus.CounterOpts{
				Name: "tier_offload_errors_total",
				Help: "The number of failed ledger offloads.",
			}, []string{"topic"}),
			"offloadBytes": factory.NewCounterVec(prometheus.CounterOpts{
				Name: "tier_offload_bytes_total",
				Help: "The number of entry bytes written to the offload storage.",
			}, []string{"topic"}),
			"writeToStorageError": factory.NewCounterVec(prometheus.CounterOpts{
				Name: "tier_offload_write_errors_total",
				Help: "The number of failed writes to the offload storage.",
			}, []string{"topic"}),
			"readOffloadError": factory.NewCounterVec(prometheus.CounterOpts{
				Name: "tier_read_offload_errors_total",
				Help: "The number of failed reads from the offload storage.",
			}, []string{"topic"}),
			"readOffloadBytes": factory.NewCounterVec(prometheus.CounterOpts{
				Name: "tier_read_offload_bytes_total",
				Help: "The number of entry bytes read back from the offload storage.",
			}, []string{"topic"}),
			"deleteOffloadOps": factory.NewCounterVec(prometheus.CounterOpts{
				Name: "tier_delete_offload_ops_total",
				Help: "The number of offloaded ledger deletions.",
			}, []string{"topic", "succeed"}),
		},
		histogramVecs: map[string]*prometheus.HistogramVec{
			"readLedgerLatency": factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tier_read_ledger_latency_milliseconds",
				Help:    "The time elapsed reading entry batches from the source ledger.",
				Buckets: latencyBuckets,
			}, []string{"topic"}),
			"readOffloadIndexLatency": factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tier_read_offload_index_latency_milliseconds",
				Help:    "The time elapsed opening offloaded ledger indexes.",
				Buckets: latencyBuckets,
			}, []string{"topic"}),
			"readOffloadDataLatency": factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tier_read_offload_data_latency_milliseconds",
				Help:    "The time elapsed reading entries from offloaded ledgers.",
				Buckets: latencyBuckets,
			}, []string{"topic"}),
		},
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (p *Prometheus) CounterVec(name string) *prometheus.CounterVec {
	return p.counterVecs[name]
}
func (p *Prometheus) HistogramVec(name string) *prometheus.HistogramVec {
	return p.histogramVecs[name]
}

func (p *Prometheus) RecordOffloadError(topic string) {
	p.counterVecs["offloadError"].WithLabelValues(topic).Inc()
}
func (p *Prometheus) RecordOffloadBytes(topic string, size int64) {
	p.counterVecs["offloadBytes"].WithLabelValues(topic).Add(float64(size))
}
func (p *Prometheus) RecordReadLedgerLatency(topic string, latency time.Duration) {
	p.histogramVecs["readLedgerLatency"].WithLabelValues(topic).Observe(milliseconds(latency))
}
func (p *Prometheus) RecordWriteToStorageError(topic string) {
	p.counterVecs["writeToStorageError"].WithLabelValues(topic).Inc()
}
func (p *Prometheus) RecordReadOffloadError(topic string) {
	p.counterVecs["readOffloadError"].WithLabelValues(topic).Inc()
}
func (p *Prometheus) RecordReadOffloadBytes(topic string, size int64) {
	p.counterVecs["readOffloadBytes"].WithLabelValues(topic).Add(float64(size))
}
func (p *Prometheus) RecordReadOffloadIndexLatency(topic string, latency time.Duration) {
	p.histogramVecs["readOffloadIndexLatency"].WithLabelValues(topic).Observe(milliseconds(latency))
}
func (p *Prometheus) RecordReadOffloadDataLatency(topic string, latency time.Duration) {
	p.histogramVecs["readOffloadDataLatency"].WithLabelValues(topic).Observe(milliseconds(latency))
}
func (p *Prometheus) RecordDeleteOffloadOps(topic string, succeed bool) {
	p.counterVecs["deleteOffloadOps"].WithLabelValues(topic, strconv.FormatBool(succeed)).Inc()
}

// Handler serves the metrics gathered by g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ListenAndServe exposes the metrics gathered by g on /metrics.
func ListenAndServe(port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
}
