package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Prometheus struct {
	apiCalls     *prometheus.CounterVec
	apiDuration  *prometheus.HistogramVec
	dbDuration   *prometheus.HistogramVec
	blobDuration *prometheus.HistogramVec
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		apiCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webapp_api_calls_total",
			Help: "API calls by route and response status.",
		}, []string{"api", "status"}),
		apiDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webapp_api_response_seconds",
			Help:    "API response time by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
		dbDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webapp_db_query_seconds",
			Help:    "Database query time by query type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type"}),
		blobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webapp_blob_operation_seconds",
			Help:    "Blob store operation time by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (p *Prometheus) Record(e Event) {
	secs := e.Duration.Seconds()
	switch e.Kind {
	case KindAPI:
		p.apiCalls.WithLabelValues(e.Name, strconv.Itoa(e.Status)).Inc()
		p.apiDuration.WithLabelValues(e.Name).Observe(secs)
	case KindDB:
		p.dbDuration.WithLabelValues(e.Name).Observe(secs)
	case KindBlob:
		p.blobDuration.WithLabelValues(e.Name).Observe(secs)
	}
}
