package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Backend
// =============================================================================

// PrometheusHooks implements every hook interface on Prometheus collectors.
type PrometheusHooks struct {
	segments      *prometheus.HistogramVec
	groups        prometheus.Histogram
	merges        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	cacheEvents   *prometheus.CounterVec
	cacheBytes    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewPrometheusHooks registers the fuseg collectors with reg and returns
// hooks feeding them. Passing nil registers with the default registerer.
func NewPrometheusHooks(reg prometheus.Registerer) *PrometheusHooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusHooks{
		segments: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fuseg",
			Subsystem: "segment",
			Name:      "duration_seconds",
			Help:      "Segmentation run latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"status"}),
		groups: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fuseg",
			Subsystem: "segment",
			Name:      "groups",
			Help:      "Number of segments produced per run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseg",
			Subsystem: "segment",
			Name:      "merges_total",
			Help:      "Committed group merges by pass",
		}, []string{"pass"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseg",
			Subsystem: "segment",
			Name:      "rejections_total",
			Help:      "Merges refused by the scheduling oracle by pass",
		}, []string{"pass"}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fuseg",
			Subsystem: "segment",
			Name:      "pass_duration_seconds",
			Help:      "Merge pass latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseg",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by status",
		}, []string{"status"}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseg",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Cache lookups and writes by key type and event",
		}, []string{"key_type", "event"}),
		cacheBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseg",
			Subsystem: "cache",
			Name:      "written_bytes_total",
			Help:      "Bytes written to the cache by key type",
		}, []string{"key_type"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuseg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fuseg",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *PrometheusHooks) OnSegmentStart(context.Context, int) {}

func (p *PrometheusHooks) OnMergeAccepted(_ context.Context, pass string, _ int) {
	p.merges.WithLabelValues(pass).Inc()
}

func (p *PrometheusHooks) OnMergeRejected(_ context.Context, pass string) {
	p.rejections.WithLabelValues(pass).Inc()
}

func (p *PrometheusHooks) OnPassComplete(_ context.Context, pass string, _ int, d time.Duration) {
	p.passDuration.WithLabelValues(pass).Observe(d.Seconds())
}

func (p *PrometheusHooks) OnSegmentComplete(_ context.Context, groups int, d time.Duration, err error) {
	p.segments.WithLabelValues(status(err)).Observe(d.Seconds())
	if err == nil {
		p.groups.Observe(float64(groups))
	}
}

func (p *PrometheusHooks) OnRunStart(context.Context, string, int) {}

func (p *PrometheusHooks) OnRunComplete(_ context.Context, _ string, _ int, _ time.Duration, err error) {
	p.runs.WithLabelValues(status(err)).Inc()
}

func (p *PrometheusHooks) OnCacheHit(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "hit").Inc()
}

func (p *PrometheusHooks) OnCacheMiss(_ context.Context, keyType string) {
	p.cacheEvents.WithLabelValues(keyType, "miss").Inc()
}

func (p *PrometheusHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	p.cacheEvents.WithLabelValues(keyType, "set").Inc()
	p.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func (p *PrometheusHooks) OnRequest(context.Context, string, string) {}

func (p *PrometheusHooks) OnResponse(_ context.Context, method, route string, code int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	p.httpDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

var (
	_ SegmentHooks  = (*PrometheusHooks)(nil)
	_ PipelineHooks = (*PrometheusHooks)(nil)
	_ CacheHooks    = (*PrometheusHooks)(nil)
	_ HTTPHooks     = (*PrometheusHooks)(nil)
)
