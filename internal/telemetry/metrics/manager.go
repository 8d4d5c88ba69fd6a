package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests             *prometheus.CounterVec
	CounterHandleRequestPanic   prometheus.Counter
	CounterRateLimitedRequests  prometheus.Counter
	CounterPostsCreated         prometheus.Counter
	CounterPostsUpdated         prometheus.Counter
	CounterPostsDeleted         prometheus.Counter
	CounterPostViews            prometheus.Counter
	CounterImageUploadsFailed   prometheus.Counter
	CounterImageCleanupsFailed  prometheus.Counter
	CounterRegistrations        prometheus.Counter
	CounterIdempotentReplays    prometheus.Counter

	// gauges
	GaugeRequests          prometheus.Gauge
	GaugeLifeSignal        prometheus.Gauge
	GaugePendingImageJobs  prometheus.Gauge

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("postboard", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("postboard", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})

	return &Manager{
		CounterRequests:            counterRequests,
		CounterHandleRequestPanic:  counter("handle_request_panic", "The total number of serve request panics"),
		CounterRateLimitedRequests: counter("rate_limited_requests", "The total number of rate limited requests"),
		CounterPostsCreated:        counter("posts_created", "The total number of created posts"),
		CounterPostsUpdated:        counter("posts_updated", "The total number of updated posts"),
		CounterPostsDeleted:        counter("posts_deleted", "The total number of deleted posts"),
		CounterPostViews:           counter("post_views", "The total number of post detail reads"),
		CounterImageUploadsFailed:  counter("image_uploads_failed", "Image uploads that failed and were absorbed"),
		CounterImageCleanupsFailed: counter("image_cleanups_failed", "Image deletions that failed and left an orphaned blob"),
		CounterRegistrations:       counter("registrations", "The total number of registered users"),
		CounterIdempotentReplays:   counter("idempotent_replays", "Create submits answered from a recorded idempotency key"),
		GaugeRequests:              gauge("current_requests", "Current number of requests served"),
		GaugeLifeSignal:            gauge("life_signal", "Shows whether the service is alive"),
		GaugePendingImageJobs:      gauge("pending_image_cleanup_jobs", "Image cleanup jobs waiting in the queue"),
		HistogramRequestDuration:   histogramRequestDuration,
	}
}
