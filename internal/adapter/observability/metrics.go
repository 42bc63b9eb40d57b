package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	TipsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_tips_processed_total",
			Help: "Total number of tips successfully processed",
		},
	)
	TipsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tips_failed_total",
			Help: "Total number of tips that failed processing, by reason",
		},
		[]string{"reason"},
	)
	TipsReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_tips_released_total",
			Help: "Total number of claimed tips compensated back to pending",
		},
	)

	BatchDispatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_batch_dispatches_total",
			Help: "Total number of batches dispatched to the worker",
		},
	)
	BatchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_batch_retries_total",
			Help: "Total number of worker batch retry attempts",
		},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_duration_seconds",
			Help:    "Worker batch round-trip duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	PromotionsReplacedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_promotions_replaced_total",
			Help: "Total number of per-location promotion set replacements",
		},
	)
	PromotionsWritten = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_promotions_written",
			Help:    "Distribution of promotions written per replacement",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	WakeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wake_attempts_total",
			Help: "Total number of worker wake attempts by outcome",
		},
		[]string{"outcome"},
	)

	WorkerItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_items_total",
			Help: "Total number of items handled by the NLP worker, by outcome",
		},
		[]string{"outcome"},
	)
	WorkerItemDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_item_duration_seconds",
			Help:    "Per-item NLP processing duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TipsProcessedTotal)
	prometheus.MustRegister(TipsFailedTotal)
	prometheus.MustRegister(TipsReleasedTotal)
	prometheus.MustRegister(BatchDispatchesTotal)
	prometheus.MustRegister(BatchRetriesTotal)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(PromotionsReplacedTotal)
	prometheus.MustRegister(PromotionsWritten)
	prometheus.MustRegister(WakeAttemptsTotal)
	prometheus.MustRegister(WorkerItemsTotal)
	prometheus.MustRegister(WorkerItemDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
