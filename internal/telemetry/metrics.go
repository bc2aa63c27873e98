package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
    Name: "sse_clients",
    Help: "Number of currently connected SSE clients",
	})
  SnapshotFlags = prometheus.NewGauge(prometheus.GaugeOpts{
    Name: "snapshot_flags",
    Help: "Number of flags currently in the in-memory snapshot",
	})

	// SDKCohortDownloadsInFlight tracks cohort downloads this control plane
	// is currently serving to connected SDKs via /sdk/v1/cohort/{id}.
	SDKCohortDownloadsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sdk_cohort_downloads_in_flight",
		Help: "Number of in-progress /sdk/v1/cohort/{id} download requests",
	})

	// SDKEvaluationsTotal counts local-evaluation-SDK flag evaluations; it is
	// incremented by cmd/sdkclient for each flag result it receives.
	SDKEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdk_evaluations_total",
			Help: "Total flag evaluations performed by embedded SDKs",
		},
		[]string{"flag_key", "result"},
	)

	// SDKFlagConfigFetchErrorsTotal counts SDK client start-up failures in
	// cmd/sdkclient (the initial flag-config fetch), labeled by the configured
	// strategy ("poll" or "stream"); later fetch errors are not counted.
	SDKFlagConfigFetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdk_flagconfig_fetch_errors_total",
			Help: "Total flag configuration fetch errors observed by SDK updaters",
		},
		[]string{"strategy"},
	)
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, SSEClients, SnapshotFlags,
		SDKCohortDownloadsInFlight, SDKEvaluationsTotal, SDKFlagConfigFetchErrorsTotal)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
