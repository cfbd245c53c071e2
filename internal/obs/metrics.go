package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP surface metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Authorization core metrics.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"result"},
	)

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_lockouts_total",
		Help: "Login lockouts tripped.",
	})

	permCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_permission_cache_hits_total",
		Help: "Permission cache hits.",
	})

	permCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_permission_cache_misses_total",
		Help: "Permission cache misses.",
	})

	aggregationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_aggregation_duration_seconds",
		Help:    "Permission aggregation latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	sessionsPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_sessions_purged_total",
		Help: "Expired sessions removed by maintenance sweeps.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, lockoutsTotal,
		permCacheHits, permCacheMisses, aggregationDuration, sessionsPurged,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts one login attempt by outcome (success, failure,
// locked, inactive).
func ObserveLogin(result string) { loginsTotal.WithLabelValues(result).Inc() }

// IncLockout counts a tripped lockout.
func IncLockout() { lockoutsTotal.Inc() }

// IncPermCacheHit counts a permission cache hit.
func IncPermCacheHit() { permCacheHits.Inc() }

// IncPermCacheMiss counts a permission cache miss.
func IncPermCacheMiss() { permCacheMisses.Inc() }

// ObserveAggregation records one permission aggregation duration.
func ObserveAggregation(d time.Duration) { aggregationDuration.Observe(d.Seconds()) }

// AddSessionsPurged counts sessions removed by the cleanup sweep.
func AddSessionsPurged(n int64) { sessionsPurged.Add(float64(n)) }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-user path segments so metric cardinality stays
// bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/users/<id>/permissions and /v1/roles/<id>/invalidate carry ids.
	if len(parts) >= 4 && parts[1] == "v1" && (parts[2] == "users" || parts[2] == "roles") {
		parts[3] = ":id"
		return strings.Join(parts, "/")
	}
	return path
}

// statusWriter records the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
