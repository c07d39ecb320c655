package obs

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})

	accessEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_events_total",
			Help: "Access lifecycle events by kind (request.created, item.approved, ...).",
		},
		[]string{"kind"},
	)
)

// Init registers the shared metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		readyGauge, accessEventsTotal)
}

// EventCounter counts lifecycle events. It satisfies the service's event
// sink contract so it can sit in the sink fan-out.
type EventCounter struct{}

func (EventCounter) Publish(_ context.Context, kind string, _ map[string]any) {
	accessEventsTotal.WithLabelValues(kind).Inc()
}

// SetReady mirrors the readiness probe into a gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument measures request rate, latency and in-flight count.
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

// CanonicalPath collapses resource ids in known routes so metric
// cardinality stays bounded. Unknown shapes pass through untouched.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "requests":
		if parts[2] == "pending" || parts[2] == "items" {
			return p
		}
		return "/v1/requests/:id"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "requests" && parts[2] == "items":
		switch parts[4] {
		case "approve", "reject", "provision":
			return "/v1/requests/items/:id/" + parts[4]
		}
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "grants":
		switch parts[2] {
		case "mark-removal", "remove":
		default:
			return "/v1/grants/:id"
		}
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "grants":
		switch parts[3] {
		case "mark-removal", "remove":
			return "/v1/grants/:id/" + parts[3]
		}
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "users":
		switch parts[3] {
		case "grants", "copy-grants":
			return "/v1/users/:id/" + parts[3]
		}
	}
	return p
}

// statusWriter captures the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
