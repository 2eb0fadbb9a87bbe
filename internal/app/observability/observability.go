package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scholarify/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "scholarify"

// Collector owns the Prometheus registry for the process and logs one line
// per request.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	resolvedEntries *prometheus.CounterVec
	submitRetries   prometheus.Counter
}

func NewCollector(db *sql.DB, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "path"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tryout_submissions_total",
			Help:      "Answer submissions by outcome.",
		}, []string{"outcome"}),
		resolvedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tryout_answer_entries_total",
			Help:      "Submitted answer entries by resolution kind.",
		}, []string{"kind"}),
		submitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tryout_submit_retries_total",
			Help:      "Submission transactions retried after a write conflict.",
		}),
	}

	c.registry.MustRegister(
		c.requests,
		c.latency,
		c.submissions,
		c.resolvedEntries,
		c.submitRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		c.registry.MustRegister(collectors.NewDBStatsCollector(db, namespace))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		path := routePattern(r)

		c.requests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		c.latency.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		userID := int64(0)
		if u, ok := auth.CurrentUser(r.Context()); ok {
			userID = u.ID
		}

		c.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("user_id", userID),
			zap.Int64("result_id", extractResultID(r.URL.Path)),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Duration("latency", elapsed),
			zap.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
		)
	})
}

func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSubmission records the outcome of one submission together with the
// resolver's per-entry counters.
func (c *Collector) ObserveSubmission(outcome string, direct, index, invalidValue, unresolvable int) {
	c.submissions.WithLabelValues(outcome).Inc()
	c.resolvedEntries.WithLabelValues("direct").Add(float64(direct))
	c.resolvedEntries.WithLabelValues("index").Add(float64(index))
	c.resolvedEntries.WithLabelValues("invalid_value").Add(float64(invalidValue))
	c.resolvedEntries.WithLabelValues("unresolvable").Add(float64(unresolvable))
}

func (c *Collector) ObserveSubmitRetry() {
	c.submitRetries.Inc()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractResultID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "hasil" {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
