package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
		Name: "ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})
)

// Auth metrics.
var (
	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Login attempts by outcome (success, rejected, locked, invalid).",
		},
		[]string{"outcome"},
	)

	accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "account_lockouts_total",
		Help: "Accounts locked after too many failed attempts.",
	})

	securityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Security log entries appended, by event type.",
		},
		[]string{"type"},
	)
)

var initOnce sync.Once

// Регистрация метрик в default-регистре. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			loginAttemptsTotal, accountLockoutsTotal, securityEventsTotal,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveLogin counts one login attempt with the given outcome.
func ObserveLogin(outcome string) {
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLockout counts an account lockout.
func ObserveLockout() {
	accountLockoutsTotal.Inc()
}

// ObserveSecurityEvent counts an appended security log entry.
func ObserveSecurityEvent(eventType string) {
	securityEventsTotal.WithLabelValues(eventType).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
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

// collections whose following segments are identifiers.
var idCollections = map[string]bool{
	"users":         true,
	"conversations": true,
}

// actions that may follow an identifier and must stay verbatim.
var idActions = map[string]bool{
	"messages":       true,
	"read":           true,
	"lock":           true,
	"unlock":         true,
	"security-level": true,
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(raw, "/"), "/")
	inIDs := false
	for i, seg := range segments {
		switch {
		case idCollections[seg]:
			inIDs = true
		case inIDs && idActions[seg]:
			inIDs = false
		case inIDs && seg != "":
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
