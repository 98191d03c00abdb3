package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoanosis_relay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoanosis_relay_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// Chat metrics
	chatOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoanosis_relay_chat_outcomes_total",
		Help: "Total number of chat requests by outcome",
	}, []string{"outcome"})

	tokenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autoanosis_relay_token_verification_failures_total",
		Help: "Total number of identity token verification failures",
	}, []string{"kind"})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoanosis_relay_rate_limit_exceeded_total",
		Help: "Total number of rate limit rejections",
	})

	// Provider metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autoanosis_relay_ai_request_duration_seconds",
		Help:    "Duration of completion provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	// Conversation store metrics
	activeConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autoanosis_relay_active_conversations",
		Help: "Number of conversations held in memory",
	})

	conversationsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autoanosis_relay_conversations_swept_total",
		Help: "Total number of expired conversations removed",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordChatOutcome records the terminal outcome of a chat request
func (m *Metrics) RecordChatOutcome(outcome string) {
	chatOutcomes.WithLabelValues(outcome).Inc()
}

// RecordTokenFailure records a failed token verification
func (m *Metrics) RecordTokenFailure(kind string) {
	tokenFailures.WithLabelValues(kind).Inc()
}

// RecordRateLimitExceeded records a rate limit rejection
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordAIRequest records a completion provider request
func (m *Metrics) RecordAIRequest(model, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// SetActiveConversations sets the number of stored conversations
func (m *Metrics) SetActiveConversations(count int) {
	activeConversations.Set(float64(count))
}

// RecordSwept records conversations removed by a sweep
func (m *Metrics) RecordSwept(count int) {
	conversationsSwept.Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument is a mux middleware counting requests per route template.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
