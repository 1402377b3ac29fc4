package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	messagesEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothub_bot_messages_enqueued_total",
		Help: "Total number of queue rows inserted",
	}, []string{"type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothub_bot_messages_processed_total",
		Help: "Total number of queue rows finished by workers",
	}, []string{"status"})

	claimAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothub_bot_claim_attempts_total",
		Help: "Total number of queue-row claim attempts",
	}, []string{"outcome"})

	stuckReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bothub_bot_stuck_messages_reclaimed_total",
		Help: "Total number of stuck rows reset to not-processed",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bothub_bot_queue_depth",
		Help: "Number of queue rows by status",
	}, []string{"status"})

	// Remote API metrics
	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bothub_bot_api_request_duration_seconds",
		Help:    "Duration of BotHub API operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothub_bot_api_requests_total",
		Help: "Total number of BotHub API operations",
	}, []string{"operation", "status"})

	// Webhook metrics
	webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothub_bot_webhooks_received_total",
		Help: "Total number of BotHub webhooks received",
	}, []string{"type", "status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bothub_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"user_id"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bothub_bot_active_workers",
		Help: "Number of running queue workers",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordEnqueued records a queue row insertion
func (m *Metrics) RecordEnqueued(msgType string) {
	messagesEnqueued.WithLabelValues(msgType).Inc()
}

// RecordMessageProcessed records a finished queue row
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordClaim records a claim attempt outcome ("won" or "lost")
func (m *Metrics) RecordClaim(outcome string) {
	claimAttempts.WithLabelValues(outcome).Inc()
}

// RecordReclaimed records stuck rows reset by the reclaim pass
func (m *Metrics) RecordReclaimed(count int64) {
	stuckReclaimed.Add(float64(count))
}

// SetQueueDepth sets the queue depth gauge for a status
func (m *Metrics) SetQueueDepth(status string, depth float64) {
	queueDepth.WithLabelValues(status).Set(depth)
}

// RecordAPIRequest records a BotHub API operation
func (m *Metrics) RecordAPIRequest(operation, status string, duration time.Duration) {
	apiRequestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	apiRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordWebhook records an inbound webhook
func (m *Metrics) RecordWebhook(webhookType, status string) {
	webhooksReceived.WithLabelValues(webhookType, status).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(userID string) {
	rateLimitExceeded.WithLabelValues(userID).Inc()
}

// SetActiveWorkers sets the running worker gauge
func (m *Metrics) SetActiveWorkers(count float64) {
	activeWorkers.Set(count)
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
