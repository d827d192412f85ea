package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_outbox_depth",
			Help: "Number of messages waiting in the local outbox.",
		},
	)
	sendAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_send_attempts_total",
			Help: "Outbox send attempts by outcome.",
		},
		[]string{"outcome"},
	)
	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_outbox_drain_duration_seconds",
			Help:    "Duration of a full outbox drain pass.",
			Buckets: prometheus.DefBuckets,
		},
	)
	mergesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_merges_total",
			Help: "Authoritative batches merged into conversation views.",
		},
	)
	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_active_subscriptions",
			Help: "Live conversation subscriptions.",
		},
	)
	feedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_feed_reconnects_total",
			Help: "Change feeds re-opened after a failure.",
		},
	)
	typingWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_typing_writes_total",
			Help: "Typing flag writes by kind.",
		},
		[]string{"kind"},
	)
	presenceWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_presence_writes_total",
			Help: "Online status writes that reached the backend.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Local API requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "Local API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		outboxDepth,
		sendAttemptsTotal,
		drainDuration,
		mergesTotal,
		activeSubscriptions,
		feedReconnectsTotal,
		typingWritesTotal,
		presenceWritesTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Send outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeDuplicate = "duplicate"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

func SetOutboxDepth(n int) { outboxDepth.Set(float64(n)) }

func IncSendAttempt(outcome string) { sendAttemptsTotal.WithLabelValues(outcome).Inc() }

func ObserveDrain(start time.Time) { drainDuration.Observe(time.Since(start).Seconds()) }

func IncMerge() { mergesTotal.Inc() }

func IncSubscriptions() { activeSubscriptions.Inc() }

func DecSubscriptions() { activeSubscriptions.Dec() }

func IncFeedReconnect() { feedReconnectsTotal.Inc() }

func IncTypingWrite(kind string) { typingWritesTotal.WithLabelValues(kind).Inc() }

func IncPresenceWrite() { presenceWritesTotal.Inc() }

func ObserveHTTP(method, route string, status int, start time.Time) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
