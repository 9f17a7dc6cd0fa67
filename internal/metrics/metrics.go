// Package metrics provides Prometheus instrumentation for the pairchat
// server: message throughput, cleanup evictions, live feed connections and
// lobby occupancy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whisper/pairchat/internal/matching"
)

// Message results.
const (
	ResultSent        = "sent"
	ResultRejected    = "rejected"
	ResultRateLimited = "rate_limited"
	ResultFlagged     = "flagged"
)

var (
	// MessagesTotal counts chat posts by result.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"result"})

	// EventsTotal counts lobby events by kind.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_lobby_events_total",
		Help: "Total number of lobby events emitted",
	}, []string{"kind"})

	// CleanupRemovals counts users removed by the idle sweep.
	CleanupRemovals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_cleanup_removed_users_total",
		Help: "Users evicted by the idle cleanup",
	})

	// FeedConnections tracks the current number of open live feed sockets.
	FeedConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_feed_connections",
		Help: "Current number of active WebSocket feed connections",
	})

	// RequestDuration records HTTP handler latency by route.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairchat_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		EventsTotal,
		CleanupRemovals,
		FeedConnections,
		RequestDuration,
	)
}

// RegisterLobby exposes lobby occupancy as gauges read at scrape time.
func RegisterLobby(reg prometheus.Registerer, stats func() matching.Stats) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pairchat_users",
			Help: "Users currently known to the lobby",
		}, func() float64 { return float64(stats().Users) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pairchat_rooms",
			Help: "Rooms currently held by the lobby",
		}, func() float64 { return float64(stats().Rooms) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pairchat_waiting_rooms",
			Help: "Rooms waiting for a partner",
		}, func() float64 { return float64(stats().Waiting) }),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Observer counts lobby events. It implements matching.Observer.
type Observer struct{}

// Observe increments the per-kind counter.
func (Observer) Observe(e matching.Event) {
	EventsTotal.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == matching.EventUserRemoved {
		CleanupRemovals.Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
