package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuctionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_created_total",
		Help: "Total number of auctions created",
	})

	BidsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bids_accepted_total",
		Help: "Total number of accepted bids",
	})

	BidsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bids_rejected_total",
		Help: "Total number of rejected bids",
	}, []string{"reason"})

	BidCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bid_commit_latency_seconds",
		Help:    "Latency of the conditional bid commit against the authoritative store",
		Buckets: prometheus.DefBuckets,
	})

	PriceCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_cache_lookups_total",
		Help: "Price cache fast-path lookups",
	}, []string{"outcome"})

	AuctionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctions_ended_total",
		Help: "Total number of auctions transitioned to ended",
	}, []string{"trigger"})

	AuctionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_closed_total",
		Help: "Total number of auctions closed by a seller decision or counter reply",
	})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Total number of expiry sweep passes",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notification records produced by fan-out",
	}, []string{"type"})

	BroadcastEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_events_total",
		Help: "Total number of events broadcast to connected viewers",
	})

	BroadcastPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_publish_failures_total",
		Help: "Failed publishes to the shared cross-process topic",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Currently connected WebSocket viewers",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
