package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lock acquisition latency - histogram to track p50/p90/p99
	// covers the read plus the compare-and-set write against the store
	LockAcquireDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rolodex_lock_acquire_duration_seconds",
			Help:    "time taken to acquire a record lock",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	// lock acquisition counter by outcome
	// labels: status (success/conflict/not_found/error)
	// conflict rate shows how often users collide on the same record
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolodex_lock_acquire_total",
			Help: "total number of lock acquisitions",
		},
		[]string{"status"},
	)

	// lock release counter by cause
	// labels: reason (unlock/update/delete/disconnect/stale)
	// a high disconnect share means users close tabs mid-edit
	LockReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolodex_lock_release_total",
			Help: "total number of lock releases",
		},
		[]string{"reason"},
	)

	// currently held locks
	// useful for detecting lock leaks from clients that vanished without a close
	LocksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolodex_locks_active",
			Help: "current number of held record locks",
		},
	)

	// compare-and-set retries - a write lost a race and re-read the record
	CASRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolodex_cas_retries_total",
			Help: "total number of compare-and-set retries after a concurrent change",
		},
	)

	// open real-time channels
	PeersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolodex_peers_connected",
			Help: "current number of connected real-time peers",
		},
	)

	// broadcasts by event type
	// labels: event (lockGranted/lockReleased/recordChanged/recordRemoved)
	BroadcastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolodex_broadcast_total",
			Help: "total number of broadcasts fanned out to peers",
		},
		[]string{"event"},
	)

	// peers dropped because their outbound queue filled up
	PeerEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rolodex_peer_evictions_total",
			Help: "total number of slow peers evicted",
		},
	)

	// inbound events rejected before reaching the coordinator
	// labels: reason (unidentified/rate_limited/identity_mismatch/unknown/unverified)
	EventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolodex_events_rejected_total",
			Help: "total number of real-time events rejected",
		},
		[]string{"reason"},
	)

	// request api calls by operation and http status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rolodex_api_requests_total",
			Help: "total number of request api calls",
		},
		[]string{"op", "code"},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rolodex_up",
			Help: "whether the service is up (always 1 when running)",
		},
	)
)

func init() {
	// set uptime gauge to 1 on startup
	Up.Set(1)
}
