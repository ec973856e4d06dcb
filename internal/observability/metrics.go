package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RacePool.
type Metrics struct {
	// --- Rooms ---
	RoomsCreated   *prometheus.CounterVec
	RoomsActive    prometheus.Gauge
	RoomsFinished  *prometheus.CounterVec
	PlayersJoined  prometheus.Counter
	RoomCapacity   *prometheus.HistogramVec

	// --- Simulation ---
	TickDuration  *prometheus.HistogramVec
	TickOverruns  prometheus.Counter
	TickErrors    prometheus.Counter
	RaceDuration  prometheus.Histogram
	EnginesActive prometheus.Gauge
	InputsQueued  prometheus.Counter
	InputsDropped prometheus.Counter

	// --- Prediction pool ledger ---
	StakesPlaced     prometheus.Counter
	StakesRejected   *prometheus.CounterVec
	StakeVolume      prometheus.Counter
	PoolsSettled     *prometheus.CounterVec
	PayoutsTotal     prometheus.Counter
	FeesTotal        prometheus.Counter
	RefundsTotal     prometheus.Counter
	SettleDuration   prometheus.Histogram
	AggregateDrift   prometheus.Gauge

	// --- Broadcast ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter
	PublishErrors   prometheus.Counter

	// --- Mirror ---
	MirrorWrites prometheus.Counter
	MirrorDrops  prometheus.Counter

	// --- Attestation ---
	AttestationsSigned prometheus.Counter
	AttestationsFailed prometheus.Counter

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	tickBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005,
		0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		RoomsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "racepool_rooms_created_total",
			Help: "Rooms created",
		}, []string{"mode"}),

		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "racepool_rooms_active",
			Help: "Rooms not yet finished or cancelled",
		}),

		RoomsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "racepool_rooms_finished_total",
			Help: "Rooms reaching a terminal status",
		}, []string{"status"}),

		PlayersJoined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_players_joined_total",
			Help: "Successful room joins",
		}),

		RoomCapacity: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "racepool_room_player_count",
			Help:    "Players per room at race start",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		}, []string{"mode"}),

		TickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "racepool_tick_duration_seconds",
			Help:    "Time to execute one simulation tick",
			Buckets: tickBuckets,
		}, []string{"mode"}),

		TickOverruns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_tick_overruns_total",
			Help: "Ticks whose execution exceeded the tick interval",
		}),

		TickErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_tick_errors_total",
			Help: "Recovered tick-loop panics (alert on any increase)",
		}),

		RaceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "racepool_race_duration_seconds",
			Help:    "Wall-clock duration of finished races",
			Buckets: []float64{5, 15, 30, 60, 90, 120, 180},
		}),

		EnginesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "racepool_engines_active",
			Help: "Simulation engines currently running",
		}),

		InputsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_inputs_queued_total",
			Help: "Player inputs accepted into a tick queue",
		}),

		InputsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_inputs_dropped_total",
			Help: "Player inputs rejected (unknown room or full queue)",
		}),

		StakesPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_stakes_placed_total",
			Help: "Stakes accepted by the ledger",
		}),

		StakesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "racepool_stakes_rejected_total",
			Help: "Stakes rejected before any mutation",
		}, []string{"reason"}),

		StakeVolume: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_stake_volume_total",
			Help: "Total staked amount (smallest currency unit)",
		}),

		PoolsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "racepool_pools_settled_total",
			Help: "Pool settlements by outcome (paid/refunded/noop)",
		}, []string{"outcome"}),

		PayoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_payouts_total",
			Help: "Total credited to winning stakes",
		}),

		FeesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_fees_total",
			Help: "Total platform fee retained",
		}),

		RefundsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_refunds_total",
			Help: "Total refunded on cancellation or zero-winner settlement",
		}),

		SettleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "racepool_settle_duration_seconds",
			Help:    "Pool settlement transaction latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),

		AggregateDrift: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "racepool_pool_aggregate_drift",
			Help: "Last observed total_stake minus sum of stakes (must stay 0)",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "racepool_events_published_total",
			Help: "Broadcast events published",
		}, []string{"event"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_publish_drops_total",
			Help: "Broadcast events dropped due to full publish channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_publish_errors_total",
			Help: "Broadcast transport failures (non-fatal)",
		}),

		MirrorWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_mirror_writes_total",
			Help: "Advisory simulation snapshots written",
		}),

		MirrorDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_mirror_drops_total",
			Help: "Advisory snapshots dropped due to full mirror channel",
		}),

		AttestationsSigned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_attestations_signed_total",
			Help: "Race attestations signed",
		}),

		AttestationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "racepool_attestations_failed_total",
			Help: "Attestation signing failures (placeholder substituted)",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "racepool_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "racepool_api_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
