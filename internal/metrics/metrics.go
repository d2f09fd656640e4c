package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Bridge relay
	// ============================================
	RelayEventsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grit_relay_events_observed_total",
		Help: "Total number of source ledger events observed",
	})

	RelayEventsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grit_relay_events_settled_total",
		Help: "Total number of events settled on the destination ledger",
	})

	RelayEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grit_relay_events_rejected_total",
			Help: "Total number of events permanently rejected",
		},
		[]string{"reason"},
	)

	RelayDuplicatesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grit_relay_duplicates_discarded_total",
		Help: "Total number of redelivered events discarded by the processed-set check",
	})

	RelayDeadLetters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_relay_dead_letters",
		Help: "Current number of dead-lettered events",
	})

	RelayLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_relay_lag_seconds",
		Help: "Seconds between the newest observed event and the last settled one",
	})

	RelaySubscriptionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_relay_subscription_status",
		Help: "Source ledger subscription status (1=connected, 0=disconnected)",
	})

	RelayLastProcessedTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_relay_last_processed_timestamp_seconds",
		Help: "Unix time of the most recent durably processed event",
	})

	// ============================================
	// Withdrawal governor
	// ============================================
	WithdrawalsAuthorized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grit_withdrawals_authorized_total",
		Help: "Total number of authorized withdrawal requests",
	})

	WithdrawalsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grit_withdrawals_rejected_total",
			Help: "Total number of rejected withdrawal requests",
		},
		[]string{"reason"},
	)

	WithdrawalDailyTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_withdrawal_daily_total_lamports",
		Help: "Lamports authorized within the current day window",
	})

	// ============================================
	// Market
	// ============================================
	CurveSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_curve_total_supply",
		Help: "Current bonding curve total supply in token base units",
	})

	TradesSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grit_trades_settled_total",
			Help: "Total number of settled curve trades",
		},
		[]string{"side"},
	)

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grit_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grit_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)
)
