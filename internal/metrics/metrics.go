package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deal_engine"

// Metrics groups the engine's collectors. Build one per process with New.
type Metrics struct {
	Transitions    *prometheus.CounterVec
	LedgerEntries  *prometheus.CounterVec
	PostAttempts   *prometheus.CounterVec
	LivenessProbes *prometheus.CounterVec
	Clicks         *prometheus.CounterVec
	ActiveMonitors prometheus.Gauge
	SweptDeals     *prometheus.CounterVec
	RightsChecks   *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deal",
			Name:      "transitions_total",
			Help:      "Deal status transitions applied.",
		}, []string{"from", "to"}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "entries_total",
			Help:      "Escrow ledger entries appended.",
		}, []string{"type"}),
		PostAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "post_attempts_total",
			Help:      "Attempts to publish a creative.",
		}, []string{"result"}),
		LivenessProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "liveness_probes_total",
			Help:      "Liveness probes by outcome.",
		}, []string{"result"}),
		Clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "click",
			Name:      "events_total",
			Help:      "Click events by outcome.",
		}, []string{"result"}),
		ActiveMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fulfillment",
			Name:      "active_monitors",
			Help:      "Posted deals currently monitored.",
		}),
		SweptDeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "deals_total",
			Help:      "Deals moved by the expiry sweeper.",
		}, []string{"status"}),
		RightsChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel_health",
			Name:      "rights_checks_total",
			Help:      "Posting rights checks by outcome.",
		}, []string{"result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Periodic job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.Transitions,
		m.LedgerEntries,
		m.PostAttempts,
		m.LivenessProbes,
		m.Clicks,
		m.ActiveMonitors,
		m.SweptDeals,
		m.RightsChecks,
		m.JobDuration,
	)
	return m
}

// NewNop returns metrics bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
