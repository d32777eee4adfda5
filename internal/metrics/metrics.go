// Package metrics exposes the consensus core's operational observability
// surface via prometheus: chain progress, peer penalties, fork-choice
// outcomes, and sync activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the core's gauges/counters. New registers them; no
// component of the core updates them.
type Metrics struct {
	TipHeight          prometheus.Gauge
	FinalizedHeight    prometheus.Gauge
	PeerPenalties      prometheus.Counter
	ForkChoiceStatus   *prometheus.CounterVec
	SyncActive         prometheus.Gauge
	MaxHeightCertified prometheus.Gauge
}

// New registers and returns the full metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus", Name: "tip_height",
			Help: "Current height of the local chain tip.",
		}),
		FinalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus", Name: "finalized_height",
			Help: "Greatest height whose subtree is irreversible.",
		}),
		PeerPenalties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Name: "peer_penalties_total",
			Help: "Total penalty points applied to peers.",
		}),
		ForkChoiceStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consensus", Name: "fork_choice_status_total",
			Help: "Count of fork-choice classifications by status.",
		}, []string{"status"}),
		SyncActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus", Name: "sync_active",
			Help: "1 if a synchronization mechanism is currently running, else 0.",
		}),
		MaxHeightCertified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus", Name: "max_height_certified",
			Help: "Greatest height with a stored aggregate commit.",
		}),
	}
	reg.MustRegister(m.TipHeight, m.FinalizedHeight, m.PeerPenalties, m.ForkChoiceStatus, m.SyncActive, m.MaxHeightCertified)
	return m
}

// ObserveForkChoice records one fork-choice classification by its string status.
func (m *Metrics) ObserveForkChoice(status string) {
	m.ForkChoiceStatus.WithLabelValues(status).Inc()
}

// SetSyncActive flips the sync-active gauge.
func (m *Metrics) SetSyncActive(active bool) {
	if active {
		m.SyncActive.Set(1)
	} else {
		m.SyncActive.Set(0)
	}
}
