// Package metrics exposes Prometheus collectors for the sync engine and the
// cache invalidation broadcaster.
//
// A nil *Sync is valid and records nothing, so components can be built
// without a registry (tests, one-shot CLI commands).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsync"

// Sync groups every collector the package defines.
type Sync struct {
	Enqueued      prometheus.Counter
	Sends         *prometheus.CounterVec // outcome: confirmed|failed|error
	Remapped      prometheus.Counter
	Merged        prometheus.Counter
	FetchFailures prometheus.Counter
	OutboxSize    prometheus.Gauge
	Invalidations *prometheus.CounterVec // target, outcome: ok|failed
	Broadcasts    *prometheus.CounterVec // direction: sent|received
}

// New creates the collectors and registers them on reg.
// Returns an error if any collector is already registered.
func New(reg prometheus.Registerer) (*Sync, error) {
	m := &Sync{
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "enqueued_total",
			Help:      "Optimistic writes queued for delivery.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "sends_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		Remapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "remapped_total",
			Help:      "Confirmed records re-keyed to a server-issued id.",
		}),
		Merged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "merged_records_total",
			Help:      "Server records upserted by syncFromServer.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fetch_failures_total",
			Help:      "Server fetches that failed and skipped the merge.",
		}),
		OutboxSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "size",
			Help:      "Items currently queued.",
		}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Tier cache clears by target and outcome.",
		}, []string{"target", "outcome"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "tier_broadcasts_total",
			Help:      "Tier change messages by direction.",
		}, []string{"direction"}),
	}

	collectors := []prometheus.Collector{
		m.Enqueued, m.Sends, m.Remapped, m.Merged, m.FetchFailures,
		m.OutboxSize, m.Invalidations, m.Broadcasts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Sync) RecordEnqueued() {
	if m == nil {
		return
	}
	m.Enqueued.Inc()
}

func (m *Sync) RecordSend(outcome string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(outcome).Inc()
}

func (m *Sync) RecordRemap() {
	if m == nil {
		return
	}
	m.Remapped.Inc()
}

func (m *Sync) RecordMerged(n int) {
	if m == nil {
		return
	}
	m.Merged.Add(float64(n))
}

func (m *Sync) RecordFetchFailure() {
	if m == nil {
		return
	}
	m.FetchFailures.Inc()
}

func (m *Sync) SetOutboxSize(n int) {
	if m == nil {
		return
	}
	m.OutboxSize.Set(float64(n))
}

func (m *Sync) RecordInvalidation(target string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.Invalidations.WithLabelValues(target, outcome).Inc()
}

func (m *Sync) RecordBroadcast(direction string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(direction).Inc()
}
