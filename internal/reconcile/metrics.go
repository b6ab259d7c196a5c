package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_received_total",
		Help: "Inbound events handled by the reconciliation engine, by kind.",
	}, []string{"kind"})

	dedupDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_dedup_dropped_total",
		Help: "Inbound events discarded because their key was already applied.",
	})

	protocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_protocol_errors_total",
		Help: "Inbound payloads dropped as unparseable or referencing unknown messages.",
	})
)
