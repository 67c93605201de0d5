package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// EventsObserved counts every raw event delivered by the upstream watch,
// including ones the filter discards.
var EventsObserved = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "podwatch",
	Name:      "events_observed_total",
	Help:      "Total number of raw watch events delivered by the upstream stream.",
})

// EventsDiscarded counts raw events the filter rejected (non-pod kinds and
// malformed pod payloads).
var EventsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "podwatch",
	Name:      "events_discarded_total",
	Help:      "Total number of watch events discarded by the pod filter.",
})

// WatchReconnects counts watch session restarts by reason.
var WatchReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "podwatch",
	Name:      "watch_reconnects_total",
	Help:      "Total number of watch stream reconnects, by reason.",
}, []string{"reason"})

// JournalDropped counts pod events dropped because the journal buffer was full.
var JournalDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "podwatch",
	Name:      "journal_events_dropped_total",
	Help:      "Total number of pod events dropped instead of journaled.",
})

// NewPrometheusRegistry builds the registry served on /metrics: the pod event
// collector, the process self-metrics, and the standard runtime collectors.
func NewPrometheusRegistry(r *Registry) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		r,
		EventsObserved,
		EventsDiscarded,
		WatchReconnects,
		JournalDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
