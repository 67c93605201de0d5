package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Action is the lifecycle action reported by the upstream watch.
type Action string

const (
	ActionAdded    Action = "Added"
	ActionModified Action = "Modified"
	ActionDeleted  Action = "Deleted"
)

// PodEvent is one filtered observation of a pod lifecycle event.
// Pod is the namespace-qualified name ("namespace/name"). ObservedAt is the
// process-local capture time, not the platform-reported event time.
type PodEvent struct {
	Pod        string
	Action     Action
	ObservedAt time.Time
}

// Sample is one (pod, action) key as seen by Snapshot.
type Sample struct {
	Pod      string    `json:"pod"`
	Action   Action    `json:"action"`
	Count    uint64    `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type registryKey struct {
	pod    string
	action Action
}

type registryEntry struct {
	count    uint64
	lastSeen time.Time
}

// Registry accumulates pod event counts keyed by (pod, action).
//
// It is written by exactly one goroutine (the watch loop) and read by any
// number of concurrent scrapers. Counters are monotonically non-decreasing
// and duplicate deliveries are counted again on purpose: the registry counts
// event deliveries observed, not unique cluster transitions. There is no
// eviction; cardinality is bounded by the lifetime of the run.
//
// Registry implements prometheus.Collector so the same structure backs the
// /metrics endpoint directly.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]registryEntry

	countDesc    *prometheus.Desc
	lastSeenDesc *prometheus.Desc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[registryKey]registryEntry),
		countDesc: prometheus.NewDesc(
			"podwatch_pod_events_total",
			"Total number of pod lifecycle event deliveries observed, by pod and action.",
			[]string{"pod", "action"}, nil,
		),
		lastSeenDesc: prometheus.NewDesc(
			"podwatch_pod_event_last_seen_timestamp_seconds",
			"Unix timestamp of the most recently observed event for a (pod, action) key.",
			[]string{"pod", "action"}, nil,
		),
	}
}

// Record registers one observation. It must only be called from the watch
// loop goroutine; the critical section is a map update and nothing else, so
// readers are never stalled for long.
func (r *Registry) Record(ev PodEvent) {
	k := registryKey{pod: ev.Pod, action: ev.Action}

	r.mu.Lock()
	e := r.entries[k]
	e.count++
	e.lastSeen = ev.ObservedAt
	r.entries[k] = e
	r.mu.Unlock()
}

// Snapshot returns a point-in-time view of all keys, sorted by pod then
// action. Each key's (count, lastSeen) pair is read atomically; the snapshot
// as a whole may interleave with concurrent writes to other keys, which
// scrape consumers tolerate.
func (r *Registry) Snapshot() []Sample {
	r.mu.RLock()
	samples := make([]Sample, 0, len(r.entries))
	for k, e := range r.entries {
		samples = append(samples, Sample{
			Pod:      k.pod,
			Action:   k.action,
			Count:    e.count,
			LastSeen: e.lastSeen,
		})
	}
	r.mu.RUnlock()

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Pod != samples[j].Pod {
			return samples[i].Pod < samples[j].Pod
		}
		return samples[i].Action < samples[j].Action
	})
	return samples
}

// Len returns the number of distinct (pod, action) keys recorded so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.countDesc
	ch <- r.lastSeenDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, s := range r.Snapshot() {
		ch <- prometheus.MustNewConstMetric(
			r.countDesc, prometheus.CounterValue, float64(s.Count), s.Pod, string(s.Action))
		ch <- prometheus.MustNewConstMetric(
			r.lastSeenDesc, prometheus.GaugeValue, float64(s.LastSeen.Unix()), s.Pod, string(s.Action))
	}
}
