package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func event(pod string, action Action, at time.Time) PodEvent {
	return PodEvent{Pod: pod, Action: action, ObservedAt: at}
}

// Duplicate deliveries are counted again on purpose: the registry counts
// event deliveries observed, not unique cluster transitions.
func TestRecordCountsDuplicateDeliveries(t *testing.T) {
	r := NewRegistry()
	at := time.Now().UTC()

	r.Record(event("default/web-1", ActionAdded, at))
	r.Record(event("default/web-1", ActionAdded, at))

	samples := r.Snapshot()
	if len(samples) != 1 {
		t.Fatalf("expected 1 key, got %d", len(samples))
	}
	if samples[0].Count != 2 {
		t.Fatalf("expected redelivered event to count twice, got %d", samples[0].Count)
	}
	if !samples[0].LastSeen.Equal(at) {
		t.Errorf("expected last seen %v, got %v", at, samples[0].LastSeen)
	}
}

func TestCountersAreMonotonic(t *testing.T) {
	r := NewRegistry()
	at := time.Now().UTC()
	last := make(map[string]uint64)

	events := []PodEvent{
		event("default/web-1", ActionAdded, at),
		event("default/web-2", ActionAdded, at),
		event("default/web-1", ActionModified, at),
		event("default/web-1", ActionModified, at),
		event("default/web-2", ActionDeleted, at),
		event("default/web-1", ActionAdded, at),
	}

	for _, ev := range events {
		r.Record(ev)
		for _, s := range r.Snapshot() {
			key := s.Pod + "/" + string(s.Action)
			if s.Count < last[key] {
				t.Fatalf("counter for %s decreased: %d -> %d", key, last[key], s.Count)
			}
			last[key] = s.Count
		}
	}
}

func TestSnapshotIsSorted(t *testing.T) {
	r := NewRegistry()
	at := time.Now().UTC()

	r.Record(event("kube-system/dns-5", ActionAdded, at))
	r.Record(event("default/web-1", ActionModified, at))
	r.Record(event("default/web-1", ActionAdded, at))

	samples := r.Snapshot()
	expected := []struct {
		pod    string
		action Action
	}{
		{"default/web-1", ActionAdded},
		{"default/web-1", ActionModified},
		{"kube-system/dns-5", ActionAdded},
	}
	if len(samples) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(samples))
	}
	for i, want := range expected {
		if samples[i].Pod != want.pod || samples[i].Action != want.action {
			t.Errorf("position %d: expected (%s, %s), got (%s, %s)",
				i, want.pod, want.action, samples[i].Pod, samples[i].Action)
		}
	}
}

// A snapshot must never pair a key's count with a lastSeen from a different
// record call. The writer stamps each observation with a strictly later
// timestamp, so a torn read would show up as a (count, lastSeen) pair that
// does not match.
func TestSnapshotHasNoTornReads(t *testing.T) {
	r := NewRegistry()
	const writes = 2000

	base := time.Unix(1_000_000, 0).UTC()
	stamps := make([]time.Time, writes+1)
	for i := 1; i <= writes; i++ {
		stamps[i] = base.Add(time.Duration(i) * time.Second)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= writes; i++ {
			r.Record(event("default/web-1", ActionModified, stamps[i]))
		}
	}()

	check := func() {
		for _, s := range r.Snapshot() {
			if s.Count == 0 || s.Count > writes {
				t.Fatalf("snapshot reported uncommitted count %d", s.Count)
			}
			if !s.LastSeen.Equal(stamps[s.Count]) {
				t.Fatalf("torn read: count %d paired with lastSeen %v, expected %v",
					s.Count, s.LastSeen, stamps[s.Count])
			}
		}
	}

	for {
		select {
		case <-done:
			check()
			return
		default:
			check()
		}
	}
}

func TestCollectExposition(t *testing.T) {
	r := NewRegistry()
	at := time.Now().UTC()

	r.Record(event("default/web-1", ActionAdded, at))
	r.Record(event("default/web-1", ActionModified, at))
	r.Record(event("default/web-1", ActionDeleted, at))

	expected := `
# HELP podwatch_pod_events_total Total number of pod lifecycle event deliveries observed, by pod and action.
# TYPE podwatch_pod_events_total counter
podwatch_pod_events_total{action="Added",pod="default/web-1"} 1
podwatch_pod_events_total{action="Deleted",pod="default/web-1"} 1
podwatch_pod_events_total{action="Modified",pod="default/web-1"} 1
`
	if err := testutil.CollectAndCompare(r, strings.NewReader(expected), "podwatch_pod_events_total"); err != nil {
		t.Fatalf("unexpected exposition output: %v", err)
	}
}
