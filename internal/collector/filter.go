package collector

import (
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/podwatch/podwatch/internal/metrics"
)

// Filter classifies a raw watch event and projects it into a PodEvent.
// It returns false for anything that is not a well-formed pod lifecycle
// event: other resource kinds, bookmark/error frames, and pod objects with
// no name. The observation timestamp is the process clock at filter time,
// deliberately not the platform-reported event time.
func Filter(ev watch.Event) (metrics.PodEvent, bool) {
	switch ev.Type {
	case watch.Added, watch.Modified, watch.Deleted:
	default:
		return metrics.PodEvent{}, false
	}

	pod, ok := ev.Object.(*corev1.Pod)
	if !ok || pod.Name == "" {
		return metrics.PodEvent{}, false
	}

	return metrics.PodEvent{
		Pod:        fmt.Sprintf("%s/%s", pod.Namespace, pod.Name),
		Action:     metrics.Action(ev.Type),
		ObservedAt: time.Now().UTC(),
	}, true
}
