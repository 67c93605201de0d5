package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/podwatch/podwatch/internal/metrics"
)

// maxAuthFailures is the number of consecutive authorization rejections
// tolerated before the loop gives up for good.
const maxAuthFailures = 3

// Journal receives every recorded pod event as a side channel. Append must
// never block; a full journal returns an error and the event is dropped
// from the journal only, never from the registry.
type Journal interface {
	Append(ev metrics.PodEvent) error
}

// Options tune the watch loop's retry behavior.
type Options struct {
	// Journal is optional; nil disables journaling.
	Journal Journal
	// MaxRetries bounds consecutive failed sessions. Zero means retry forever.
	MaxRetries int
	// BackoffInitial is the first reconnect delay after a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration
	// BackoffReset is how long a session must stream before the backoff and
	// failure count reset to their initial state.
	BackoffReset time.Duration
	Logger       *logrus.Entry
}

// Watcher is the long-lived watch loop. It owns the session bookmark and is
// the registry's only writer.
type Watcher struct {
	upstream Upstream
	registry *metrics.Registry
	journal  Journal
	log      *logrus.Entry

	maxRetries int
	backoff    *backoff.ExponentialBackOff
	resetAfter time.Duration

	bookmark string
}

// NewWatcher builds a watch loop over the given upstream, writing into the
// given registry.
func NewWatcher(upstream Upstream, registry *metrics.Registry, opts Options) *Watcher {
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.BackoffReset <= 0 {
		opts.BackoffReset = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BackoffInitial
	b.MaxInterval = opts.BackoffMax
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // the loop owns its own retry budget
	b.Reset()

	return &Watcher{
		upstream:   upstream,
		registry:   registry,
		journal:    opts.Journal,
		log:        opts.Logger,
		maxRetries: opts.MaxRetries,
		backoff:    b,
		resetAfter: opts.BackoffReset,
	}
}

// Run drives the watch loop until the context is cancelled (returns nil) or
// a fatal condition occurs (returns the error): repeated authorization
// rejection, or the configured retry budget exhausted. Everything else is
// retried forever.
func (w *Watcher) Run(ctx context.Context) error {
	failures := 0
	authFailures := 0

	for {
		if ctx.Err() != nil {
			w.log.Info("collector: shutting down")
			return nil
		}

		w.log.WithField("bookmark", w.bookmark).Info("collector: connecting to upstream watch")
		stream, err := w.upstream.Watch(ctx, metav1.ListOptions{
			Watch:               true,
			AllowWatchBookmarks: true,
			ResourceVersion:     w.bookmark,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err) {
				authFailures++
				if authFailures >= maxAuthFailures {
					return fmt.Errorf("collector: authorization rejected %d consecutive times: %w", authFailures, err)
				}
			} else {
				authFailures = 0
			}
			if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
				// A stale bookmark cannot be replayed. Resubscribe from
				// latest and accept redelivered events.
				w.expireBookmark()
				continue
			}
			failures++
			if w.maxRetries > 0 && failures > w.maxRetries {
				return fmt.Errorf("collector: retry budget exhausted after %d consecutive failures: %w", failures, err)
			}
			metrics.WatchReconnects.WithLabelValues("transient").Inc()
			if !w.sleep(ctx, err) {
				return nil
			}
			continue
		}

		authFailures = 0
		started := time.Now()
		expired := w.consume(ctx, stream)
		stream.Stop()
		if ctx.Err() != nil {
			w.log.Info("collector: shutting down")
			return nil
		}

		sustained := time.Since(started) >= w.resetAfter
		if sustained {
			w.backoff.Reset()
			failures = 0
		}

		if expired {
			w.expireBookmark()
			continue
		}

		// Clean or transient stream end: resume from the current bookmark.
		metrics.WatchReconnects.WithLabelValues("closed").Inc()
		w.log.WithField("bookmark", w.bookmark).Info("collector: watch stream ended, reconnecting")
		if !sustained {
			failures++
			if w.maxRetries > 0 && failures > w.maxRetries {
				return fmt.Errorf("collector: retry budget exhausted after %d consecutive short-lived sessions", failures)
			}
			if !w.sleep(ctx, nil) {
				return nil
			}
		}
	}
}

// consume drains one watch session. It returns true when the session ended
// because the bookmark expired server-side.
func (w *Watcher) consume(ctx context.Context, stream watch.Interface) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-stream.ResultChan():
			if !ok {
				return false
			}
			metrics.EventsObserved.Inc()

			switch ev.Type {
			case watch.Bookmark:
				w.advanceBookmark(ev.Object)
			case watch.Error:
				statusErr := apierrors.FromObject(ev.Object)
				if apierrors.IsResourceExpired(statusErr) || apierrors.IsGone(statusErr) {
					return true
				}
				w.log.WithError(statusErr).Warn("collector: upstream reported an error, reconnecting")
				return false
			default:
				w.advanceBookmark(ev.Object)
				pe, accepted := Filter(ev)
				if !accepted {
					metrics.EventsDiscarded.Inc()
					w.log.WithField("action", string(ev.Type)).Debug("collector: discarded event")
					continue
				}
				w.registry.Record(pe)
				if w.journal != nil {
					if err := w.journal.Append(pe); err != nil {
						metrics.JournalDropped.Inc()
						w.log.WithError(err).Warn("collector: dropped event from journal")
					}
				}
				w.log.WithFields(logrus.Fields{
					"pod":    pe.Pod,
					"action": string(pe.Action),
				}).Info("collector: observed pod event")
			}
		}
	}
}

func (w *Watcher) advanceBookmark(obj any) {
	if m, err := meta.Accessor(obj); err == nil {
		w.bookmark = m.GetResourceVersion()
	}
}

func (w *Watcher) expireBookmark() {
	metrics.WatchReconnects.WithLabelValues("expired").Inc()
	w.log.WithField("bookmark", w.bookmark).Warn("collector: bookmark expired, resuming with a full re-list")
	w.bookmark = ""
}

// sleep waits out the next backoff interval. It returns false when the
// context was cancelled instead.
func (w *Watcher) sleep(ctx context.Context, cause error) bool {
	delay := w.backoff.NextBackOff()
	entry := w.log.WithField("delay", delay.String())
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("collector: watch interrupted, backing off")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
