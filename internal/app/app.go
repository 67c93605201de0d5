package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/podwatch/podwatch/internal/api"
	"github.com/podwatch/podwatch/internal/collector"
	"github.com/podwatch/podwatch/internal/config"
	"github.com/podwatch/podwatch/internal/metrics"
	"github.com/podwatch/podwatch/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// App wires the watch loop and the metrics server around one shared registry
// and supervises them: the first unit to fail fatally takes the whole process
// down. An exporter serving a frozen registry without a live watch is not a
// useful degraded mode, so the coupling is deliberate.
type App struct {
	cfg      *config.Config
	upstream collector.Upstream
	registry *metrics.Registry
	journal  *storage.Journal
	server   *api.Server
	listener net.Listener
	log      *logrus.Entry
}

// New builds the application and binds the HTTP listener. A port that cannot
// be bound is a startup failure, not a runtime one.
func New(cfg *config.Config, upstream collector.Upstream) (*App, error) {
	log := logrus.NewEntry(logrus.StandardLogger())

	registry := metrics.NewRegistry()
	promReg := metrics.NewPrometheusRegistry(registry)

	var journal *storage.Journal
	if cfg.JournalPath != "" {
		j, err := storage.Open(cfg.JournalPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		journal = j
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		if journal != nil {
			journal.Close()
		}
		return nil, fmt.Errorf("failed to bind %s: %w", cfg.ListenAddress, err)
	}

	return &App{
		cfg:      cfg,
		upstream: upstream,
		registry: registry,
		journal:  journal,
		server:   api.New(registry, promReg, journal, cfg.ListenAddress, log),
		listener: listener,
		log:      log,
	}, nil
}

// Addr returns the bound address of the HTTP listener.
func (a *App) Addr() string {
	return a.listener.Addr().String()
}

// Registry exposes the shared metrics registry.
func (a *App) Registry() *metrics.Registry {
	return a.registry
}

// Run starts the watch loop and the HTTP server and blocks until the context
// is cancelled (clean shutdown, returns nil) or one of the units fails
// fatally (the other is stopped and the error is returned).
func (a *App) Run(ctx context.Context) error {
	opts := collector.Options{
		MaxRetries:     a.cfg.MaxRetries,
		BackoffInitial: a.cfg.BackoffInitial,
		BackoffMax:     a.cfg.BackoffMax,
		BackoffReset:   a.cfg.BackoffReset,
		Logger:         a.log,
	}
	if a.journal != nil {
		opts.Journal = a.journal
	}
	watcher := collector.NewWatcher(a.upstream, a.registry, opts)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := watcher.Run(ctx); err != nil {
			return fmt.Errorf("watch loop terminated: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server terminated: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := eg.Wait()
	if a.journal != nil {
		err = multierr.Append(err, a.journal.Close())
	}
	return err
}
