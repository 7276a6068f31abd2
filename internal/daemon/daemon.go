// Package daemon wires the store, executor, event transports, API and
// scheduler together and owns their lifecycle.
package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/buildrunner/internal/api"
	"git.home.luguber.info/inful/buildrunner/internal/build"
	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/logfields"
	"git.home.luguber.info/inful/buildrunner/internal/metrics"
	"git.home.luguber.info/inful/buildrunner/internal/retry"
	"git.home.luguber.info/inful/buildrunner/internal/runner"
	"git.home.luguber.info/inful/buildrunner/internal/scheduler"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// Daemon owns every long-lived component.
type Daemon struct {
	mu         sync.Mutex
	cfg        *config.Config
	configPath string
	status     atomic.Value
	closeOnce  sync.Once

	store     *store.SQLiteStore
	bus       *events.Bus
	nats      *events.NATSPublisher
	registry  *prom.Registry
	executor  *build.Executor
	service   *build.Service
	scheduler *scheduler.Scheduler
	api       *api.Server
	watcher   *ConfigWatcher
}

// New opens the store and builds every component without starting any of them.
// configPath enables hot reload when cfg.Daemon.WatchConfig is set; it may be empty.
func New(ctx context.Context, cfg *config.Config, configPath string) (*Daemon, error) {
	d := &Daemon{cfg: cfg, configPath: configPath}
	d.status.Store(StatusStopped)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	d.store = st

	d.registry = prom.NewRegistry()
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		d.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(d.registry)
	}

	d.bus = events.NewBus()
	publishers := events.Fanout{d.bus}
	if cfg.Events.NATS.Enabled {
		np, err := events.NewNATSPublisher(ctx, cfg.Events.NATS)
		if err != nil {
			slog.Warn("NATS event publishing disabled", logfields.Error(err))
		} else {
			d.nats = np
			publishers = append(publishers, np)
		}
	}
	publisher := events.NewBestEffort(publishers,
		events.WithTimeout(config.Duration(cfg.Events.PublishTimeout, events.DefaultPublishTimeout)),
		events.WithRecorder(recorder))

	d.executor = build.NewExecutor(st, publisher, build.FromRunner(runner.New(cfg.Runner)),
		build.WithBatchSize(cfg.Logs.BatchSize),
		build.WithFlushRetry(retry.FromConfig(cfg.Logs.FlushRetry)),
		build.WithLogEvery(cfg.Events.LogEvery),
		build.WithRecorder(recorder))
	d.service = build.NewService(st, d.executor)

	d.scheduler, err = scheduler.New(d.service)
	if err != nil {
		d.closeResources()
		return nil, errors.WrapError(err, errors.CategoryDaemon, "failed to create scheduler").Build()
	}

	opts := api.Options{Store: st, Trigger: d.service, Bus: d.bus}
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.HTTPHandler(d.registry)
		opts.MetricsPath = cfg.Metrics.Path
	}
	d.api = api.NewServer(cfg.Server, opts)

	if err := d.seedPipelines(ctx, cfg.Pipelines); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Store returns the daemon's store.
func (d *Daemon) Store() *store.SQLiteStore { return d.store }

// Service returns the build trigger service.
func (d *Daemon) Service() *build.Service { return d.service }

// Bus returns the in-process event bus.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// Handler exposes the HTTP API.
func (d *Daemon) Handler() http.Handler { return d.api.Handler() }

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	if s, ok := d.status.Load().(Status); ok {
		return s
	}
	return StatusStopped
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Run starts the API, scheduler and config watcher, blocks until ctx is
// cancelled or the API fails, then stops everything.
func (d *Daemon) Run(ctx context.Context) error {
	d.status.Store(StatusStarting)
	cfg := d.GetConfig()

	if err := d.scheduler.Replace(cfg.Schedules); err != nil {
		slog.Warn("Some schedules were not registered", logfields.Error(err))
	}
	d.scheduler.Start()

	if cfg.Daemon.WatchConfig && d.configPath != "" {
		d.startWatcher(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server listening", slog.String("addr", d.api.Addr))
		if err := d.api.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	d.status.Store(StatusRunning)
	slog.Info("Build runner daemon started")

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = errors.WrapError(err, errors.CategoryDaemon, "API server failed").Build()
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Duration(cfg.Daemon.StopTimeout, 30*time.Second))
	defer cancel()
	if err := d.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (d *Daemon) startWatcher(ctx context.Context) {
	w, err := NewConfigWatcher(d.configPath, d)
	if err != nil {
		slog.Warn("Config watcher unavailable", logfields.Error(err))
		return
	}
	if err := w.Start(ctx); err != nil {
		slog.Warn("Config watcher unavailable", logfields.Error(err))
		_ = w.Stop()
		return
	}
	d.watcher = w
}

// Stop shuts components down in reverse order and waits for running builds
// until ctx expires.
func (d *Daemon) Stop(ctx context.Context) error {
	switch d.GetStatus() {
	case StatusStopping:
		return nil
	case StatusStopped:
		d.Close()
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping build runner daemon", slog.Int("running_builds", d.executor.Running()))

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if err := d.api.Shutdown(ctx); err != nil {
		slog.Error("Failed to stop API server", logfields.Error(err))
	}
	// No new builds may start while draining.
	if err := d.scheduler.Stop(); err != nil {
		slog.Debug("Scheduler stop", logfields.Error(err))
	}

	waitErr := d.executor.Wait(ctx)
	if waitErr != nil {
		slog.Warn("Stopping with builds still running", slog.Int("running_builds", d.executor.Running()))
	}

	d.Close()
	d.status.Store(StatusStopped)
	slog.Info("Build runner daemon stopped")
	return waitErr
}

// Close releases resources without waiting for builds. One-shot commands
// call it directly; Stop calls it after draining.
func (d *Daemon) Close() {
	d.closeOnce.Do(func() {
		if err := d.scheduler.Stop(); err != nil {
			slog.Debug("Scheduler stop", logfields.Error(err))
		}
		d.closeResources()
	})
}

func (d *Daemon) closeResources() {
	d.bus.Close()
	if d.nats != nil {
		if err := d.nats.Close(); err != nil {
			slog.Warn("Failed to drain NATS connection", logfields.Error(err))
		}
	}
	if err := d.store.Close(); err != nil {
		slog.Error("Failed to close store", logfields.Error(err))
	}
}

// ReloadConfig applies the reloadable parts of a new configuration: declared
// pipelines are upserted and schedules replaced. Other changes need a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if old != nil && (old.Server != cfg.Server || old.Store != cfg.Store) {
		slog.Warn("Server or store changes require a restart to take effect")
	}
	if err := d.seedPipelines(ctx, cfg.Pipelines); err != nil {
		return err
	}
	return d.scheduler.Replace(cfg.Schedules)
}

// seedPipelines registers pipelines declared in configuration.
func (d *Daemon) seedPipelines(ctx context.Context, pipelines []config.PipelineConfig) error {
	for _, pc := range pipelines {
		p, err := d.store.UpsertPipeline(ctx, pc.Definition())
		if err != nil {
			return err
		}
		slog.Debug("Pipeline registered", logfields.PipelineID(p.ID), logfields.Pipeline(p.Name))
	}
	return nil
}
