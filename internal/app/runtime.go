package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/dshills/pulse/internal/bridge"
	"github.com/dshills/pulse/internal/config"
	"github.com/dshills/pulse/internal/config/notify"
	"github.com/dshills/pulse/internal/config/watcher"
	"github.com/dshills/pulse/internal/event"
	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/schedule"
	"github.com/dshills/pulse/internal/telemetry"
)

// Options configures a Runtime.
type Options struct {
	// Config is the validated configuration to run with.
	Config config.Config

	// ConfigPath is the file Config was loaded from. When Watch is set the
	// file is reloaded on change.
	ConfigPath string
	Watch      bool

	// DotEnv lists the .env files used when reloading.
	DotEnv []string

	// Version is reported to telemetry.
	Version string

	// Logger replaces the logger built from Config. The runtime does not
	// close it.
	Logger *logging.Logger

	// Transport replaces the Redis transport of the bridge.
	Transport bridge.Transport
}

// Runtime owns the bus, the scheduler and their supporting services.
type Runtime struct {
	opts Options

	mu  sync.RWMutex
	cfg config.Config

	root       *logging.Logger
	logger     *logging.Logger
	ownsLogger bool
	telemetry  *telemetry.Provider
	metrics    *telemetry.Metrics
	bus        *event.Bus
	scheduler  *schedule.Sharded
	transport  bridge.Transport
	bridge     *bridge.Bridge
	watcher    *watcher.Watcher
	notifier   *notify.Notifier

	running   atomic.Bool
	shutdown  atomic.Bool
	startedAt atomic.Int64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds every component from opts.Config. On failure the components
// already built are released and an *InitError is returned.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	r := &Runtime{
		opts:     opts,
		cfg:      opts.Config,
		notifier: notify.New(),
	}
	b := &bootstrapper{rt: r}
	if err := b.bootstrap(ctx); err != nil {
		b.cleanup()
		return nil, err
	}
	return r, nil
}

// Bus returns the event bus.
func (r *Runtime) Bus() *event.Bus { return r.bus }

// Scheduler returns the sharded task scheduler.
func (r *Runtime) Scheduler() *schedule.Sharded { return r.scheduler }

// Logger returns the root logger shared by every component.
func (r *Runtime) Logger() *logging.Logger { return r.root }

// Notifier delivers configuration changes applied by Reload.
func (r *Runtime) Notifier() *notify.Notifier { return r.notifier }

// Bridge returns the Redis bridge, or nil when disabled.
func (r *Runtime) Bridge() *bridge.Bridge { return r.bridge }

// Config returns the configuration currently in effect.
func (r *Runtime) Config() config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// IsRunning reports whether Start has been called without Shutdown.
func (r *Runtime) IsRunning() bool {
	return r.running.Load()
}

// Start starts the bus and scheduler, then the bridge and config watcher in
// background goroutines.
func (r *Runtime) Start(ctx context.Context) error {
	if r.shutdown.Load() {
		return ErrShutDown
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := r.bus.Start(); err != nil {
		r.running.Store(false)
		return &ComponentError{Component: "bus", Action: "start", Err: err}
	}
	if err := r.scheduler.Start(); err != nil {
		r.running.Store(false)
		return &ComponentError{Component: "scheduler", Action: "start", Err: err}
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.startedAt.Store(time.Now().UnixNano())

	if r.bridge != nil {
		r.goBackground("bridge", func() error { return r.bridge.Run(bg) })
	}
	if r.watcher != nil {
		r.goBackground("watcher", func() error { return r.watcher.Run(bg) })
	}

	r.logger.Info("runtime started",
		"shards", r.scheduler.Shards(),
		"bridge", r.bridge != nil,
		"watch", r.watcher != nil,
	)
	return nil
}

func (r *Runtime) goBackground(name string, fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, watcher.ErrClosed) {
			r.logger.Error("background component exited", "component", name, "error", err)
		}
	}()
}

// Shutdown stops the components in reverse start order and releases their
// resources. Stop errors from every component are collected. Calling it
// again returns nil.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	r.running.Store(false)

	var result *multierror.Error
	add := func(component string, err error) {
		if err != nil {
			result = multierror.Append(result, &ComponentError{Component: component, Action: "stop", Err: err})
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		add("watcher", r.watcher.Close())
	}
	waitDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		add("background", ctx.Err())
	}

	add("scheduler", r.scheduler.Stop(ctx))
	add("bus", r.bus.Stop(ctx))
	if r.transport != nil {
		add("transport", r.transport.Close())
	}
	add("telemetry", r.telemetry.Shutdown(ctx))
	r.notifier.Close()

	err := result.ErrorOrNil()
	if err != nil {
		r.logger.Error("runtime shutdown incomplete", "error", err)
	} else {
		r.logger.Info("runtime stopped")
	}
	if r.ownsLogger {
		_ = r.root.Close()
	}
	return err
}

// Reload applies cfg. Settings that can change live take effect at once;
// the rest are recorded and logged as needing a restart. Every change is
// delivered to the notifier.
func (r *Runtime) Reload(cfg config.Config, source string) ([]notify.Change, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.cfg
	changes := config.Diff(old, cfg)
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil, nil
	}
	r.cfg = cfg
	r.mu.Unlock()

	for _, c := range changes {
		if c.Path == "log.level" {
			if err := r.root.SetLevel(cfg.Log.Level); err != nil {
				return changes, fmt.Errorf("applying log.level: %w", err)
			}
			r.logger.Info("log level changed", "from", c.OldValue, "to", c.NewValue)
			continue
		}
		r.logger.Warn("setting changed, restart required", "setting", c.Path)
	}

	r.notifier.NotifyAll(source, changes)
	return changes, nil
}

func (r *Runtime) reloadFile(ev watcher.Event) {
	if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
		r.logger.Warn("config file went away, keeping current settings", "path", ev.Path)
		return
	}

	cfg, err := config.Load(
		config.WithFile(r.opts.ConfigPath),
		config.WithDotEnv(r.opts.DotEnv...),
	)
	if err != nil {
		r.logger.Error("config reload failed", "path", ev.Path, "error", err)
		return
	}
	if _, err := r.Reload(cfg, ev.Path); err != nil {
		r.logger.Error("config reload rejected", "path", ev.Path, "error", err)
	}
}

func busOptions(cfg config.Config, logger *logging.Logger, metrics *telemetry.Metrics) []event.BusOption {
	opts := []event.BusOption{
		event.WithLogger(logger),
		event.WithTelemetry(metrics),
		event.WithQueueCapacity(cfg.Dispatch.QueueCapacity),
		event.WithHandlerTimeout(cfg.Dispatch.HandlerTimeout.Std()),
	}
	if cfg.Dispatch.RatePerSecond > 0 {
		opts = append(opts, event.WithDispatchRate(rate.Limit(cfg.Dispatch.RatePerSecond), cfg.Dispatch.RateBurst))
	}
	return opts
}

func schedulerOptions(cfg config.Config, logger *logging.Logger, metrics *telemetry.Metrics) []schedule.Option {
	opts := []schedule.Option{
		schedule.WithLogger(logger),
		schedule.WithTelemetry(metrics),
		schedule.WithTaskTimeout(cfg.Scheduler.TaskTimeout.Std()),
	}
	if cfg.Scheduler.RemoveOnFailure {
		opts = append(opts, schedule.WithRemoveOnFailure())
	}
	return opts
}
