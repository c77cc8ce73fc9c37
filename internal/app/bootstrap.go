package app

import (
	"context"
	"time"

	"github.com/dshills/pulse/internal/bridge"
	"github.com/dshills/pulse/internal/config/watcher"
	"github.com/dshills/pulse/internal/event"
	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/schedule"
	"github.com/dshills/pulse/internal/telemetry"
)

// bootstrapper builds runtime components with cleanup on failure.
type bootstrapper struct {
	rt        *Runtime
	initOrder []string
}

// bootstrap initializes all components in dependency order.
func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []struct {
		name string
		init func(context.Context) error
	}{
		{"logger", b.initLogger},
		{"telemetry", b.initTelemetry},
		{"bus", b.initBus},
		{"scheduler", b.initScheduler},
		{"bridge", b.initBridge},
		{"watcher", b.initWatcher},
	}
	for _, step := range steps {
		if err := step.init(ctx); err != nil {
			return &InitError{Component: step.name, Err: err}
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	return nil
}

func (b *bootstrapper) initLogger(context.Context) error {
	root := b.rt.opts.Logger
	if root == nil {
		l, err := logging.New(b.rt.cfg.Logging())
		if err != nil {
			return err
		}
		root = l
		b.rt.ownsLogger = true
	}
	b.rt.root = root
	b.rt.logger = root.WithComponent("runtime")
	return nil
}

func (b *bootstrapper) initTelemetry(ctx context.Context) error {
	p, err := telemetry.Setup(ctx, b.rt.cfg.TelemetryFor(b.rt.opts.Version), b.rt.root)
	if err != nil {
		return err
	}
	m, err := p.Metrics()
	if err != nil {
		_ = p.Shutdown(ctx)
		return err
	}
	b.rt.telemetry = p
	b.rt.metrics = m
	return nil
}

func (b *bootstrapper) initBus(context.Context) error {
	b.rt.bus = event.NewBus(busOptions(b.rt.cfg, b.rt.root, b.rt.metrics)...)
	return nil
}

func (b *bootstrapper) initScheduler(context.Context) error {
	s, err := schedule.NewSharded(b.rt.cfg.Scheduler.Shards, schedulerOptions(b.rt.cfg, b.rt.root, b.rt.metrics)...)
	if err != nil {
		return err
	}
	b.rt.scheduler = s
	return nil
}

func (b *bootstrapper) initBridge(ctx context.Context) error {
	bc := b.rt.cfg.Bridge
	if !bc.Enabled {
		return nil
	}

	tr := b.rt.opts.Transport
	if tr == nil {
		rt := bridge.NewRedisTransport(bc.Addr, bc.Password, bc.DB)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rt.Ping(pingCtx); err != nil {
			_ = rt.Close()
			return err
		}
		tr = rt
	}

	b.rt.transport = tr
	b.rt.bridge = bridge.New(tr, b.rt.bus,
		bridge.WithChannels(bc.Channels...),
		bridge.WithPrefix(bc.Prefix),
		bridge.WithExportFilter(b.rt.cfg.ExportFilter()),
		bridge.WithExportBuffer(bc.ExportBuffer),
		bridge.WithLogger(b.rt.root),
	)
	return nil
}

func (b *bootstrapper) initWatcher(context.Context) error {
	if !b.rt.opts.Watch || b.rt.opts.ConfigPath == "" {
		return nil
	}
	w, err := watcher.New(b.rt.opts.ConfigPath, watcher.WithLogger(b.rt.root))
	if err != nil {
		return err
	}
	w.OnChange(b.rt.reloadFile)
	b.rt.watcher = w
	return nil
}

// cleanup releases components in reverse initialization order.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(ctx, b.initOrder[i])
	}
}

func (b *bootstrapper) cleanupComponent(ctx context.Context, component string) {
	switch component {
	case "logger":
		if b.rt.ownsLogger {
			_ = b.rt.root.Close()
		}
	case "telemetry":
		_ = b.rt.telemetry.Shutdown(ctx)
	case "bus":
		b.rt.bus = nil
	case "scheduler":
		b.rt.scheduler = nil
	case "bridge":
		if b.rt.transport != nil {
			_ = b.rt.transport.Close()
			b.rt.transport = nil
		}
		b.rt.bridge = nil
	case "watcher":
		if b.rt.watcher != nil {
			_ = b.rt.watcher.Close()
			b.rt.watcher = nil
		}
	}
}
