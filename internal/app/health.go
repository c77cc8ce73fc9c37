package app

import (
	"time"

	"github.com/dshills/pulse/internal/bridge"
	"github.com/dshills/pulse/internal/event"
)

// Status represents a health status level.
type Status int

const (
	// StatusHealthy indicates the runtime is fully operational.
	StatusHealthy Status = iota

	// StatusDegraded indicates the runtime is running but has lost work,
	// such as events rejected by a full queue or failed exports. Events
	// discarded on purpose by ClearQueue do not count.
	StatusDegraded

	// StatusUnhealthy indicates the runtime is not running.
	StatusUnhealthy
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Health is a point-in-time view of the runtime.
type Health struct {
	Status Status
	Uptime time.Duration

	Bus event.Stats

	// ShardSizes holds the number of registrations per scheduler shard.
	ShardSizes []int

	// Bridge is nil when the bridge is disabled.
	Bridge *bridge.Stats
}

// Health reports the current state of every component.
func (r *Runtime) Health() Health {
	h := Health{
		Status:     StatusUnhealthy,
		Bus:        r.bus.Stats(),
		ShardSizes: r.scheduler.ShardSizes(),
	}
	if r.bridge != nil {
		s := r.bridge.Stats()
		h.Bridge = &s
	}
	if !r.running.Load() {
		return h
	}

	if started := r.startedAt.Load(); started > 0 {
		h.Uptime = time.Since(time.Unix(0, started))
	}
	h.Status = StatusHealthy
	if h.Bus.EventsRejected > 0 || (h.Bridge != nil && (h.Bridge.PublishErrors > 0 || h.Bridge.ExportDropped > 0)) {
		h.Status = StatusDegraded
	}
	return h
}
