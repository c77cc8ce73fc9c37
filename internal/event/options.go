package event

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/telemetry"
)

// BusOption configures a Bus.
type BusOption func(*busConfig)

type busConfig struct {
	// queueCapacity bounds the queue; zero means unbounded.
	queueCapacity int

	// handlerTimeout is the context deadline given to each handler.
	handlerTimeout time.Duration

	// rateLimit and rateBurst throttle dispatch cycles when rateLimit > 0.
	rateLimit rate.Limit
	rateBurst int

	logger  *logging.Logger
	metrics *telemetry.Metrics
	onError func(*HandlerError)
}

func defaultBusConfig() busConfig {
	return busConfig{
		logger: logging.Nop(),
	}
}

// WithQueueCapacity bounds the event queue. Enqueue returns ErrQueueFull once
// n events are waiting. Zero or negative means unbounded.
func WithQueueCapacity(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithHandlerTimeout sets the deadline placed on each handler's context.
// Handlers that ignore their context are not interrupted.
func WithHandlerTimeout(d time.Duration) BusOption {
	return func(c *busConfig) {
		c.handlerTimeout = d
	}
}

// WithDispatchRate limits how many events per second the loop dispatches.
func WithDispatchRate(limit rate.Limit, burst int) BusOption {
	return func(c *busConfig) {
		if limit > 0 {
			c.rateLimit = limit
			c.rateBurst = max(burst, 1)
		}
	}
}

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *logging.Logger) BusOption {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTelemetry records bus activity on m.
func WithTelemetry(m *telemetry.Metrics) BusOption {
	return func(c *busConfig) {
		c.metrics = m
	}
}

// WithErrorHandler registers fn to receive every handler failure after it
// has been logged. fn runs on the dispatch goroutine.
func WithErrorHandler(fn func(*HandlerError)) BusOption {
	return func(c *busConfig) {
		c.onError = fn
	}
}
