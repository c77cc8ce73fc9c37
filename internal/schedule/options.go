package schedule

import (
	"time"

	"github.com/dshills/pulse/internal/logging"
	"github.com/dshills/pulse/internal/telemetry"
)

// Option configures a Loop or every shard of a Sharded scheduler.
type Option func(*loopConfig)

type loopConfig struct {
	logger          *logging.Logger
	metrics         *telemetry.Metrics
	taskTimeout     time.Duration
	removeOnFailure bool
	onError         func(*TaskError)
	now             func() time.Time
}

func defaultLoopConfig() loopConfig {
	return loopConfig{
		logger: logging.Nop(),
		now:    time.Now,
	}
}

// WithLogger sets the logger used to report task failures.
func WithLogger(l *logging.Logger) Option {
	return func(c *loopConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTelemetry records task runs on m.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(c *loopConfig) {
		c.metrics = m
	}
}

// WithTaskTimeout places a deadline on each run's context.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *loopConfig) {
		c.taskTimeout = d
	}
}

// WithRemoveOnFailure unregisters a task the first time it fails.
func WithRemoveOnFailure() Option {
	return func(c *loopConfig) {
		c.removeOnFailure = true
	}
}

// WithErrorHandler receives every task failure after it has been logged.
// fn runs on the loop goroutine.
func WithErrorHandler(fn func(*TaskError)) Option {
	return func(c *loopConfig) {
		c.onError = fn
	}
}
