package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the instrument set shared by the bus and the scheduler. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	tracer trace.Tracer

	eventsEnqueued     metric.Int64Counter
	eventsDispatched   metric.Int64Counter
	handlerInvocations metric.Int64Counter
	handlerFailures    metric.Int64Counter
	dispatchDuration   metric.Float64Histogram
	tasksExecuted      metric.Int64Counter
	taskFailures       metric.Int64Counter
	taskLag            metric.Float64Histogram
}

// NewMetrics creates the instruments on the given providers.
func NewMetrics(mp metric.MeterProvider, tp trace.TracerProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{tracer: tp.Tracer(instrumentationName)}

	var err error
	if m.eventsEnqueued, err = meter.Int64Counter("pulse.events.enqueued",
		metric.WithDescription("Events accepted onto the dispatch queue")); err != nil {
		return nil, err
	}
	if m.eventsDispatched, err = meter.Int64Counter("pulse.events.dispatched",
		metric.WithDescription("Events fully dispatched to matching handlers")); err != nil {
		return nil, err
	}
	if m.handlerInvocations, err = meter.Int64Counter("pulse.handler.invocations"); err != nil {
		return nil, err
	}
	if m.handlerFailures, err = meter.Int64Counter("pulse.handler.failures",
		metric.WithDescription("Handler invocations that returned an error or panicked")); err != nil {
		return nil, err
	}
	if m.dispatchDuration, err = meter.Float64Histogram("pulse.dispatch.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.tasksExecuted, err = meter.Int64Counter("pulse.tasks.executed"); err != nil {
		return nil, err
	}
	if m.taskFailures, err = meter.Int64Counter("pulse.tasks.failures"); err != nil {
		return nil, err
	}
	if m.taskLag, err = meter.Float64Histogram("pulse.task.lag",
		metric.WithDescription("Delay between a task becoming eligible and firing"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

// EventEnqueued counts an accepted event.
func (m *Metrics) EventEnqueued(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.eventsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", eventType)))
}

// StartDispatch opens the span that covers one dispatch cycle.
func (m *Metrics) StartDispatch(ctx context.Context, eventType, eventID string) (context.Context, trace.Span) {
	if m == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, "pulse.dispatch", trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("event.id", eventID),
	))
}

// EventDispatched records the end of a dispatch cycle.
func (m *Metrics) EventDispatched(ctx context.Context, eventType string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event.type", eventType))
	m.eventsDispatched.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// HandlerInvoked counts one handler invocation and its outcome.
func (m *Metrics) HandlerInvoked(ctx context.Context, eventType, priority string, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("priority", priority),
	)
	m.handlerInvocations.Add(ctx, 1, attrs)
	if failed {
		m.handlerFailures.Add(ctx, 1, attrs)
	}
}

// TaskExecuted records one task firing. lag is how late it fired relative to
// the moment it became eligible.
func (m *Metrics) TaskExecuted(ctx context.Context, shard int, lag time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("shard", shard))
	m.tasksExecuted.Add(ctx, 1, attrs)
	m.taskLag.Record(ctx, float64(lag)/float64(time.Millisecond), attrs)
	if failed {
		m.taskFailures.Add(ctx, 1, attrs)
	}
}
