package taskmill

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for scheduler metrics.
const meterName = "github.com/tahsin716/taskmill"

// registerMetrics creates observable instruments backed by Stats. Values are
// read at collection time, so the hot path pays nothing for them.
//
// Instruments, each with attributes scheduler.id and loop:
//   - taskmill.jobs.executed (Int64ObservableCounter)
//   - taskmill.jobs.stolen (Int64ObservableCounter)
//   - taskmill.jobs.failed (Int64ObservableCounter)
//   - taskmill.deque.size (Int64ObservableGauge), general deque length
//   - taskmill.deque.retired (Int64ObservableGauge), rings retired by growth
//
// and, with attribute scheduler.id only:
//   - taskmill.submit.busy (Int64ObservableCounter)
//   - taskmill.jobs.outstanding (Int64ObservableGauge)
func registerMetrics(meter metric.Meter, s *Scheduler) (metric.Registration, error) {
	executed, err := meter.Int64ObservableCounter("taskmill.jobs.executed",
		metric.WithDescription("Jobs executed per loop"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	stolen, err := meter.Int64ObservableCounter("taskmill.jobs.stolen",
		metric.WithDescription("Executed jobs taken from another loop's deque"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64ObservableCounter("taskmill.jobs.failed",
		metric.WithDescription("Jobs that returned an error or panicked"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	busy, err := meter.Int64ObservableCounter("taskmill.submit.busy",
		metric.WithDescription("Submissions rejected because no slot or inbox space was free"),
		metric.WithUnit("{submission}"))
	if err != nil {
		return nil, err
	}
	outstanding, err := meter.Int64ObservableGauge("taskmill.jobs.outstanding",
		metric.WithDescription("Jobs accepted but not yet executed"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	dequeSize, err := meter.Int64ObservableGauge("taskmill.deque.size",
		metric.WithDescription("Jobs waiting in a worker's general deque"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	retired, err := meter.Int64ObservableGauge("taskmill.deque.retired",
		metric.WithDescription("Deque rings retired by growth"),
		metric.WithUnit("{ring}"))
	if err != nil {
		return nil, err
	}

	schedAttr := attribute.String("scheduler.id", s.id)

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := s.Stats()
		o.ObserveInt64(busy, st.Busy, metric.WithAttributes(schedAttr))
		o.ObserveInt64(outstanding, st.Outstanding, metric.WithAttributes(schedAttr))

		observeLoop := func(ls LoopStats) metric.ObserveOption {
			attrs := metric.WithAttributes(schedAttr, attribute.String("loop", ls.Name))
			o.ObserveInt64(executed, ls.Executed, attrs)
			o.ObserveInt64(stolen, ls.Stolen, attrs)
			o.ObserveInt64(failed, ls.Failed, attrs)
			return attrs
		}
		for _, ls := range st.Workers {
			attrs := observeLoop(ls)
			o.ObserveInt64(dequeSize, int64(ls.DequeSize), attrs)
			o.ObserveInt64(retired, int64(ls.Retired), attrs)
		}
		observeLoop(st.Render)
		return nil
	}, executed, stolen, failed, busy, outstanding, dequeSize, retired)
}
