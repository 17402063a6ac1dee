package measure

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// fenceWord backs fence. A sequentially consistent read-modify-write keeps
// both the compiler and the CPU from moving memory operations across it.
var fenceWord atomic.Uint64

func fence() {
	fenceWord.Add(1)
}

// Options configures a Meter.
type Options struct {
	// Category selects the hardware events. CategoryDefault disables them.
	Category Category
	// Counters is consulted only for active categories. Nil means
	// wall-clock timing only.
	Counters HardwareCounterSource
	// Output receives the console lines. Defaults to os.Stdout.
	Output io.Writer
	// Observer, if set, receives every Result after it is recorded.
	Observer ResultObserver
}

// ResultObserver is notified of every stopped timer.
type ResultObserver interface {
	ObserveResult(Result)
}

// Meter creates scoped timers that share a registry, a category and a
// counter source.
type Meter struct {
	logger   *zap.Logger
	registry *Registry
	category Category
	counters HardwareCounterSource
	out      io.Writer
	observer ResultObserver
}

// NewMeter creates a meter recording into registry.
func NewMeter(logger *zap.Logger, registry *Registry, opts Options) *Meter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Meter{
		logger:   logger,
		registry: registry,
		category: opts.Category,
		counters: opts.Counters,
		out:      opts.Output,
		observer: opts.Observer,
	}
}

// Registry returns the registry the meter records into.
func (m *Meter) Registry() *Registry {
	return m.registry
}

// Category returns the configured metric category.
func (m *Meter) Category() Category {
	return m.category
}

// Timer brackets one measured region. It is not safe for concurrent use and
// must be stopped on the goroutine that started it.
type Timer struct {
	meter     *Meter
	label     string
	start     time.Time
	session   CounterSession
	events    [2]Event
	requested bool
	stopped   bool
	result    Result
}

// Result describes a stopped timer.
type Result struct {
	Label   string
	Elapsed time.Duration
	// Recorded is the elapsed time truncated to whole milliseconds, the
	// value forwarded to the registry.
	Recorded time.Duration
	// Events is set when hardware counters were requested.
	Events            [2]Event
	CountersRequested bool
	Counters          [2]uint64
	CountersValid     bool
	Metrics           []Metric
}

// Start begins timing label. Release it with Stop, typically via defer.
func (m *Meter) Start(label string) *Timer {
	fmt.Fprintf(m.out, "Starting measurement for \"%s\"\n", label)

	t := &Timer{meter: m, label: label}
	if events, ok := m.category.Events(); ok && m.counters != nil {
		t.events = events
		t.requested = true
		session, err := m.counters.Start(events)
		if err != nil {
			fmt.Fprintf(m.out, "Hardware counters returned an error: %s\n", describe(m.counters, err))
			m.logger.Debug("Hardware counters unavailable",
				zap.String("label", label),
				zap.Stringer("category", m.category),
				zap.Error(err),
			)
		} else {
			t.session = session
		}
	}

	// Counters are opened before the start timestamp so their setup cost
	// stays out of the wall-clock window.
	t.start = time.Now()
	fence()
	return t
}

// Stop ends the measurement, prints it and records it. Calling Stop again
// returns the first result without recording anything.
func (t *Timer) Stop() Result {
	fence()
	end := time.Now()

	if t.stopped {
		return t.result
	}
	t.stopped = true

	m := t.meter
	res := Result{
		Label:             t.label,
		Elapsed:           end.Sub(t.start),
		Events:            t.events,
		CountersRequested: t.requested,
	}
	res.Recorded = res.Elapsed.Truncate(time.Millisecond)

	if t.session != nil {
		values, err := t.session.Stop()
		if err != nil {
			fmt.Fprintln(m.out, "Hardware counters not valid")
			m.logger.Debug("Hardware counters failed to stop",
				zap.String("label", t.label),
				zap.Error(err),
			)
		} else {
			res.Counters = values
			res.CountersValid = true
		}
		t.session = nil
	}

	fmt.Fprintf(m.out, "\"%s\" took %dms to run.\n", t.label, res.Recorded/time.Millisecond)
	if res.CountersValid {
		res.Metrics = DeriveMetrics(m.category, res.Counters)
		for _, metric := range res.Metrics {
			fmt.Fprintf(m.out, "\t%s: %s\n", metric.Name, metric)
		}
	}

	m.registry.RecordSample(t.label, res.Recorded)
	m.logger.Debug("Measurement recorded",
		zap.String("label", t.label),
		zap.Duration("elapsed", res.Elapsed),
		zap.Bool("counters", res.CountersValid),
	)

	t.result = res
	if m.observer != nil {
		m.observer.ObserveResult(res)
	}
	return res
}

// Label returns the timer's label.
func (t *Timer) Label() string {
	return t.label
}

// Measure runs fn inside a timer labelled label.
func (m *Meter) Measure(label string, fn func()) Result {
	t := m.Start(label)
	defer func() {
		if !t.stopped {
			t.Stop()
		}
	}()
	fn()
	return t.Stop()
}
