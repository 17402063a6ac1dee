// Package counters provides hardware performance-counter sources for
// measure timers.
package counters

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/measure"
)

var (
	// ErrUnsupported is returned by sources on platforms without perf events.
	ErrUnsupported = errors.NewError(errors.ErrorTypeCounters, "COUNTERS_UNSUPPORTED", "hardware counters are not supported on this platform")
	// ErrUnknownEvent is returned for an event the source cannot map.
	ErrUnknownEvent = errors.NewError(errors.ErrorTypeCounters, "COUNTERS_UNKNOWN_EVENT", "unknown hardware event")
	// ErrOpen wraps a failure to open a counter.
	ErrOpen = errors.NewError(errors.ErrorTypeCounters, "COUNTERS_OPEN", "failed to open hardware counter")
	// ErrRead wraps a failure to stop or read a counter.
	ErrRead = errors.NewError(errors.ErrorTypeCounters, "COUNTERS_READ", "failed to read hardware counter")
	// ErrNotCounted means the kernel never scheduled the counter.
	ErrNotCounted = errors.NewError(errors.ErrorTypeCounters, "COUNTERS_NOT_COUNTED", "hardware counter was never scheduled")
)

// Config selects how counters are opened.
type Config struct {
	// Enabled turns hardware counters on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Inherit extends counting to child processes and threads created
	// after Start.
	Inherit bool `mapstructure:"inherit" yaml:"inherit"`
	// IncludeKernel counts kernel-mode events too. Usually requires
	// CAP_PERFMON or a permissive perf_event_paranoid.
	IncludeKernel bool `mapstructure:"include_kernel" yaml:"include_kernel"`
}

// New returns the platform counter source, or nil when counters are disabled.
func New(logger *zap.Logger, config Config) measure.HardwareCounterSource {
	if !config.Enabled {
		return nil
	}
	return NewPerfSource(logger, config)
}

// Describe translates a counter error into a human-readable string.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := describeErrno(err); ok {
		return msg
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Unwrap() == nil {
		return appErr.Message
	}
	return err.Error()
}

// Check opens and immediately closes the counters for category, reporting
// whether src can serve it.
func Check(src measure.HardwareCounterSource, category measure.Category) error {
	events, ok := category.Events()
	if !ok || src == nil {
		return nil
	}
	session, err := src.Start(events)
	if err != nil {
		return err
	}
	_, err = session.Stop()
	return err
}
