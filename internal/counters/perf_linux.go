//go:build linux

package counters

import (
	stderrors "errors"
	"fmt"
	"runtime"

	"github.com/elastic/go-perf"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/shizukutanaka/measure/internal/errors"
	"github.com/shizukutanaka/measure/internal/measure"
)

// PerfSource counts events with perf_event_open(2) on the calling thread.
type PerfSource struct {
	logger *zap.Logger
	config Config
}

// NewPerfSource creates a perf_event backed source.
func NewPerfSource(logger *zap.Logger, config Config) *PerfSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerfSource{logger: logger, config: config}
}

// configurators maps an event onto the generic perf hardware events. Cache
// and TLB events return a read counter followed by a write counter; the two
// are summed so loads and stores are both counted. The kernel has no generic
// L2 event; the last-level cache stands in for it.
func configurators(e measure.Event) ([]perf.Configurator, error) {
	cache := func(id perf.Cache, result perf.CacheOpResult) []perf.Configurator {
		return []perf.Configurator{
			perf.HardwareCacheCounter{Cache: id, Op: perf.Read, Result: result},
			perf.HardwareCacheCounter{Cache: id, Op: perf.Write, Result: result},
		}
	}

	switch e {
	case measure.EventInstructions:
		return []perf.Configurator{perf.Instructions}, nil
	case measure.EventCycles:
		return []perf.Configurator{perf.CPUCycles}, nil
	case measure.EventL1DMisses:
		return cache(perf.L1D, perf.Miss), nil
	case measure.EventL1DAccesses:
		return cache(perf.L1D, perf.Access), nil
	case measure.EventL2DMisses:
		return cache(perf.LL, perf.Miss), nil
	case measure.EventL2DAccesses:
		return cache(perf.LL, perf.Access), nil
	case measure.EventBranchMisses:
		return []perf.Configurator{perf.BranchMisses}, nil
	case measure.EventBranches:
		return []perf.Configurator{perf.BranchInstructions}, nil
	case measure.EventDTLBMisses:
		return cache(perf.DTLB, perf.Miss), nil
	case measure.EventDTLBAccesses:
		return cache(perf.DTLB, perf.Access), nil
	}
	return nil, ErrUnknownEvent.WithContext("event", int(e))
}

func (s *PerfSource) attr(e measure.Event, cfg perf.Configurator) (*perf.Attr, error) {
	attr := new(perf.Attr)
	if err := cfg.Configure(attr); err != nil {
		return nil, ErrOpen.WithError(err).WithContext("event", e.String())
	}
	attr.Label = e.String()
	attr.CountFormat = perf.CountFormat{Enabled: true, Running: true}
	attr.Options.Disabled = true
	attr.Options.ExcludeKernel = !s.config.IncludeKernel
	attr.Options.ExcludeHypervisor = true
	attr.Options.Inherit = s.config.Inherit
	return attr, nil
}

// Start opens both events on the calling OS thread and enables them. The
// goroutine stays locked to its thread until the session is stopped. The
// first counter of each event is required; a write counter the CPU does
// not support is skipped and that event counts reads only.
func (s *PerfSource) Start(events [2]measure.Event) (measure.CounterSession, error) {
	runtime.LockOSThread()

	sess := &perfSession{logger: s.logger, tid: unix.Gettid(), names: events}
	for i, e := range events {
		cfgs, err := configurators(e)
		if err != nil {
			sess.release()
			return nil, err
		}
		for j, cfg := range cfgs {
			attr, err := s.attr(e, cfg)
			if err == nil {
				var ev *perf.Event
				ev, err = perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
				if err == nil {
					sess.events[i] = append(sess.events[i], ev)
					continue
				}
				err = ErrOpen.WithError(err).WithContext("event", e.String())
			}
			if j == 0 {
				sess.release()
				return nil, err
			}
			s.logger.Debug("Write counter unavailable, counting reads only",
				zap.Stringer("event", e),
				zap.Error(err),
			)
		}
	}

	for i, evs := range sess.events {
		for _, ev := range evs {
			if err := ev.Reset(); err != nil {
				sess.release()
				return nil, ErrOpen.WithError(err).WithContext("event", events[i].String())
			}
			if err := ev.Enable(); err != nil {
				sess.release()
				return nil, ErrOpen.WithError(err).WithContext("event", events[i].String())
			}
		}
	}

	s.logger.Debug("Hardware counters started",
		zap.Int("tid", sess.tid),
		zap.Stringer("first", events[0]),
		zap.Stringer("second", events[1]),
		zap.Int("first_counters", len(sess.events[0])),
		zap.Int("second_counters", len(sess.events[1])),
		zap.Bool("inherit", s.config.Inherit),
	)
	return sess, nil
}

// Describe implements measure.Describer.
func (s *PerfSource) Describe(err error) string {
	return Describe(err)
}

type perfSession struct {
	logger *zap.Logger
	tid    int
	names  [2]measure.Event
	events [2][]*perf.Event
	done   bool
}

func (p *perfSession) Stop() ([2]uint64, error) {
	var values [2]uint64
	if p.done {
		return values, ErrRead.WithContext("reason", "session already stopped")
	}
	defer p.release()

	for _, evs := range p.events {
		for _, ev := range evs {
			if err := ev.Disable(); err != nil {
				return values, ErrRead.WithError(err)
			}
		}
	}
	for i, evs := range p.events {
		v, err := sum(evs)
		if err != nil {
			return values, err.WithContext("event", p.names[i].String())
		}
		values[i] = v
	}
	return values, nil
}

// sum adds the scaled counts of one event's counters. The first counter
// must have run; an unscheduled companion contributes nothing.
func sum(evs []*perf.Event) (uint64, *errors.AppError) {
	var total uint64
	for j, ev := range evs {
		count, err := ev.ReadCount()
		if err != nil {
			return 0, ErrRead.WithError(err)
		}
		v, ok := scale(count)
		if !ok {
			if j == 0 {
				return 0, ErrNotCounted
			}
			continue
		}
		total += v
	}
	return total, nil
}

// release closes any open events and unlocks the OS thread exactly once.
func (p *perfSession) release() {
	if p.done {
		return
	}
	p.done = true
	for _, evs := range p.events {
		for _, ev := range evs {
			if err := ev.Close(); err != nil {
				p.logger.Debug("Failed to close hardware counter", zap.Error(err))
			}
		}
	}
	runtime.UnlockOSThread()
}

// scale extrapolates a multiplexed count the way perf stat does. ok is
// false when the counter never ran.
func scale(c perf.Count) (v uint64, ok bool) {
	if c.Running == 0 {
		return 0, false
	}
	if c.Running >= c.Enabled {
		return c.Value, true
	}
	return uint64(float64(c.Value) * float64(c.Enabled) / float64(c.Running)), true
}

func describeErrno(err error) (string, bool) {
	var errno unix.Errno
	if !stderrors.As(err, &errno) {
		return "", false
	}
	var msg string
	switch errno {
	case unix.EACCES, unix.EPERM:
		msg = "permission denied (lower /proc/sys/kernel/perf_event_paranoid or grant CAP_PERFMON)"
	case unix.ENOENT, unix.EOPNOTSUPP:
		msg = "event not supported by this CPU or kernel"
	case unix.ENODEV:
		msg = "no performance monitoring unit available"
	case unix.ENOSYS:
		msg = "perf_event_open is not implemented by this kernel"
	case unix.EINVAL:
		msg = "invalid event configuration"
	case unix.EMFILE:
		msg = "too many open files"
	case unix.EBUSY:
		msg = "performance monitoring unit is busy"
	default:
		msg = errno.Error()
	}
	return fmt.Sprintf("%s (errno %d)", msg, int(errno)), true
}
