//go:build !linux

package counters

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/shizukutanaka/measure/internal/measure"
)

// PerfSource is the stub used where perf events do not exist. Start always
// fails, so timers fall back to wall-clock reporting.
type PerfSource struct {
	logger *zap.Logger
	config Config
}

// NewPerfSource creates the stub source.
func NewPerfSource(logger *zap.Logger, config Config) *PerfSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PerfSource{logger: logger, config: config}
}

// Start implements measure.HardwareCounterSource.
func (s *PerfSource) Start(events [2]measure.Event) (measure.CounterSession, error) {
	return nil, ErrUnsupported.WithContext("os", runtime.GOOS)
}

// Describe implements measure.Describer.
func (s *PerfSource) Describe(err error) string {
	return Describe(err)
}

func describeErrno(error) (string, bool) {
	return "", false
}
