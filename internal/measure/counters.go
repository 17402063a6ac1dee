package measure

// HardwareCounterSource starts counting a pair of hardware events.
// Implementations live in internal/counters; a timer only ever sees this
// interface and degrades to wall-clock timing when Start fails.
type HardwareCounterSource interface {
	Start(events [2]Event) (CounterSession, error)
}

// CounterSession is a running pair of counters.
type CounterSession interface {
	// Stop halts counting and returns the two deltas in the order the
	// events were passed to Start.
	Stop() ([2]uint64, error)
}

// Describer translates a counter error into a human-readable string.
// Sources may implement it; otherwise err.Error() is used.
type Describer interface {
	Describe(err error) string
}

func describe(src HardwareCounterSource, err error) string {
	if d, ok := src.(Describer); ok {
		return d.Describe(err)
	}
	return err.Error()
}
