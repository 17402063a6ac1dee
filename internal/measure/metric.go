package measure

import (
	"fmt"
	"strconv"
)

// MetricKind tells how a metric value is rendered.
type MetricKind int

const (
	KindCount MetricKind = iota
	KindRatio
	KindPercent
)

// Metric is one derived line printed under a timer's elapsed-time line.
type Metric struct {
	Name  string
	Kind  MetricKind
	Value float64
	// Count holds the raw value of KindCount metrics.
	Count uint64
	// Undefined is set when a ratio had a zero denominator.
	Undefined bool
}

// String renders the value part of the metric.
func (m Metric) String() string {
	if m.Undefined {
		return "undefined"
	}
	switch m.Kind {
	case KindCount:
		return strconv.FormatUint(m.Count, 10)
	case KindPercent:
		return fmt.Sprintf("%.2f%%", m.Value)
	default:
		return fmt.Sprintf("%.2f", m.Value)
	}
}

type metricNames struct {
	first, second, rate string
	percent             bool
}

var categoryMetricNames = map[Category]metricNames{
	CategoryTotal:    {"Total instructions", "Total cycles", "Instruction per cycle", false},
	CategoryDCache:   {"L1 Cache misses", "L1 Cache accesses", "L1 Cache miss rate", true},
	CategoryDCache2:  {"L2 Cache misses", "L2 Cache accesses", "L2 Cache miss rate", true},
	CategoryBranch:   {"Branches mispredicted", "Total branches", "Branch misprediction rate", true},
	CategoryTLBCache: {"TLB data cache misses", "TLB data cache accesses", "TLB data cache miss rate", true},
}

// DeriveMetrics computes the metric lines for a category from the two raw
// counter values. It returns nil for the default category.
func DeriveMetrics(c Category, values [2]uint64) []Metric {
	names, ok := categoryMetricNames[c]
	if !ok {
		return nil
	}

	rate := Metric{Name: names.rate, Kind: KindRatio}
	if names.percent {
		rate.Kind = KindPercent
	}
	if values[1] == 0 {
		rate.Undefined = true
	} else {
		rate.Value = float64(values[0]) / float64(values[1])
		if names.percent {
			rate.Value *= 100
		}
	}

	return []Metric{
		{Name: names.first, Kind: KindCount, Value: float64(values[0]), Count: values[0]},
		{Name: names.second, Kind: KindCount, Value: float64(values[1]), Count: values[1]},
		rate,
	}
}
