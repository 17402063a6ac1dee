// Package report turns registry snapshots into summary statistics and
// renders them.
package report

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/shizukutanaka/measure/internal/measure"
)

// Config selects the report format and destination.
type Config struct {
	// Format is one of text, table, json or yaml.
	Format string `mapstructure:"format" yaml:"format"`
	// Output is a file path; empty means stdout. A ".zst" suffix
	// compresses the file with zstd.
	Output string `mapstructure:"output" yaml:"output"`
}

// Stats summarises the samples of one label. Durations are in milliseconds.
type Stats struct {
	Label     string  `json:"label" yaml:"label"`
	Count     int     `json:"count" yaml:"count"`
	AverageMs int64   `json:"average_ms" yaml:"average_ms"`
	TotalMs   float64 `json:"total_ms" yaml:"total_ms"`
	MeanMs    float64 `json:"mean_ms" yaml:"mean_ms"`
	StdDevMs  float64 `json:"stddev_ms" yaml:"stddev_ms"`
	MinMs     float64 `json:"min_ms" yaml:"min_ms"`
	MaxMs     float64 `json:"max_ms" yaml:"max_ms"`
	P50Ms     float64 `json:"p50_ms" yaml:"p50_ms"`
	P95Ms     float64 `json:"p95_ms" yaml:"p95_ms"`
}

// Report is the document written by WriteFile.
type Report struct {
	RunID     string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Category  string    `json:"category" yaml:"category"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Stats     []Stats   `json:"measurements" yaml:"measurements"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Summarize computes Stats for every summary, preserving order.
// AverageMs is the same truncated value the registry dump prints.
func Summarize(summaries []measure.Summary) []Stats {
	out := make([]Stats, 0, len(summaries))
	for _, s := range summaries {
		if s.Count == 0 {
			continue
		}

		xs := make([]float64, len(s.Samples))
		for i, d := range s.Samples {
			xs[i] = millis(d)
		}
		sort.Float64s(xs)

		st := Stats{
			Label:     s.Label,
			Count:     s.Count,
			AverageMs: s.AverageMillis(),
			TotalMs:   millis(s.Total),
			MinMs:     millis(s.Min),
			MaxMs:     millis(s.Max),
		}
		if len(xs) > 0 {
			st.MeanMs = stat.Mean(xs, nil)
			if len(xs) > 1 {
				st.StdDevMs = stat.StdDev(xs, nil)
			}
			st.P50Ms = stat.Quantile(0.5, stat.Empirical, xs, nil)
			st.P95Ms = stat.Quantile(0.95, stat.Empirical, xs, nil)
		}
		if math.IsNaN(st.StdDevMs) {
			st.StdDevMs = 0
		}
		out = append(out, st)
	}
	return out
}
