package measure

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Record accumulates the samples recorded for one label. Its accessors
// take the owning registry's lock, so a Record may be read while other
// goroutines record samples.
type Record struct {
	mu      *sync.Mutex
	total   time.Duration
	count   int
	min     time.Duration
	max     time.Duration
	samples []time.Duration
}

// add must be called with mu held.
func (r *Record) add(d time.Duration) {
	if r.count == 0 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	r.total += d
	r.count++
	r.samples = append(r.samples, d)
}

// Count returns the number of samples.
func (r *Record) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Total returns the sum of all samples.
func (r *Record) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// AverageMillis returns Total/Count in whole milliseconds, truncated.
// ok is false when no sample has been recorded.
func (r *Record) AverageMillis() (ms int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0, false
	}
	return int64(r.total / time.Duration(r.count) / time.Millisecond), true
}

// Summary is an immutable copy of a Record taken by Snapshot.
type Summary struct {
	Label   string
	Total   time.Duration
	Count   int
	Min     time.Duration
	Max     time.Duration
	Samples []time.Duration
}

// AverageMillis mirrors Record.AverageMillis.
func (s Summary) AverageMillis() int64 {
	if s.Count == 0 {
		return 0
	}
	return int64(s.Total / time.Duration(s.Count) / time.Millisecond)
}

// Reporter receives every sample as it is recorded.
type Reporter interface {
	Report(label string, d time.Duration)
}

// Registry maps measurement labels to their accumulated records.
type Registry struct {
	mu        sync.Mutex
	records   map[string]*Record
	reporters []Reporter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// AddReporter registers r to receive every future sample.
func (r *Registry) AddReporter(rep Reporter) {
	r.mu.Lock()
	r.reporters = append(r.reporters, rep)
	r.mu.Unlock()
}

// GetOrCreate returns the record for label, creating a zeroed one on first use.
func (r *Registry) GetOrCreate(label string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(label)
}

func (r *Registry) getOrCreateLocked(label string) *Record {
	rec, ok := r.records[label]
	if !ok {
		rec = &Record{mu: &r.mu}
		r.records[label] = rec
	}
	return rec
}

// RecordSample adds d to the record for label.
func (r *Registry) RecordSample(label string, d time.Duration) {
	r.mu.Lock()
	r.getOrCreateLocked(label).add(d)
	reporters := r.reporters
	r.mu.Unlock()

	for _, rep := range reporters {
		rep.Report(label, d)
	}
}

// Len returns the number of labels known to the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Snapshot copies every sampled record, sorted by label.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, len(r.records))
	for label, rec := range r.records {
		if rec.count == 0 {
			continue
		}
		out = append(out, Summary{
			Label:   label,
			Total:   rec.total,
			Count:   rec.count,
			Min:     rec.min,
			Max:     rec.max,
			Samples: append([]time.Duration(nil), rec.samples...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Dump writes one "measurement|<label>|<avg>ms" line per sampled label.
func (r *Registry) Dump(w io.Writer) error {
	for _, s := range r.Snapshot() {
		if _, err := fmt.Fprintf(w, "measurement|%s|%dms\n", s.Label, s.AverageMillis()); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every record.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.records = make(map[string]*Record)
	r.mu.Unlock()
}
