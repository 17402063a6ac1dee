package measure

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()

	first := r.GetOrCreate("copy")
	second := r.GetOrCreate("copy")

	assert.Same(t, first, second)
	assert.Zero(t, first.Count())
	assert.Zero(t, first.Total())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_AverageIsTruncatedMean(t *testing.T) {
	tests := []struct {
		name    string
		samples []int64
		want    int64
	}{
		{"single", []int64{7}, 7},
		{"exact", []int64{10, 20, 30}, 20},
		{"truncated", []int64{1, 2}, 1},
		{"truncated up to almost next", []int64{3, 3, 4}, 3},
		{"zeros", []int64{0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, ms := range tt.samples {
				r.RecordSample("region", time.Duration(ms)*time.Millisecond)
			}

			avg, ok := r.GetOrCreate("region").AverageMillis()
			require.True(t, ok)
			assert.Equal(t, tt.want, avg)

			var buf bytes.Buffer
			require.NoError(t, r.Dump(&buf))
			assert.Equal(t, "measurement|region|"+strconv.FormatInt(tt.want, 10)+"ms\n", buf.String())
		})
	}
}

func TestRegistry_AverageWithoutSamples(t *testing.T) {
	r := NewRegistry()
	_, ok := r.GetOrCreate("empty").AverageMillis()
	assert.False(t, ok)

	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf))
	assert.Empty(t, buf.String(), "unsampled labels are not dumped")
}

func TestRegistry_DumpIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.RecordSample("a", 12*time.Millisecond)
	r.RecordSample("b", 3*time.Millisecond)
	r.RecordSample("a", 14*time.Millisecond)

	var first, second bytes.Buffer
	require.NoError(t, r.Dump(&first))
	require.NoError(t, r.Dump(&second))

	assert.Equal(t, first.String(), second.String())
}

func TestRegistry_DistinctLabels(t *testing.T) {
	r := NewRegistry()
	r.RecordSample("X", 40*time.Millisecond)
	r.RecordSample("Y", 2*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	seen := map[string]string{}
	for _, line := range lines {
		parts := strings.Split(line, "|")
		require.Len(t, parts, 3)
		assert.Equal(t, "measurement", parts[0])
		seen[parts[1]] = parts[2]
	}
	assert.Equal(t, "40ms", seen["X"])
	assert.Equal(t, "2ms", seen["Y"])
}

func TestRegistry_SnapshotCopies(t *testing.T) {
	r := NewRegistry()
	r.RecordSample("b", 5*time.Millisecond)
	r.RecordSample("a", 9*time.Millisecond)
	r.RecordSample("a", 1*time.Millisecond)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Label)
	assert.Equal(t, 2, snap[0].Count)
	assert.Equal(t, time.Millisecond, snap[0].Min)
	assert.Equal(t, 9*time.Millisecond, snap[0].Max)
	assert.Equal(t, []time.Duration{9 * time.Millisecond, time.Millisecond}, snap[0].Samples)

	r.RecordSample("a", 100*time.Millisecond)
	assert.Len(t, snap[0].Samples, 2)

	r.Reset()
	assert.Empty(t, r.Snapshot())
}

type recordingReporter struct {
	mu     sync.Mutex
	labels []string
}

func (r *recordingReporter) Report(label string, d time.Duration) {
	r.mu.Lock()
	r.labels = append(r.labels, label)
	r.mu.Unlock()
}

func TestRegistry_ConcurrentSamples(t *testing.T) {
	r := NewRegistry()
	rep := &recordingReporter{}
	r.AddReporter(rep)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordSample("shared", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 800, snap[0].Count)
	assert.Equal(t, 800*time.Millisecond, snap[0].Total)
	assert.Len(t, rep.labels, 800)
}

func TestRegistry_ReadRecordWhileRecording(t *testing.T) {
	r := NewRegistry()
	rec := r.GetOrCreate("x")

	const n = 20000
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			r.RecordSample("x", time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if avg, ok := r.GetOrCreate("x").AverageMillis(); ok {
				assert.Equal(t, int64(1), avg)
			}
			_ = rec.Count()
			_ = rec.Total()
		}
	}()
	wg.Wait()

	assert.Equal(t, n, rec.Count())
	assert.Equal(t, n*time.Millisecond, rec.Total())
}
