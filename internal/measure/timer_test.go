package measure

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	values     [2]uint64
	startErr   error
	stopErr    error
	startDelay time.Duration
	started    [][2]Event
}

func (f *fakeSource) Start(events [2]Event) (CounterSession, error) {
	time.Sleep(f.startDelay)
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, events)
	return fakeSession{f}, nil
}

func (f *fakeSource) Describe(err error) string {
	return "described: " + err.Error()
}

type fakeSession struct{ src *fakeSource }

func (s fakeSession) Stop() ([2]uint64, error) {
	return s.src.values, s.src.stopErr
}

func newTestMeter(t *testing.T, category Category, src HardwareCounterSource) (*Meter, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	m := NewMeter(zaptest.NewLogger(t), NewRegistry(), Options{
		Category: category,
		Counters: src,
		Output:   &out,
	})
	return m, &out
}

func outputLines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestTimer_RecordsOneSample(t *testing.T) {
	m, out := newTestMeter(t, CategoryDefault, nil)

	res := m.Start("A").Stop()

	snap := m.Registry().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "A", snap[0].Label)
	assert.Equal(t, 1, snap[0].Count)
	assert.Equal(t, res.Recorded, snap[0].Total)
	assert.False(t, res.CountersValid)

	lines := outputLines(out)
	require.Len(t, lines, 2)
	assert.Equal(t, `Starting measurement for "A"`, lines[0])
	assert.Regexp(t, `^"A" took \d+ms to run\.$`, lines[1])
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	m, out := newTestMeter(t, CategoryDefault, nil)

	timer := m.Start("once")
	first := timer.Stop()
	second := timer.Stop()

	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Registry().Snapshot()[0].Count)
	assert.Len(t, outputLines(out), 2)
}

func TestTimer_RecordedIsTruncatedToMillis(t *testing.T) {
	m, out := newTestMeter(t, CategoryDefault, nil)

	res := m.Measure("sleep", func() { time.Sleep(3 * time.Millisecond) })

	assert.GreaterOrEqual(t, res.Elapsed, 3*time.Millisecond)
	assert.Equal(t, res.Elapsed.Truncate(time.Millisecond), res.Recorded)
	assert.Zero(t, res.Recorded%time.Millisecond)
	assert.Contains(t, out.String(), `"sleep" took `+strconv.FormatInt(int64(res.Recorded/time.Millisecond), 10)+"ms to run.")
}

func TestTimer_NoMetricsWithoutCategory(t *testing.T) {
	for _, flags := range []string{"", "total", "L3CACHE"} {
		t.Run("flags="+flags, func(t *testing.T) {
			src := &fakeSource{values: [2]uint64{100, 50}}
			m, out := newTestMeter(t, ParseCategory(flags), src)

			res := m.Start("plain").Stop()

			assert.Empty(t, src.started, "counters must not start for the default category")
			assert.Empty(t, res.Metrics)
			lines := outputLines(out)
			require.Len(t, lines, 2)
			assert.Contains(t, lines[1], "took")
		})
	}
}

func TestTimer_TotalCategoryPrintsIPC(t *testing.T) {
	src := &fakeSource{values: [2]uint64{100, 50}}
	m, out := newTestMeter(t, CategoryTotal, src)

	res := m.Start("ipc").Stop()

	require.True(t, res.CountersValid)
	require.Len(t, src.started, 1)
	assert.Equal(t, [2]Event{EventInstructions, EventCycles}, src.started[0])

	lines := outputLines(out)
	require.Len(t, lines, 5)
	assert.Equal(t, "\tTotal instructions: 100", lines[2])
	assert.Equal(t, "\tTotal cycles: 50", lines[3])

	const prefix = "\tInstruction per cycle: "
	require.True(t, strings.HasPrefix(lines[4], prefix))
	ipc, err := strconv.ParseFloat(strings.TrimPrefix(lines[4], prefix), 64)
	require.NoError(t, err)
	assert.Equal(t, 2.0, ipc)
}

func TestTimer_MissRateLines(t *testing.T) {
	tests := []struct {
		category Category
		want     []string
	}{
		{CategoryDCache, []string{"\tL1 Cache misses: 5", "\tL1 Cache accesses: 20", "\tL1 Cache miss rate: 25.00%"}},
		{CategoryDCache2, []string{"\tL2 Cache misses: 5", "\tL2 Cache accesses: 20", "\tL2 Cache miss rate: 25.00%"}},
		{CategoryBranch, []string{"\tBranches mispredicted: 5", "\tTotal branches: 20", "\tBranch misprediction rate: 25.00%"}},
		{CategoryTLBCache, []string{"\tTLB data cache misses: 5", "\tTLB data cache accesses: 20", "\tTLB data cache miss rate: 25.00%"}},
	}

	for _, tt := range tests {
		t.Run(tt.category.String(), func(t *testing.T) {
			src := &fakeSource{values: [2]uint64{5, 20}}
			m, out := newTestMeter(t, tt.category, src)

			m.Start("rates").Stop()

			assert.Equal(t, tt.want, outputLines(out)[2:])
		})
	}
}

func TestTimer_ZeroDenominatorIsUndefined(t *testing.T) {
	src := &fakeSource{values: [2]uint64{3, 0}}
	m, out := newTestMeter(t, CategoryDCache, src)

	res := m.Start("empty-cache").Stop()

	require.Len(t, res.Metrics, 3)
	assert.True(t, res.Metrics[2].Undefined)
	assert.Contains(t, out.String(), "\tL1 Cache miss rate: undefined\n")
}

func TestTimer_CounterSetupIsNotTimed(t *testing.T) {
	src := &fakeSource{values: [2]uint64{1, 1}, startDelay: 200 * time.Millisecond}
	m, _ := newTestMeter(t, CategoryTotal, src)

	res := m.Start("setup").Stop()

	require.True(t, res.CountersValid)
	assert.Less(t, res.Elapsed, src.startDelay)
}

func TestTimer_StartFailureDegrades(t *testing.T) {
	src := &fakeSource{startErr: errors.New("permission denied")}
	m, out := newTestMeter(t, CategoryTotal, src)

	res := m.Start("degraded").Stop()

	assert.False(t, res.CountersValid)
	assert.Empty(t, res.Metrics)
	lines := outputLines(out)
	require.Len(t, lines, 3)
	assert.Equal(t, "Hardware counters returned an error: described: permission denied", lines[1])
	assert.Contains(t, lines[2], `"degraded" took`)
	assert.Equal(t, 1, m.Registry().Snapshot()[0].Count)
}

func TestTimer_StopFailureDegrades(t *testing.T) {
	src := &fakeSource{values: [2]uint64{1, 1}, stopErr: errors.New("read failed")}
	m, out := newTestMeter(t, CategoryBranch, src)

	res := m.Start("broken").Stop()

	assert.False(t, res.CountersValid)
	assert.Contains(t, out.String(), "Hardware counters not valid\n")
	assert.NotContains(t, out.String(), "Branch misprediction rate")
	assert.Equal(t, 1, m.Registry().Snapshot()[0].Count)
}

func TestMeter_MeasureStopsOnPanic(t *testing.T) {
	m, _ := newTestMeter(t, CategoryDefault, nil)

	assert.Panics(t, func() {
		m.Measure("panicky", func() { panic("boom") })
	})
	require.Len(t, m.Registry().Snapshot(), 1)
	assert.Equal(t, 1, m.Registry().Snapshot()[0].Count)
}

func TestMeter_DefaultsOutput(t *testing.T) {
	m := NewMeter(nil, NewRegistry(), Options{})
	assert.NotNil(t, m.out)
	assert.Equal(t, CategoryDefault, m.Category())
}

type observerFunc func(Result)

func (f observerFunc) ObserveResult(r Result) { f(r) }

func TestMeter_Observer(t *testing.T) {
	var got []Result
	var out bytes.Buffer
	m := NewMeter(zaptest.NewLogger(t), NewRegistry(), Options{
		Category: CategoryTotal,
		Counters: &fakeSource{values: [2]uint64{10, 5}},
		Output:   &out,
		Observer: observerFunc(func(r Result) { got = append(got, r) }),
	})

	timer := m.Start("observed")
	timer.Stop()
	timer.Stop()

	require.Len(t, got, 1)
	assert.Equal(t, "observed", got[0].Label)
	assert.Equal(t, [2]uint64{10, 5}, got[0].Counters)
}
