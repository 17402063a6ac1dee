package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv isolates the command from the host's config and counters.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	t.Setenv("MEASURE_FLAGS", "")
	t.Setenv("MEASURE_COUNTERS_ENABLED", "false")
	t.Setenv("MEASURE_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestCategories(t *testing.T) {
	setupEnv(t)
	t.Setenv("MEASURE_FLAGS", "BRANCH")

	out, err := run(t, "categories")
	require.NoError(t, err)

	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "instructions, cycles")
	assert.Contains(t, out, "dtlb-misses, dtlb-accesses")
	assert.Regexp(t, `(?m)^\*\s+BRANCH\s+branch-misses, branches$`, out)
	assert.NotRegexp(t, `(?m)^\*\s+TOTAL`, out)
}

func TestExec_Repeat(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "exec", "--repeat", "3", "--label", "noop", "--", "true")
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(out, `Starting measurement for "noop"`))
	assert.Equal(t, 3, strings.Count(out, `"noop" took `))
	assert.Regexp(t, `(?m)^measurement\|noop\|\d+ms$`, out)
}

func TestExec_DefaultLabelAndChildArgs(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "exec", "sh", "-c", "echo hello")
	require.NoError(t, err)

	assert.Contains(t, out, "hello\n")
	assert.Contains(t, out, `Starting measurement for "sh -c echo hello"`)
	assert.Regexp(t, `(?m)^measurement\|sh -c echo hello\|\d+ms$`, out)
}

func TestExec_FailureStillDumps(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "exec", "-n", "5", "-l", "fails", "--", "false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 1")

	assert.Equal(t, 1, strings.Count(out, `"fails" took `))
	assert.Regexp(t, `(?m)^measurement\|fails\|\d+ms$`, out)
}

func TestExec_JSONReport(t *testing.T) {
	setupEnv(t)
	t.Setenv("MEASURE_REPORT_FORMAT", "json")

	out, err := run(t, "exec", "-l", "json-run", "--", "true")
	require.NoError(t, err)
	assert.Contains(t, out, `"label": "json-run"`)
	assert.Contains(t, out, `"category": "DEFAULT"`)
}

func TestExec_InvalidRepeat(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "exec", "-n", "0", "--", "true")
	assert.Error(t, err)
}

func TestHistory_Disabled(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "history", "list")
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}

func TestHistory_RoundTrip(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("MEASURE_HISTORY_DRIVER", "sqlite3")
	t.Setenv("MEASURE_HISTORY_DSN", filepath.Join(dir, "history.db"))

	_, err := run(t, "exec", "-n", "2", "-l", "stored", "--", "true")
	require.NoError(t, err)

	list, err := run(t, "history", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(list), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "DEFAULT")
	assert.Contains(t, lines[1], "true")

	runID := strings.Fields(lines[1])[0]
	show, err := run(t, "history", "show", runID)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^measurement\|stored\|\d+ms\n$`), show)

	_, err = run(t, "history", "show", "unknown-run")
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "Cores:")
	assert.Contains(t, out, "Counters:    no category selected")
}

func TestProbe_CountersDisabled(t *testing.T) {
	setupEnv(t)
	t.Setenv("MEASURE_FLAGS", "TOTAL")

	out, err := run(t, "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "Counters:    TOTAL disabled by configuration")
}
