package counters

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/measure/internal/measure"
)

func TestNew_Disabled(t *testing.T) {
	src := New(zaptest.NewLogger(t), Config{Enabled: false})
	assert.Nil(t, src)
}

func TestNew_Enabled(t *testing.T) {
	src := New(zaptest.NewLogger(t), Config{Enabled: true})
	require.NotNil(t, src)
	_, ok := src.(measure.Describer)
	assert.True(t, ok, "platform source should describe its errors")
}

func TestDescribe(t *testing.T) {
	assert.Empty(t, Describe(nil))
	assert.Equal(t, "hardware counters are not supported on this platform", Describe(ErrUnsupported.WithContext("os", "plan9")))
	assert.Equal(t, "plain failure", Describe(fmt.Errorf("plain failure")))
	assert.Contains(t, Describe(ErrRead.WithError(fmt.Errorf("short read"))), "short read")
}

func TestCheck_InactiveCategory(t *testing.T) {
	assert.NoError(t, Check(nil, measure.CategoryTotal))
	assert.NoError(t, Check(NewPerfSource(nil, Config{}), measure.CategoryDefault))
}
