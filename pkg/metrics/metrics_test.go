package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TemplatesAdded(1)
		m.VariantsAdded(1)
		m.CompileStarted()
		m.CompileFinished(time.Millisecond, nil)
		m.SetLiveModels(2)
	})
}

func TestRecording(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := New(reg)

	m.TemplatesAdded(3)
	m.VariantsAdded(5)
	m.CompileStarted()
	m.CompileStarted()
	m.CompileFinished(2*time.Millisecond, nil)
	m.CompileFinished(time.Millisecond, errors.New("bad wgsl"))
	m.SetLiveModels(4)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TemplatesCreated))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.VariantsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CompilesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompilesFinished.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompilesFinished.WithLabelValues(ResultFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LiveModels))

	n, err := testutil.GatherAndCount(reg, "tangerine_compile_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
