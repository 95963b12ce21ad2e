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

func TestNewPrometheus_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg)
	require.NoError(t, err)

	_, err = NewPrometheus(reg)
	assert.Error(t, err, "second registration must collide")
}

func TestPrometheus_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	p.PosesScored(7)
	p.PosesScored(3)
	p.EvaluationFailed("panic")
	p.ClashPenalty("genetic")
	p.ClashPenalty("genetic")
	p.WorkerFallback()
	p.Repair("minimized")
	p.Generation("genetic", 4)
	p.BestScore("genetic", -12.5)
	p.RunFinished("genetic", 2*time.Second, 5, nil)
	p.RunFinished("genetic", time.Second, 0, errors.New("boom"))

	assert.Equal(t, 10.0, testutil.ToFloat64(p.posesScored))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.evalFailures.WithLabelValues("panic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.clashPenalties.WithLabelValues("genetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.workerFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.repairs.WithLabelValues("minimized")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.generation.WithLabelValues("genetic")))
	assert.Equal(t, -12.5, testutil.ToFloat64(p.bestScore.WithLabelValues("genetic")))
	assert.Equal(t, 5.0, testutil.ToFloat64(p.runResults.WithLabelValues("genetic")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.runDuration))
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, Noop{}, OrNoop(nil))

	p, err := NewPrometheus(prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Same(t, p, OrNoop(p))

	assert.NotPanics(t, func() {
		n := OrNoop(nil)
		n.PosesScored(1)
		n.RunFinished("x", time.Millisecond, 1, nil)
	})
}
