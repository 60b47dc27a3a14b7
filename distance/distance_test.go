package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb/core"
)

func TestKernels(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}

	assert.InDelta(t, 0.0, Dot(a, b), 1e-6)
	assert.InDelta(t, 2.0, SquaredL2(a, b), 1e-6)
	assert.InDelta(t, 1.4142135, L2(a, b), 1e-5)
	assert.InDelta(t, 1.0, CosineDistance(a, b), 1e-6)
	assert.InDelta(t, 0.0, CosineDistance(a, a), 1e-6)
}

func TestCosineZeroVector(t *testing.T) {
	zero := []float32{0, 0}
	assert.InDelta(t, 0.0, CosineSimilarity(zero, []float32{1, 2}), 1e-6)
	assert.InDelta(t, 1.0, CosineDistance(zero, []float32{1, 2}), 1e-6)
}

func TestNormalize(t *testing.T) {
	v, ok := NormalizeL2Copy([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	_, ok = NormalizeL2Copy([]float32{0, 0})
	assert.False(t, ok)
}

func TestProvider(t *testing.T) {
	for _, m := range []core.Metric{core.MetricL2, core.MetricInnerProduct, core.MetricCosine} {
		fn, err := Provider(m)
		require.NoError(t, err)
		require.NotNil(t, fn)
	}

	_, err := Provider(core.Metric(42))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestScorePolarity(t *testing.T) {
	// Inner product flips sign both ways; distance metrics pass through.
	assert.Equal(t, float32(3), ToScore(core.MetricInnerProduct, -3))
	assert.Equal(t, float32(-3), ToDistance(core.MetricInnerProduct, 3))
	assert.Equal(t, float32(2), ToScore(core.MetricL2, 2))
	assert.Equal(t, float32(2), ToDistance(core.MetricCosine, 2))
}

func TestNegDotSelfScore(t *testing.T) {
	v := []float32{1, 2, 3}
	// Self inner product equals squared magnitude.
	assert.InDelta(t, 14.0, ToScore(core.MetricInnerProduct, NegDot(v, v)), 1e-5)
}
