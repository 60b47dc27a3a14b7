package topk

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb/core"
)

func TestCollectorExact(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	distances := make([]float32, 100)
	c := New(10)
	for i := range distances {
		distances[i] = rng.Float32()
		c.Offer(core.VectorID(i+1), distances[i])
	}

	got := c.Sorted()
	require.Len(t, got, 10)

	sorted := append([]float32(nil), distances...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, item := range got {
		assert.InDelta(t, sorted[i], item.Distance, 1e-7)
	}
}

func TestCollectorUnderfilled(t *testing.T) {
	c := New(5)
	c.Offer(1, 3)
	c.Offer(2, 1)

	got := c.Sorted()
	require.Len(t, got, 2)
	assert.Equal(t, core.VectorID(2), got[0].ID)
	assert.Equal(t, core.VectorID(1), got[1].ID)
}

func TestCollectorZeroK(t *testing.T) {
	c := New(0)
	c.Offer(1, 1)
	assert.Empty(t, c.Sorted())
}

func TestCollectorWorst(t *testing.T) {
	c := New(2)
	_, ok := c.Worst()
	assert.False(t, ok)

	c.Offer(1, 5)
	c.Offer(2, 2)
	worst, ok := c.Worst()
	require.True(t, ok)
	assert.Equal(t, float32(5), worst)
	assert.True(t, c.Full())

	c.Offer(3, 1)
	worst, _ = c.Worst()
	assert.Equal(t, float32(2), worst)
}
