package bm25

import (
	"testing"

	"github.com/vexdb/vexdb/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreRanksRelevance(t *testing.T) {
	idx := New()
	idx.Add(1, "the quick brown fox jumps over the lazy dog")
	idx.Add(2, "a fast brown fox")
	idx.Add(3, "completely unrelated text about databases")

	scores, err := idx.Score("brown fox")
	require.NoError(t, err)

	assert.Contains(t, scores, core.VectorID(1))
	assert.Contains(t, scores, core.VectorID(2))
	assert.NotContains(t, scores, core.VectorID(3))
	// The shorter document with the same matches scores higher.
	assert.Greater(t, scores[core.VectorID(2)], scores[core.VectorID(1)])
}

func TestAddReplaces(t *testing.T) {
	idx := New()
	idx.Add(1, "cats")
	idx.Add(1, "dogs")

	scores, err := idx.Score("cats")
	require.NoError(t, err)
	assert.Empty(t, scores)

	scores, err = idx.Score("dogs")
	require.NoError(t, err)
	assert.Contains(t, scores, core.VectorID(1))
	assert.Equal(t, 1, idx.Len())
}

func TestDelete(t *testing.T) {
	idx := New()
	idx.Add(1, "hello world")
	idx.Delete(1)
	idx.Delete(2) // unknown id is a no-op

	scores, err := idx.Score("hello")
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Equal(t, 0, idx.Len())
}

func TestEmptyIndex(t *testing.T) {
	scores, err := New().Score("anything")
	require.NoError(t, err)
	assert.Empty(t, scores)
}
