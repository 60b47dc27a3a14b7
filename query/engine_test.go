package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/lexical/bm25"
	"github.com/vexdb/vexdb/metadata"
	"github.com/vexdb/vexdb/vectorstore"
)

func newEngine(t *testing.T, opts ...Option) (*Engine, *vectorstore.Store, *metadata.Store) {
	t.Helper()
	cfg := core.DefaultConfig(4)
	cfg.Algorithm = "brute_force"
	vs, err := vectorstore.New(cfg)
	require.NoError(t, err)
	ms := metadata.NewStore()
	e, err := NewEngine(vs, ms, opts...)
	require.NoError(t, err)
	return e, vs, ms
}

func params(k int) core.SearchParams {
	p := core.DefaultSearchParams()
	p.K = k
	return p
}

func TestNewEngineRequiresStores(t *testing.T) {
	_, err := NewEngine(nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestSearchAttachesMetadata(t *testing.T) {
	e, vs, ms := newEngine(t)

	id, err := vs.Add([]float32{1, 0, 0, 0})
	require.NoError(t, err)
	ms.Set(id, core.Metadata{"label": "unit"})

	results, err := e.Search([]float32{1, 0, 0, 0}, params(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "unit", results[0].Metadata["label"])

	stats := e.LastSearchStats()
	assert.Equal(t, 1, stats.FinalResults)
	assert.GreaterOrEqual(t, stats.TotalTime, stats.SearchTime)
}

func TestSearchWithoutMetadata(t *testing.T) {
	e, vs, ms := newEngine(t)

	id, err := vs.Add([]float32{1, 0, 0, 0})
	require.NoError(t, err)
	ms.Set(id, core.Metadata{"label": "unit"})

	p := params(1)
	p.IncludeMetadata = false
	results, err := e.Search([]float32{1, 0, 0, 0}, p)
	require.NoError(t, err)
	assert.Nil(t, results[0].Metadata)
}

func seedClusters(t *testing.T, vs *vectorstore.Store, ms *metadata.Store) {
	t.Helper()
	// 100 vectors along the x axis; the 5 farthest from the origin are rare.
	for i := 0; i < 100; i++ {
		id, err := vs.Add([]float32{float32(i), 0, 0, 0})
		require.NoError(t, err)
		label := "common"
		if i >= 95 {
			label = "rare"
		}
		ms.Set(id, core.Metadata{"label": label, "pos": fmt.Sprintf("%03d", i)})
	}
}

func TestFilteredSearchOverfetch(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	results, err := e.FilteredSearch([]float32{0, 0, 0, 0}, params(5), func(md core.Metadata) bool {
		return md["label"] == "rare"
	})
	require.NoError(t, err)
	require.Len(t, results, 5)

	// The rare ids in order of distance from the origin: 95..99 → ids 96..100.
	for i, r := range results {
		assert.Equal(t, core.VectorID(96+i), r.ID)
		assert.Equal(t, "rare", r.Metadata["label"])
	}

	stats := e.LastSearchStats()
	assert.Equal(t, 5, stats.FinalResults)
	assert.GreaterOrEqual(t, stats.TotalCandidates, 5)
}

func TestFilteredSearchPassAllEqualsKNN(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	plain, err := e.Search([]float32{0, 0, 0, 0}, params(7))
	require.NoError(t, err)

	filtered, err := e.FilteredSearch([]float32{0, 0, 0, 0}, params(7), func(core.Metadata) bool {
		return true
	})
	require.NoError(t, err)

	require.Equal(t, len(plain), len(filtered))
	for i := range plain {
		assert.Equal(t, plain[i].ID, filtered[i].ID)
	}
}

func TestFilteredSearchRejectAll(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	results, err := e.FilteredSearch([]float32{0, 0, 0, 0}, params(5), func(core.Metadata) bool {
		return false
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFilteredSearchMissingMetadataSeesEmptyMap(t *testing.T) {
	e, vs, _ := newEngine(t)
	_, err := vs.Add([]float32{1, 0, 0, 0})
	require.NoError(t, err)

	results, err := e.FilteredSearch([]float32{1, 0, 0, 0}, params(1), func(md core.Metadata) bool {
		return len(md) == 0
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchByMetadata(t *testing.T) {
	// The first rare vector is the 96th nearest to the origin; with k=1 the
	// default ceiling stops at 64 candidates, so raise it to reach the tail.
	e, vs, ms := newEngine(t, WithOverfetch(DefaultOverfetchFactor, 128))
	seedClusters(t, vs, ms)

	results, err := e.SearchByMetadata([]float32{0, 0, 0, 0}, params(1), "label", "rare")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.VectorID(96), results[0].ID)
}

func TestBatchSearch(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	batches, err := e.BatchSearch([][]float32{
		{0, 0, 0, 0},
		{99, 0, 0, 0},
	}, params(1))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, core.VectorID(1), batches[0][0].ID)
	assert.Equal(t, core.VectorID(100), batches[1][0].ID)
	assert.Equal(t, "common", batches[0][0].Metadata["label"])
}

func TestBatchFilteredSearch(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	batches, err := e.BatchFilteredSearch([][]float32{
		{0, 0, 0, 0},
		{99, 0, 0, 0},
	}, params(2), func(md core.Metadata) bool {
		return md["label"] == "rare"
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, results := range batches {
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, "rare", r.Metadata["label"])
		}
	}
}

func TestRangeSearch(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	results, err := e.RangeSearch([]float32{0, 0, 0, 0}, 2.5, params(10))
	require.NoError(t, err)
	require.Len(t, results, 3) // distances 0, 1, 2
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestHybridSearchWeights(t *testing.T) {
	_, vs, ms := newEngine(t)

	scorer := bm25.New()
	e2, err := NewEngine(vs, ms, WithTextScorer(scorer))
	require.NoError(t, err)

	// Candidate 1 is the vector winner, candidate 2 the text winner.
	id1, err := vs.Add([]float32{1, 0, 0, 0})
	require.NoError(t, err)
	id2, err := vs.Add([]float32{0, 1, 0, 0})
	require.NoError(t, err)
	scorer.Add(id1, "unrelated words entirely")
	scorer.Add(id2, "golang vector database")

	results, err := e2.HybridSearch([]float32{1, 0, 0, 0}, params(2), "golang database", 0.7, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Normalized vector scores are [1,0], text scores [0,1]:
	// hybrid = [0.7, 0.3] and the vector winner leads.
	assert.Equal(t, id1, results[0].ID)
	assert.InDelta(t, 0.7, results[0].Score, 1e-3)
	assert.Equal(t, id2, results[1].ID)
	assert.InDelta(t, 0.3, results[1].Score, 1e-3)
}

func TestHybridSearchWithoutScorerFallsBack(t *testing.T) {
	e, vs, _ := newEngine(t)
	_, err := vs.Add([]float32{1, 0, 0, 0})
	require.NoError(t, err)

	results, err := e.HybridSearch([]float32{1, 0, 0, 0}, params(1), "anything", 0.7, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, results[0].Score, 1e-6)
}

func TestSearchWithRerank(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	// Rerank by preferring the lexically largest position tag.
	results, err := e.SearchWithRerank([]float32{0, 0, 0, 0}, params(3), func(_ []float32, md core.Metadata, _ core.Score) float32 {
		var v float32
		fmt.Sscanf(md["pos"], "%f", &v)
		return v
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// The 10 nearest to the origin are positions 0..9; the best new scores
	// are 9, 8, 7.
	assert.Equal(t, core.VectorID(10), results[0].ID)
	assert.Equal(t, core.VectorID(9), results[1].ID)
	assert.Equal(t, core.VectorID(8), results[2].ID)
}

func TestSearchWithRerankNilFunc(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.SearchWithRerank([]float32{0, 0, 0, 0}, params(1), nil, 0)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestStatsUpdatedPerSearch(t *testing.T) {
	e, vs, ms := newEngine(t)
	seedClusters(t, vs, ms)

	_, err := e.Search([]float32{0, 0, 0, 0}, params(3))
	require.NoError(t, err)
	assert.Equal(t, 3, e.LastSearchStats().FinalResults)

	_, err = e.Search([]float32{0, 0, 0, 0}, params(7))
	require.NoError(t, err)
	assert.Equal(t, 7, e.LastSearchStats().FinalResults)
}
