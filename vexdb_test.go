package vexdb_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb"
	"github.com/vexdb/vexdb/blobstore"
	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/lexical/bm25"
	"github.com/vexdb/vexdb/resource"
	"github.com/vexdb/vexdb/testutil"
)

func newDB(t *testing.T, optFns ...vexdb.Option) *vexdb.DB {
	t.Helper()
	cfg := core.DefaultConfig(4)
	cfg.Algorithm = "brute_force"
	db, err := vexdb.New(cfg, optFns...)
	require.NoError(t, err)
	return db
}

func addAxisVectors(t *testing.T, db *vexdb.DB) []core.VectorID {
	t.Helper()
	ids, err := db.AddBatch([][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}, nil)
	require.NoError(t, err)
	return ids
}

func TestAddAndRetrieve(t *testing.T) {
	db := newDB(t)

	ids := addAxisVectors(t, db)
	assert.Equal(t, []core.VectorID{1, 2, 3}, ids)

	results, err := db.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids[0], results[0].ID)
	assert.InDelta(t, 0.0, results[0].Score, 1e-6)
	assert.Contains(t, []core.VectorID{ids[1], ids[2]}, results[1].ID)
	assert.InDelta(t, 1.4142135, results[1].Score, 1e-5)
}

func TestInvalidConfig(t *testing.T) {
	_, err := vexdb.New(core.Config{})
	assert.ErrorIs(t, err, vexdb.ErrInvalidConfig)
}

func TestDimensionValidationAtBoundary(t *testing.T) {
	db := newDB(t)

	_, err := db.Add([]float32{1, 2}, nil)
	var dm *vexdb.ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)

	_, err = db.Search([]float32{1, 2}, 1)
	assert.ErrorAs(t, err, &dm)
}

func TestMetadataLifecycle(t *testing.T) {
	db := newDB(t)

	id, err := db.Add([]float32{1, 0, 0, 0}, core.Metadata{"label": "cat"})
	require.NoError(t, err)

	md, ok := db.GetMetadata(id)
	require.True(t, ok)
	assert.Equal(t, "cat", md["label"])

	require.NoError(t, db.SetMetadata(id, core.Metadata{"label": "dog"}))
	assert.Equal(t, []core.VectorID{id}, db.FindByMetadata("label", "dog"))
	assert.Empty(t, db.FindByMetadata("label", "cat"))

	assert.ErrorIs(t, db.SetMetadata(999, core.Metadata{"x": "y"}), vexdb.ErrNotFound)
}

func TestFindByMetadataPrefix(t *testing.T) {
	db := newDB(t)

	id1, err := db.Add([]float32{1, 0, 0, 0}, core.Metadata{"path": "img/cats"})
	require.NoError(t, err)
	_, err = db.Add([]float32{0, 1, 0, 0}, core.Metadata{"path": "txt/notes"})
	require.NoError(t, err)

	assert.Equal(t, []core.VectorID{id1}, db.FindByMetadataPrefix("path", "img/"))
}

func TestRemove(t *testing.T) {
	db := newDB(t)
	ids := addAxisVectors(t, db)
	db.SetMetadata(ids[0], core.Metadata{"k": "v"})

	require.NoError(t, db.Remove(ids[0]))
	assert.Equal(t, 2, db.Size())
	_, ok := db.GetMetadata(ids[0])
	assert.False(t, ok)

	assert.ErrorIs(t, db.Remove(ids[0]), vexdb.ErrNotFound)
}

func TestUpdateSemantics(t *testing.T) {
	db := newDB(t)
	ids := addAxisVectors(t, db)

	// Vector payloads are immutable in place.
	err := db.Update(ids[0], []float32{9, 9, 9, 9}, nil)
	assert.ErrorIs(t, err, vexdb.ErrUnsupported)

	// Metadata-only update is explicit.
	require.NoError(t, db.Update(ids[0], nil, core.Metadata{"touched": "yes"}))
	md, _ := db.GetMetadata(ids[0])
	assert.Equal(t, "yes", md["touched"])

	assert.ErrorIs(t, db.Update(999, nil, core.Metadata{"x": "y"}), vexdb.ErrNotFound)
}

func TestKBoundaries(t *testing.T) {
	db := newDB(t)
	addAxisVectors(t, db)

	results, err := db.Search([]float32{1, 0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = db.Search([]float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSelfMatchInvariant(t *testing.T) {
	rng := testutil.NewRNG(11)

	for _, metric := range []core.Metric{core.MetricL2, core.MetricCosine, core.MetricInnerProduct} {
		cfg := core.DefaultConfig(8)
		cfg.Metric = metric
		db, err := vexdb.New(cfg)
		require.NoError(t, err)

		_, err = db.AddBatch(rng.Vectors(20, 8), nil)
		require.NoError(t, err)

		probe := rng.UnitVector(8)
		id, err := db.Add(probe, nil)
		require.NoError(t, err)

		results, err := db.Search(probe, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)

		// No other vector scores strictly better than the probe itself.
		if metric == core.MetricInnerProduct {
			selfScore := float32(0)
			for _, v := range probe {
				selfScore += v * v
			}
			assert.GreaterOrEqual(t, results[0].Score+1e-4, selfScore)
		} else {
			assert.Equal(t, id, results[0].ID)
			assert.InDelta(t, 0.0, results[0].Score, 1e-4)
		}
	}
}

func TestPersistenceAcrossMissingIndexBlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	db := newDB(t)
	ids := addAxisVectors(t, db)
	require.NoError(t, db.SetMetadata(ids[0], core.Metadata{"label": "a"}))
	require.NoError(t, db.Save(path))

	require.NoError(t, os.Remove(path+".vectors.anns"))

	restored, err := vexdb.Open(path)
	require.NoError(t, err)

	assert.Equal(t, 3, restored.Size())
	md, ok := restored.GetMetadata(ids[0])
	require.True(t, ok)
	assert.Equal(t, "a", md["label"])

	results, err := restored.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids[0], results[0].ID)
	assert.InDelta(t, 0.0, results[0].Score, 1e-6)
	assert.Equal(t, float64(1), restored.Stats()["rebuilt_on_load"])
}

func TestSaveLoadPreservesSearchResults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	rng := testutil.NewRNG(23)

	cfg := core.DefaultConfig(16)
	db, err := vexdb.New(cfg)
	require.NoError(t, err)

	_, err = db.AddBatch(rng.Vectors(50, 16), nil)
	require.NoError(t, err)
	require.NoError(t, db.Save(path))

	restored, err := vexdb.Open(path)
	require.NoError(t, err)
	require.Equal(t, db.Size(), restored.Size())

	query := rng.Vector(16)
	want, err := db.Search(query, 10)
	require.NoError(t, err)
	got, err := restored.Search(query, 10)
	require.NoError(t, err)

	wantIDs := make(map[core.VectorID]bool)
	for _, r := range want {
		wantIDs[r.ID] = true
	}
	require.Equal(t, len(want), len(got))
	for _, r := range got {
		assert.True(t, wantIDs[r.ID])
	}
}

func TestTrainingGateScenario(t *testing.T) {
	cfg := core.DefaultConfig(2)
	cfg.Algorithm = "ivf_flat"
	cfg.NList = 16

	db, err := vexdb.New(cfg)
	require.NoError(t, err)

	rng := testutil.NewRNG(5)
	_, err = db.AddBatch(rng.Vectors(15, 2), nil)
	require.NoError(t, err)

	_, err = db.Search([]float32{0.5, 0.5}, 3)
	assert.ErrorIs(t, err, vexdb.ErrNotTrained)
	assert.False(t, db.IsTrained())

	_, err = db.Add(rng.Vector(2), nil)
	require.NoError(t, err)
	require.NoError(t, db.BuildIndex())
	assert.True(t, db.IsTrained())

	params := core.DefaultSearchParams()
	params.K = 3
	params.NProbe = 16
	results, err := db.SearchWithParams([]float32{0.5, 0.5}, params)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestBackendFallbackScenario(t *testing.T) {
	cfg := core.DefaultConfig(4)
	cfg.Algorithm = "nonexistent"

	db, err := vexdb.New(cfg)
	require.NoError(t, err)

	addAxisVectors(t, db)
	results, err := db.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, float64(1), db.Stats()["fallback_used"])
}

func TestHybridSearchScenario(t *testing.T) {
	scorer := bm25.New()
	db := newDB(t, vexdb.WithTextScorer(scorer))

	id1, err := db.Add([]float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	id2, err := db.Add([]float32{0, 1, 0, 0}, nil)
	require.NoError(t, err)
	scorer.Add(id1, "nothing relevant here")
	scorer.Add(id2, "vector database engine")

	params := core.DefaultSearchParams()
	params.K = 2
	results, err := db.HybridSearch([]float32{1, 0, 0, 0}, params, "database engine", 0.7, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, id1, results[0].ID)
	assert.InDelta(t, 0.7, results[0].Score, 1e-3)
	assert.InDelta(t, 0.3, results[1].Score, 1e-3)
}

func TestBatchSearchFacade(t *testing.T) {
	db := newDB(t)
	ids := addAxisVectors(t, db)

	params := core.DefaultSearchParams()
	params.K = 1
	batches, err := db.BatchSearch([][]float32{
		{1, 0, 0, 0},
		{0, 0, 1, 0},
	}, params)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, ids[0], batches[0][0].ID)
	assert.Equal(t, ids[2], batches[1][0].ID)
}

func TestRangeSearchFacade(t *testing.T) {
	db := newDB(t)
	addAxisVectors(t, db)

	params := core.DefaultSearchParams()
	results, err := db.RangeSearch([]float32{1, 0, 0, 0}, 1.0, params)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, results[0].Score, 1e-6)
}

func TestStatsAndSearchStats(t *testing.T) {
	metrics := &vexdb.BasicMetricsCollector{}
	db := newDB(t, vexdb.WithMetricsCollector(metrics))
	addAxisVectors(t, db)

	_, err := db.Search([]float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	stats := db.Stats()
	assert.Equal(t, float64(3), stats["size"])
	assert.Equal(t, float64(1), stats["trained"])

	searchStats := db.LastSearchStats()
	assert.Equal(t, 2, searchStats.FinalResults)
	assert.Equal(t, int64(1), metrics.SearchCount.Load())
	assert.Equal(t, int64(3), metrics.BatchAddItems.Load())
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	db := newDB(t, vexdb.WithResourceConfig(resource.Config{
		MaxBackgroundWorkers: 2,
		IOLimitBytesPerSec:   1 << 30,
	}))
	ids := addAxisVectors(t, db)
	require.NoError(t, db.SetMetadata(ids[1], core.Metadata{"label": "axis-y"}))

	require.NoError(t, db.SaveSnapshot(ctx, store, "snapshots/v1"))

	names, err := store.List(ctx, "snapshots/v1")
	require.NoError(t, err)
	assert.Contains(t, names, "snapshots/v1.config")
	assert.Contains(t, names, "snapshots/v1.vectors")
	assert.Contains(t, names, "snapshots/v1.metadata")

	restored := newDB(t)
	require.NoError(t, restored.LoadSnapshot(ctx, store, "snapshots/v1"))
	assert.Equal(t, 3, restored.Size())

	md, ok := restored.GetMetadata(ids[1])
	require.True(t, ok)
	assert.Equal(t, "axis-y", md["label"])

	results, err := restored.Search([]float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, ids[1], results[0].ID)
}

func TestLoadMissingMetadataIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	db := newDB(t)
	ids := addAxisVectors(t, db)
	require.NoError(t, db.SetMetadata(ids[0], core.Metadata{"k": "v"}))
	require.NoError(t, db.Save(path))
	require.NoError(t, os.Remove(path+".metadata"))

	restored, err := vexdb.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Size())
	_, ok := restored.GetMetadata(ids[0])
	assert.False(t, ok)
}

func TestOpenMissingConfigFails(t *testing.T) {
	_, err := vexdb.Open(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, vexdb.ErrIO)
}
