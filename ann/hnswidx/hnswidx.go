// Package hnswidx implements a hierarchical navigable small world backend
// registered as "hnsw", built on the coder/hnsw graph. The graph supports
// true incremental insert and delete and needs no training step.
package hnswidx

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/klauspost/compress/zstd"

	"github.com/vexdb/vexdb/ann"
	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/distance"
	"github.com/vexdb/vexdb/internal/topk"
)

// BackendName is the registry name of this backend.
const BackendName = "hnsw"

func init() {
	// Export/Import resolve distance functions by registered name; the
	// built-in euclidean and cosine functions are pre-registered.
	hnsw.RegisterDistanceFunc("vexdb_neg_dot", negDotDistance)

	ann.MustRegister(BackendName, factory{})
}

func negDotDistance(a, b hnsw.Vector) float32 {
	return distance.NegDot(a, b)
}

type factory struct{}

func (factory) New() ann.Backend { return New() }

func (factory) DefaultBuildParams() ann.Params { return ann.Params{} }

func (factory) DefaultQueryParams() ann.Params {
	p := ann.Params{}
	p.SetInt("efSearch", 0) // 0 keeps the graph default
	return p
}

// Compile-time check.
var _ ann.Backend = (*Backend)(nil)

// Backend wraps an hnsw.Graph keyed by vector id.
type Backend struct {
	mu      sync.Mutex
	dim     uint32
	metric  core.Metric
	dist    distance.Func
	m       int
	ef      int
	graph   *hnsw.Graph[core.VectorID]
	trained bool

	searches uint64
}

// New creates an uninitialized HNSW backend.
func New() *Backend {
	return &Backend{}
}

// Name implements ann.Backend.
func (b *Backend) Name() string { return BackendName }

// Version implements ann.Backend.
func (b *Backend) Version() string { return "1.0.0" }

// Description implements ann.Backend.
func (b *Backend) Description() string {
	return "hierarchical navigable small world graph with incremental updates"
}

// SupportedMetrics implements ann.Backend.
func (b *Backend) SupportedMetrics() []core.Metric {
	return []core.Metric{core.MetricL2, core.MetricInnerProduct, core.MetricCosine}
}

// SupportsIncrementalAdd implements ann.Backend.
func (b *Backend) SupportsIncrementalAdd() bool { return true }

// SupportsDelete implements ann.Backend.
func (b *Backend) SupportsDelete() bool { return true }

// SupportsRangeQuery implements ann.Backend.
func (b *Backend) SupportsRangeQuery() bool { return true }

func (b *Backend) graphDistance() hnsw.DistanceFunc {
	switch b.metric {
	case core.MetricInnerProduct:
		return negDotDistance
	case core.MetricCosine:
		return hnsw.CosineDistance
	default:
		return hnsw.EuclideanDistance
	}
}

func (b *Backend) newGraphLocked() *hnsw.Graph[core.VectorID] {
	g := hnsw.NewGraph[core.VectorID]()
	g.Distance = b.graphDistance()
	if b.m > 0 {
		g.M = b.m
	}
	if b.ef > 0 {
		g.EfSearch = b.ef
	}
	return g
}

// Initialize implements ann.Backend.
func (b *Backend) Initialize(cfg core.Config) error {
	dist, err := distance.Provider(cfg.Metric)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dim = cfg.Dimension
	b.metric = cfg.Metric
	b.dist = dist
	b.m = int(cfg.HnswM)
	b.ef = int(cfg.EfConstruction)
	b.graph = b.newGraphLocked()
	b.trained = true
	return nil
}

// Fit discards the graph. HNSW has no training step.
func (b *Backend) Fit(entries []core.VectorEntry, _ ann.Params) (*ann.BuildMetrics, error) {
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.graph = b.newGraphLocked()
	b.trained = true

	return &ann.BuildMetrics{
		BuildTime:        time.Since(start),
		TrainedOnVectors: len(entries),
	}, nil
}

// Add inserts entries into the graph.
func (b *Backend) Add(entries []core.VectorEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		if err := core.ValidateDimension(e.Vector, b.dim); err != nil {
			return err
		}
		vec := append([]float32(nil), e.Vector...)
		b.graph.Add(hnsw.MakeNode(e.ID, vec))
	}
	return nil
}

// Remove deletes the listed ids from the graph. Unknown ids are ignored.
func (b *Backend) Remove(ids []core.VectorID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.graph.Delete(id)
	}
	return nil
}

// Search implements ann.Backend.
func (b *Backend) Search(query []float32, k int, queryParams ann.Params) ([]ann.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.searchLocked(query, k, queryParams)
}

func (b *Backend) searchLocked(query []float32, k int, queryParams ann.Params) ([]ann.Result, error) {
	if err := core.ValidateDimension(query, b.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	b.searches++

	if ef := queryParams.GetInt("efSearch", 0); ef > 0 {
		b.graph.EfSearch = ef
	}
	if b.graph.EfSearch < k {
		b.graph.EfSearch = k
	}

	nodes := b.graph.Search(query, k)
	results := make([]ann.Result, len(nodes))
	for i, n := range nodes {
		results[i] = ann.Result{ID: n.Key, Distance: b.dist(query, n.Value)}
	}
	return results, nil
}

// BatchSearch implements ann.Backend.
func (b *Backend) BatchSearch(queries [][]float32, k int, queryParams ann.Params) ([][]ann.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]ann.Result, len(queries))
	for i, q := range queries {
		res, err := b.searchLocked(q, k, queryParams)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// RangeSearch walks an expanding k-NN frontier until every hit within radius
// is found. The graph has no native range query.
func (b *Backend) RangeSearch(query []float32, radius float32, queryParams ann.Params) ([]ann.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := core.ValidateDimension(query, b.dim); err != nil {
		return nil, err
	}

	total := b.graph.Len()
	if total == 0 {
		return nil, nil
	}

	k := 16
	for {
		if k > total {
			k = total
		}
		results, err := b.searchLocked(query, k, queryParams)
		if err != nil {
			return nil, err
		}
		// Done once the candidate tail crossed the radius, or once the
		// whole graph has been examined.
		if withinCount(results, radius) < len(results) || k >= total {
			return clip(results, radius), nil
		}
		k *= 2
	}
}

func withinCount(results []ann.Result, radius float32) int {
	n := 0
	for _, r := range results {
		if r.Distance <= radius {
			n++
		}
	}
	return n
}

func clip(results []ann.Result, radius float32) []ann.Result {
	collector := topk.New(len(results))
	for _, r := range results {
		if r.Distance <= radius {
			collector.Offer(r.ID, r.Distance)
		}
	}
	items := collector.Sorted()
	out := make([]ann.Result, len(items))
	for i, it := range items {
		out[i] = ann.Result{ID: it.ID, Distance: it.Distance}
	}
	return out
}

// Save writes the zstd-compressed graph export.
func (b *Backend) Save(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := b.graph.Export(zw); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores a graph written by Save.
func (b *Backend) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.newGraphLocked()
	if err := g.Import(bufio.NewReader(zr)); err != nil {
		return fmt.Errorf("hnsw import: %w", err)
	}
	b.graph = g
	b.trained = true
	return nil
}

// IsTrained implements ann.Backend. The graph is always searchable.
func (b *Backend) IsTrained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trained
}

// Count implements ann.Backend.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph == nil {
		return 0
	}
	return b.graph.Len()
}

// Stats implements ann.Backend.
func (b *Backend) Stats() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := map[string]float64{
		"searches": float64(b.searches),
	}
	if b.graph != nil {
		stats["entries"] = float64(b.graph.Len())
		stats["m"] = float64(b.graph.M)
		stats["ef_search"] = float64(b.graph.EfSearch)
	}
	return stats
}
