// Package ivf implements an inverted-file flat backend registered as
// "ivf_flat". A k-means coarse quantizer partitions the space into nlist
// cells; searches probe the nprobe closest cells.
package ivf

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/vexdb/vexdb/ann"
	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/distance"
	"github.com/vexdb/vexdb/internal/kmeans"
	"github.com/vexdb/vexdb/internal/topk"
	"github.com/vexdb/vexdb/persistence"
)

// BackendName is the registry name of this backend.
const BackendName = "ivf_flat"

const (
	formatVersion  = 1
	defaultMaxIter = 25
	defaultSeed    = 42
)

func init() {
	ann.MustRegister(BackendName, factory{})
}

type factory struct{}

func (factory) New() ann.Backend { return New() }

func (factory) DefaultBuildParams() ann.Params {
	p := ann.Params{}
	p.SetInt("max_iter", defaultMaxIter)
	p.SetInt("seed", defaultSeed)
	return p
}

func (factory) DefaultQueryParams() ann.Params {
	p := ann.Params{}
	p.SetInt("nprobe", 1)
	return p
}

// Compile-time check.
var _ ann.Backend = (*Backend)(nil)

// Backend is the IVF-Flat index. It requires training: Fit learns the coarse
// quantizer before any content can be added or searched.
type Backend struct {
	mu        sync.RWMutex
	dim       uint32
	metric    core.Metric
	dist      distance.Func
	nlist     int
	centroids [][]float32
	entries   []core.VectorEntry
	cells     []uint32 // centroid assignment per entry position
	lists     [][]uint32
	byID      map[core.VectorID]uint32
	deleted   *roaring.Bitmap
	trained   bool

	probes atomic.Uint64
}

// New creates an untrained IVF-Flat backend.
func New() *Backend {
	return &Backend{
		byID:    make(map[core.VectorID]uint32),
		deleted: roaring.New(),
	}
}

// Name implements ann.Backend.
func (b *Backend) Name() string { return BackendName }

// Version implements ann.Backend.
func (b *Backend) Version() string { return "1.0.0" }

// Description implements ann.Backend.
func (b *Backend) Description() string {
	return "inverted file index with k-means coarse quantizer and flat storage"
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

// Initialize implements ann.Backend.
func (b *Backend) Initialize(cfg core.Config) error {
	dist, err := distance.Provider(cfg.Metric)
	if err != nil {
		return err
	}
	if cfg.NList == 0 {
		return fmt.Errorf("%w: ivf_flat requires nlist > 0", core.ErrInvalidConfig)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dim = cfg.Dimension
	b.metric = cfg.Metric
	b.dist = dist
	b.nlist = int(cfg.NList)
	return nil
}

// Fit learns the coarse quantizer from the entry vectors and resets content.
func (b *Backend) Fit(entries []core.VectorEntry, buildParams ann.Params) (*ann.BuildMetrics, error) {
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	nlist := buildParams.GetInt("nlist", b.nlist)
	if len(entries) < nlist {
		return nil, fmt.Errorf("%w: ivf_flat training requires at least %d vectors, have %d",
			core.ErrInvalidConfig, nlist, len(entries))
	}

	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		if err := core.ValidateDimension(e.Vector, b.dim); err != nil {
			return nil, err
		}
		vectors[i] = e.Vector
	}

	maxIter := buildParams.GetInt("max_iter", defaultMaxIter)
	rng := rand.New(rand.NewSource(int64(buildParams.GetInt("seed", defaultSeed))))

	centroids, err := kmeans.Train(vectors, nlist, maxIter, b.dist, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
	}

	b.nlist = nlist
	b.centroids = centroids
	b.entries = nil
	b.cells = nil
	b.lists = make([][]uint32, nlist)
	b.byID = make(map[core.VectorID]uint32)
	b.deleted.Clear()
	b.trained = true

	return &ann.BuildMetrics{
		BuildTime:        time.Since(start),
		TrainedOnVectors: len(entries),
		Extra:            map[string]float64{"nlist": float64(nlist)},
	}, nil
}

// Add implements ann.Backend.
func (b *Backend) Add(entries []core.VectorEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.trained {
		return core.ErrNotTrained
	}
	for _, e := range entries {
		if err := core.ValidateDimension(e.Vector, b.dim); err != nil {
			return err
		}
		cell := uint32(kmeans.Assign(e.Vector, b.centroids, b.dist))
		pos := uint32(len(b.entries))
		b.entries = append(b.entries, core.VectorEntry{
			ID:     e.ID,
			Vector: append([]float32(nil), e.Vector...),
		})
		b.cells = append(b.cells, cell)
		b.lists[cell] = append(b.lists[cell], pos)
		b.byID[e.ID] = pos
	}
	return nil
}

// Remove tombstones the listed ids. Unknown ids are ignored.
func (b *Backend) Remove(ids []core.VectorID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if pos, ok := b.byID[id]; ok {
			b.deleted.Add(pos)
			delete(b.byID, id)
		}
	}
	return nil
}

func (b *Backend) probeOrder(query []float32) []int {
	type cellDist struct {
		cell int
		dist float32
	}
	order := make([]cellDist, len(b.centroids))
	for i, c := range b.centroids {
		order[i] = cellDist{cell: i, dist: b.dist(query, c)}
	}
	// Selection by full sort; nlist is small.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j].dist < order[j-1].dist; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	cells := make([]int, len(order))
	for i, cd := range order {
		cells[i] = cd.cell
	}
	return cells
}

// Search implements ann.Backend.
func (b *Backend) Search(query []float32, k int, queryParams ann.Params) ([]ann.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.searchLocked(query, k, queryParams)
}

func (b *Backend) searchLocked(query []float32, k int, queryParams ann.Params) ([]ann.Result, error) {
	if !b.trained {
		return nil, core.ErrNotTrained
	}
	if err := core.ValidateDimension(query, b.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	nprobe := queryParams.GetInt("nprobe", 1)
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > len(b.centroids) {
		nprobe = len(b.centroids)
	}

	collector := topk.New(k)
	for _, cell := range b.probeOrder(query)[:nprobe] {
		b.probes.Add(1)
		for _, pos := range b.lists[cell] {
			if b.deleted.Contains(pos) {
				continue
			}
			e := b.entries[pos]
			collector.Offer(e.ID, b.dist(query, e.Vector))
		}
	}

	items := collector.Sorted()
	results := make([]ann.Result, len(items))
	for i, it := range items {
		results[i] = ann.Result{ID: it.ID, Distance: it.Distance}
	}
	return results, nil
}

// BatchSearch implements ann.Backend.
func (b *Backend) BatchSearch(queries [][]float32, k int, queryParams ann.Params) ([][]ann.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

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

// RangeSearch implements ann.Backend.
func (b *Backend) RangeSearch(query []float32, radius float32, queryParams ann.Params) ([]ann.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.trained {
		return nil, core.ErrNotTrained
	}
	if err := core.ValidateDimension(query, b.dim); err != nil {
		return nil, err
	}

	nprobe := queryParams.GetInt("nprobe", len(b.centroids))
	if nprobe < 1 || nprobe > len(b.centroids) {
		nprobe = len(b.centroids)
	}

	collector := topk.New(len(b.entries))
	for _, cell := range b.probeOrder(query)[:nprobe] {
		b.probes.Add(1)
		for _, pos := range b.lists[cell] {
			if b.deleted.Contains(pos) {
				continue
			}
			e := b.entries[pos]
			if d := b.dist(query, e.Vector); d <= radius {
				collector.Offer(e.ID, d)
			}
		}
	}

	items := collector.Sorted()
	results := make([]ann.Result, len(items))
	for i, it := range items {
		results[i] = ann.Result{ID: it.ID, Distance: it.Distance}
	}
	return results, nil
}

// Save serializes centroids, entries, cell assignments and tombstones inside
// an lz4 frame.
func (b *Backend) Save(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.trained {
		return core.ErrNotTrained
	}

	tombstones, err := b.deleted.ToBytes()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	w := persistence.NewWriter(zw)

	write := func() error {
		if err := w.WriteUint32(formatVersion); err != nil {
			return err
		}
		if err := w.WriteUint32(b.dim); err != nil {
			return err
		}
		if err := w.WriteUint32(uint32(b.nlist)); err != nil {
			return err
		}
		for _, c := range b.centroids {
			if err := w.WriteFloat32Slice(c); err != nil {
				return err
			}
		}
		if err := w.WriteUint64(uint64(len(b.entries))); err != nil {
			return err
		}
		for i, e := range b.entries {
			if err := w.WriteUint64(uint64(e.ID)); err != nil {
				return err
			}
			if err := w.WriteUint32(b.cells[i]); err != nil {
				return err
			}
			if err := w.WriteFloat32Slice(e.Vector); err != nil {
				return err
			}
		}
		if err := w.WriteUint64(uint64(len(tombstones))); err != nil {
			return err
		}
		_, err := w.Write(tombstones)
		return err
	}

	if err := write(); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
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

// Load restores the state written by Save.
func (b *Backend) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := persistence.NewReader(lz4.NewReader(f))

	version, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("unsupported ivf_flat blob version %d", version)
	}

	dim, err := r.ReadUint32()
	if err != nil {
		return err
	}
	nlist, err := r.ReadUint32()
	if err != nil {
		return err
	}

	centroids := make([][]float32, nlist)
	for i := range centroids {
		if centroids[i], err = r.ReadFloat32Slice(int(dim)); err != nil {
			return err
		}
	}

	count, err := r.ReadUint64()
	if err != nil {
		return err
	}
	entries := make([]core.VectorEntry, 0, count)
	cells := make([]uint32, 0, count)
	lists := make([][]uint32, nlist)
	byID := make(map[core.VectorID]uint32, count)
	for i := uint64(0); i < count; i++ {
		rawID, err := r.ReadUint64()
		if err != nil {
			return err
		}
		cell, err := r.ReadUint32()
		if err != nil {
			return err
		}
		vec, err := r.ReadFloat32Slice(int(dim))
		if err != nil {
			return err
		}
		pos := uint32(i)
		entries = append(entries, core.VectorEntry{ID: core.VectorID(rawID), Vector: vec})
		cells = append(cells, cell)
		lists[cell] = append(lists[cell], pos)
		byID[core.VectorID(rawID)] = pos
	}

	tombLen, err := r.ReadUint64()
	if err != nil {
		return err
	}
	tombBytes := make([]byte, tombLen)
	if err := r.ReadFull(tombBytes); err != nil {
		return err
	}
	deleted := roaring.New()
	if tombLen > 0 {
		if _, err := deleted.ReadFrom(bytes.NewReader(tombBytes)); err != nil {
			return err
		}
	}
	for id, pos := range byID {
		if deleted.Contains(pos) {
			delete(byID, id)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dim = dim
	b.nlist = int(nlist)
	b.centroids = centroids
	b.entries = entries
	b.cells = cells
	b.lists = lists
	b.byID = byID
	b.deleted = deleted
	b.trained = true
	return nil
}

// IsTrained implements ann.Backend.
func (b *Backend) IsTrained() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trained
}

// Count implements ann.Backend.
func (b *Backend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries) - int(b.deleted.GetCardinality())
}

// Stats implements ann.Backend.
func (b *Backend) Stats() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]float64{
		"entries":      float64(len(b.entries)),
		"deleted":      float64(b.deleted.GetCardinality()),
		"nlist":        float64(b.nlist),
		"cells_probed": float64(b.probes.Load()),
		"trained":      boolToFloat(b.trained),
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
