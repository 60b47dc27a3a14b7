// Package brute implements the exact-search reference backend. It is always
// registered under "brute_force" and serves as the fallback when a requested
// backend is unavailable.
package brute

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/vexdb/vexdb/ann"
	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/distance"
	"github.com/vexdb/vexdb/internal/topk"
	"github.com/vexdb/vexdb/persistence"
)

// BackendName is the registry name of this backend.
const BackendName = "brute_force"

const formatVersion = 1

func init() {
	ann.MustRegister(BackendName, ann.FactoryFunc(func() ann.Backend { return New() }))
}

// Compile-time check.
var _ ann.Backend = (*Backend)(nil)

// Backend is an exact-search index over (id, vector) pairs kept in insertion
// order. Deletes tombstone positions in a roaring bitmap; tombstoned vectors
// stay resident until the next Fit.
type Backend struct {
	mu      sync.RWMutex
	dim     uint32
	metric  core.Metric
	dist    distance.Func
	entries []core.VectorEntry
	byID    map[core.VectorID]uint32
	deleted *roaring.Bitmap
	trained bool

	searches atomic.Int64
	scanned  atomic.Int64
}

// New creates an uninitialized brute-force backend.
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
	return "exact linear-scan search with bounded best-k heap"
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

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dim = cfg.Dimension
	b.metric = cfg.Metric
	b.dist = dist
	b.trained = true
	return nil
}

// Fit discards all content. Brute force has no training step.
func (b *Backend) Fit(entries []core.VectorEntry, _ ann.Params) (*ann.BuildMetrics, error) {
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
	b.byID = make(map[core.VectorID]uint32)
	b.deleted.Clear()
	b.trained = true

	return &ann.BuildMetrics{
		BuildTime:        time.Since(start),
		TrainedOnVectors: len(entries),
	}, nil
}

// Add appends entries in order.
func (b *Backend) Add(entries []core.VectorEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		if err := core.ValidateDimension(e.Vector, b.dim); err != nil {
			return err
		}
		pos := uint32(len(b.entries))
		b.entries = append(b.entries, core.VectorEntry{
			ID:     e.ID,
			Vector: append([]float32(nil), e.Vector...),
		})
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

// Search implements ann.Backend.
func (b *Backend) Search(query []float32, k int, _ ann.Params) ([]ann.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.searchLocked(query, k)
}

func (b *Backend) searchLocked(query []float32, k int) ([]ann.Result, error) {
	if err := core.ValidateDimension(query, b.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	b.searches.Add(1)

	collector := topk.New(k)
	for pos, e := range b.entries {
		if b.deleted.Contains(uint32(pos)) {
			continue
		}
		collector.Offer(e.ID, b.dist(query, e.Vector))
	}
	b.scanned.Add(int64(len(b.entries)))

	items := collector.Sorted()
	results := make([]ann.Result, len(items))
	for i, it := range items {
		results[i] = ann.Result{ID: it.ID, Distance: it.Distance}
	}
	return results, nil
}

// BatchSearch implements ann.Backend.
func (b *Backend) BatchSearch(queries [][]float32, k int, _ ann.Params) ([][]ann.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([][]ann.Result, len(queries))
	for i, q := range queries {
		res, err := b.searchLocked(q, k)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// RangeSearch implements ann.Backend.
func (b *Backend) RangeSearch(query []float32, radius float32, _ ann.Params) ([]ann.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := core.ValidateDimension(query, b.dim); err != nil {
		return nil, err
	}

	b.searches.Add(1)
	b.scanned.Add(int64(len(b.entries)))

	collector := topk.New(len(b.entries))
	for pos, e := range b.entries {
		if b.deleted.Contains(uint32(pos)) {
			continue
		}
		if d := b.dist(query, e.Vector); d <= radius {
			collector.Offer(e.ID, d)
		}
	}

	items := collector.Sorted()
	results := make([]ann.Result, len(items))
	for i, it := range items {
		results[i] = ann.Result{ID: it.ID, Distance: it.Distance}
	}
	return results, nil
}

// Save serializes the id list, vector array and tombstone bitmap.
func (b *Backend) Save(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tombstones, err := b.deleted.ToBytes()
	if err != nil {
		return err
	}

	return persistence.WriteFileAtomic(path, func(w *persistence.Writer) error {
		if err := w.WriteUint32(formatVersion); err != nil {
			return err
		}
		if err := w.WriteUint32(b.dim); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(len(b.entries))); err != nil {
			return err
		}
		for _, e := range b.entries {
			if err := w.WriteUint64(uint64(e.ID)); err != nil {
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
	})
}

// Load restores the state written by Save.
func (b *Backend) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := persistence.NewReader(f)

	version, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("unsupported brute_force blob version %d", version)
	}

	dim, err := r.ReadUint32()
	if err != nil {
		return err
	}
	count, err := r.ReadUint64()
	if err != nil {
		return err
	}

	entries := make([]core.VectorEntry, 0, count)
	byID := make(map[core.VectorID]uint32, count)
	for i := uint64(0); i < count; i++ {
		rawID, err := r.ReadUint64()
		if err != nil {
			return err
		}
		vec, err := r.ReadFloat32Slice(int(dim))
		if err != nil {
			return err
		}
		entries = append(entries, core.VectorEntry{ID: core.VectorID(rawID), Vector: vec})
		byID[core.VectorID(rawID)] = uint32(i)
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
	for _, e := range entries {
		if pos, ok := byID[e.ID]; ok && deleted.Contains(pos) {
			delete(byID, e.ID)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dim = dim
	b.entries = entries
	b.byID = byID
	b.deleted = deleted
	b.trained = true
	return nil
}

// IsTrained implements ann.Backend. Brute force is always trained.
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
		"entries":          float64(len(b.entries)),
		"deleted":          float64(b.deleted.GetCardinality()),
		"searches":         float64(b.searches.Load()),
		"vectors_scanned":  float64(b.scanned.Load()),
		"bytes_per_vector": float64(b.dim * 4),
	}
}
