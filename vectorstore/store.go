// Package vectorstore owns the canonical vector dataset and the ANN backend
// serving it. It enforces the training discipline: writes are always accepted
// into canonical storage, but an untrained backend never serves a search.
//
// The backend blob on disk is treated strictly as a cache. Whenever it is
// missing, stale, or inconsistent with the canonical vector file, the store
// rebuilds the backend from the canonical data.
package vectorstore

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vexdb/vexdb/ann"
	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/distance"
	"github.com/vexdb/vexdb/persistence"

	// The fallback backend must always be present.
	_ "github.com/vexdb/vexdb/ann/brute"
)

const (
	annsSuffix  = ".anns"
	orderSuffix = ".order"
)

// Store routes adds and searches between canonical storage and the backend.
type Store struct {
	mu  sync.Mutex
	cfg core.Config

	backend       ann.Backend
	algorithmName string
	buildParams   ann.Params
	queryParams   ann.Params

	entries []core.VectorEntry
	byID    map[core.VectorID]int
	nextID  core.VectorID

	// order records the ids handed to the backend, in handover order. It is
	// persisted as the ".order" sidecar and validates a loaded backend blob.
	order []core.VectorID

	// dirty marks backend content that no longer matches canonical storage
	// (e.g. a remove the backend could not apply). The next search refits.
	dirty bool

	fallbackUsed  bool
	rebuiltOnLoad bool
	lastBuild     *ann.BuildMetrics
}

// New creates a store for cfg, resolving the configured backend through the
// registry. An unknown backend name falls back to brute force; the fallback
// is visible in Stats.
func New(cfg core.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:    cfg.Clone(),
		byID:   make(map[core.VectorID]int),
		nextID: 1,
	}
	if err := s.initBackend(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initBackend() error {
	name := s.cfg.Algorithm
	if name == "" || name == "auto" {
		name = ann.DefaultBackendName
	}

	factory, ok := ann.Lookup(name)
	if !ok {
		factory, ok = ann.Lookup(ann.DefaultBackendName)
		if !ok {
			return fmt.Errorf("%w: fallback backend %q is not registered",
				core.ErrBackendFailure, ann.DefaultBackendName)
		}
		s.fallbackUsed = true
		name = ann.DefaultBackendName
	}

	backend := factory.New()
	if err := backend.Initialize(s.cfg); err != nil {
		return fmt.Errorf("%w: initialize %q: %v", core.ErrBackendFailure, name, err)
	}
	if !ann.SupportsMetric(backend, s.cfg.Metric) {
		return fmt.Errorf("%w: backend %q does not support metric %v",
			core.ErrInvalidConfig, name, s.cfg.Metric)
	}

	buildParams := factory.DefaultBuildParams().Clone()
	buildParams.Merge(s.cfg.BuildParams)
	queryParams := factory.DefaultQueryParams().Clone()
	queryParams.Merge(s.cfg.QueryParams)

	s.backend = backend
	s.algorithmName = name
	s.buildParams = buildParams
	s.queryParams = queryParams
	return nil
}

// Add appends a vector to canonical storage and, when the backend is trained,
// forwards it immediately. The returned id is visible to searches as soon as
// Add returns.
func (s *Store) Add(vector []float32) (core.VectorID, error) {
	ids, err := s.AddBatch([][]float32{vector})
	if err != nil {
		return core.NoVectorID, err
	}
	return ids[0], nil
}

// AddBatch appends vectors in one backend call.
func (s *Store) AddBatch(vectors [][]float32) ([]core.VectorID, error) {
	for _, v := range vectors {
		if err := core.ValidateDimension(v, s.cfg.Dimension); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]core.VectorID, 0, len(vectors))
	handover := make([]core.VectorEntry, 0, len(vectors))
	for _, v := range vectors {
		id := s.nextID
		s.nextID++
		entry := core.VectorEntry{ID: id, Vector: append([]float32(nil), v...)}
		s.byID[id] = len(s.entries)
		s.entries = append(s.entries, entry)
		ids = append(ids, id)
		handover = append(handover, entry)
	}

	// Untrained backends receive the pending vectors at training time.
	if s.backend.IsTrained() && len(handover) > 0 {
		if err := s.backend.Add(handover); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
		}
		for _, e := range handover {
			s.order = append(s.order, e.ID)
		}
	}

	return ids, nil
}

// Remove deletes the canonical entry for id. The backend entry is tombstoned
// when deletes are supported; otherwise its influence remains until the next
// rebuild. Unknown ids fail with core.ErrNotFound.
func (s *Store) Remove(id core.VectorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: vector %d", core.ErrNotFound, id)
	}

	last := len(s.entries) - 1
	if idx != last {
		s.entries[idx] = s.entries[last]
		s.byID[s.entries[idx].ID] = idx
	}
	s.entries = s.entries[:last]
	delete(s.byID, id)

	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if s.backend.IsTrained() {
		if s.backend.SupportsDelete() {
			if err := s.backend.Remove([]core.VectorID{id}); err != nil {
				return fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
			}
		} else {
			s.dirty = true
		}
	}
	return nil
}

// TrainIndex trains the backend. With training data the backend learns its
// structure from the supplied vectors; without, the canonical dataset is the
// training corpus. Immediately after a successful fit every canonical vector
// is streamed into the backend in a single batched add.
func (s *Store) TrainIndex(training [][]float32) error {
	for _, v := range training {
		if err := core.ValidateDimension(v, s.cfg.Dimension); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	corpus := s.entries
	if len(training) > 0 {
		corpus = make([]core.VectorEntry, len(training))
		for i, v := range training {
			corpus[i] = core.VectorEntry{Vector: v}
		}
	}
	return s.fitLocked(corpus)
}

// BuildIndex trains the backend on the canonical dataset.
func (s *Store) BuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fitLocked(s.entries)
}

func (s *Store) fitLocked(corpus []core.VectorEntry) error {
	metrics, err := s.backend.Fit(corpus, s.buildParams)
	if err != nil {
		if errors.Is(err, core.ErrInvalidConfig) || errors.Is(err, core.ErrBackendFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
	}
	s.lastBuild = metrics

	// Transfer on train: hand over everything held only canonically.
	s.order = s.order[:0]
	if len(s.entries) > 0 {
		if err := s.backend.Add(s.entries); err != nil {
			return fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
		}
		for _, e := range s.entries {
			s.order = append(s.order, e.ID)
		}
	}
	s.dirty = false
	return nil
}

// IsTrained reports whether the training gate is open.
func (s *Store) IsTrained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.IsTrained() && !s.dirty
}

func (s *Store) ensureTrainedLocked() error {
	if !s.backend.IsTrained() {
		return core.ErrNotTrained
	}
	if s.dirty {
		return s.fitLocked(s.entries)
	}
	return nil
}

func (s *Store) searchQueryParams(params core.SearchParams) ann.Params {
	qp := s.queryParams.Clone()
	if params.NProbe > 0 {
		qp.SetInt("nprobe", params.NProbe)
	}
	if params.Radius > 0 {
		qp.SetFloat("radius", float64(params.Radius))
	}
	return qp
}

func (s *Store) convertLocked(results []ann.Result) []core.QueryResult {
	out := make([]core.QueryResult, 0, len(results))
	for _, r := range results {
		// Drop stale hits for ids no longer in canonical storage.
		if _, ok := s.byID[r.ID]; !ok {
			continue
		}
		out = append(out, core.QueryResult{
			ID:    r.ID,
			Score: distance.ToScore(s.cfg.Metric, r.Distance),
		})
	}
	return out
}

// Search returns the top params.K results, best first.
func (s *Store) Search(query []float32, params core.SearchParams) ([]core.QueryResult, error) {
	if err := core.ValidateDimension(query, s.cfg.Dimension); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	if err := s.ensureTrainedLocked(); err != nil {
		return nil, err
	}

	results, err := s.backend.Search(query, params.K, s.searchQueryParams(params))
	if err != nil {
		return nil, s.wrapBackendErr(err)
	}
	return s.convertLocked(results), nil
}

// BatchSearch runs every query through the backend's native batch call.
func (s *Store) BatchSearch(queries [][]float32, params core.SearchParams) ([][]core.QueryResult, error) {
	for _, q := range queries {
		if err := core.ValidateDimension(q, s.cfg.Dimension); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(queries) == 0 {
		return nil, nil
	}
	if len(s.entries) == 0 {
		return make([][]core.QueryResult, len(queries)), nil
	}
	if err := s.ensureTrainedLocked(); err != nil {
		return nil, err
	}

	batches, err := s.backend.BatchSearch(queries, params.K, s.searchQueryParams(params))
	if err != nil {
		return nil, s.wrapBackendErr(err)
	}
	out := make([][]core.QueryResult, len(batches))
	for i, results := range batches {
		out[i] = s.convertLocked(results)
	}
	return out, nil
}

// RangeSearch returns every entry whose score is within radius under the
// configured metric, best first. The radius is interpreted in the caller's
// score orientation.
func (s *Store) RangeSearch(query []float32, radius float32, params core.SearchParams) ([]core.QueryResult, error) {
	if err := core.ValidateDimension(query, s.cfg.Dimension); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	if err := s.ensureTrainedLocked(); err != nil {
		return nil, err
	}
	if !s.backend.SupportsRangeQuery() {
		return nil, fmt.Errorf("%w: backend %q has no range query",
			core.ErrUnsupported, s.algorithmName)
	}

	results, err := s.backend.RangeSearch(query, distance.ToDistance(s.cfg.Metric, radius), s.searchQueryParams(params))
	if err != nil {
		return nil, s.wrapBackendErr(err)
	}
	return s.convertLocked(results), nil
}

func (s *Store) wrapBackendErr(err error) error {
	var dm *core.ErrDimensionMismatch
	if errors.Is(err, core.ErrNotTrained) || errors.As(err, &dm) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrBackendFailure, err)
}

// Size returns the number of canonical vectors.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Contains reports whether id is present in canonical storage.
func (s *Store) Contains(id core.VectorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// Dimension returns the configured dimensionality.
func (s *Store) Dimension() uint32 { return s.cfg.Dimension }

// Metric returns the configured metric.
func (s *Store) Metric() core.Metric { return s.cfg.Metric }

// Config returns a copy of the configuration.
func (s *Store) Config() core.Config { return s.cfg.Clone() }

// AlgorithmName returns the resolved backend name (after any fallback).
func (s *Store) AlgorithmName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.algorithmName
}

// Stats returns store counters merged with backend statistics.
func (s *Store) Stats() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]float64{
		"size":            float64(len(s.entries)),
		"next_id":         float64(s.nextID),
		"trained":         boolToFloat(s.backend.IsTrained() && !s.dirty),
		"fallback_used":   boolToFloat(s.fallbackUsed),
		"rebuilt_on_load": boolToFloat(s.rebuiltOnLoad),
	}
	for k, v := range s.backend.Stats() {
		stats["backend_"+k] = v
	}
	return stats
}

// LastBuildMetrics returns the metrics of the most recent fit, or nil.
func (s *Store) LastBuildMetrics() *ann.BuildMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBuild
}

// Save writes the canonical vector file at path, the backend blob at
// path+".anns" and the handover order table at path+".order".
func (s *Store) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := persistence.WriteFileAtomic(path, func(w *persistence.Writer) error {
		if err := w.WriteUint64(uint64(len(s.entries))); err != nil {
			return err
		}
		for _, e := range s.entries {
			if err := w.WriteUint64(uint64(e.ID)); err != nil {
				return err
			}
			if err := w.WriteUint64(uint64(len(e.Vector))); err != nil {
				return err
			}
			if err := w.WriteFloat32Slice(e.Vector); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save vectors: %v", core.ErrIO, err)
	}

	annsPath := path + annsSuffix
	orderPath := path + orderSuffix
	if s.backend.IsTrained() && !s.dirty {
		if err := s.backend.Save(annsPath); err != nil {
			return fmt.Errorf("%w: save backend blob: %v", core.ErrIO, err)
		}
		if err := s.saveOrder(orderPath); err != nil {
			return fmt.Errorf("%w: save order table: %v", core.ErrIO, err)
		}
	} else {
		// A stale blob must not outlive the state that produced it.
		removeIfExists(annsPath)
		removeIfExists(orderPath)
	}
	return nil
}

func (s *Store) saveOrder(path string) error {
	return persistence.WriteFileAtomic(path, func(w *persistence.Writer) error {
		if err := w.WriteUint64(uint64(len(s.order))); err != nil {
			return err
		}
		for _, id := range s.order {
			if err := w.WriteUint64(uint64(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) loadOrder(path string) ([]core.VectorID, error) {
	var order []core.VectorID
	err := persistence.ReadFile(path, func(r *persistence.Reader) error {
		count, err := r.ReadUint64()
		if err != nil {
			return err
		}
		order = make([]core.VectorID, 0, count)
		for i := uint64(0); i < count; i++ {
			raw, err := r.ReadUint64()
			if err != nil {
				return err
			}
			order = append(order, core.VectorID(raw))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Load restores canonical vectors from path (authoritative) and then tries
// the backend blob and order table. A missing or inconsistent blob triggers
// a rebuild from the canonical vectors, recorded in Stats as
// "rebuilt_on_load".
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []core.VectorEntry
	err := persistence.ReadFile(path, func(r *persistence.Reader) error {
		count, err := r.ReadUint64()
		if err != nil {
			return err
		}
		entries = make([]core.VectorEntry, 0, count)
		for i := uint64(0); i < count; i++ {
			rawID, err := r.ReadUint64()
			if err != nil {
				return err
			}
			dim, err := r.ReadUint64()
			if err != nil {
				return err
			}
			vec, err := r.ReadFloat32Slice(int(dim))
			if err != nil {
				return err
			}
			entries = append(entries, core.VectorEntry{ID: core.VectorID(rawID), Vector: vec})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: load vectors: %v", core.ErrIO, err)
	}

	s.entries = entries
	s.byID = make(map[core.VectorID]int, len(entries))
	s.nextID = 1
	for i, e := range entries {
		s.byID[e.ID] = i
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
	}
	s.order = nil
	s.dirty = false

	if s.restoreBackendLocked(path) {
		return nil
	}

	// Blob unusable: rebuild from canonical vectors. An untrainable backend
	// (e.g. IVF with fewer vectors than nlist) stays behind its gate.
	s.rebuiltOnLoad = true
	if err := s.initBackend(); err != nil {
		return err
	}
	if len(s.entries) > 0 {
		if err := s.fitLocked(s.entries); err != nil {
			if errors.Is(err, core.ErrInvalidConfig) {
				return nil
			}
			return err
		}
	} else if s.backend.IsTrained() {
		// Empty dataset with an auto-trained backend needs no fit.
		return nil
	}
	return nil
}

// restoreBackendLocked attempts to reuse the persisted backend blob.
func (s *Store) restoreBackendLocked(path string) bool {
	annsPath := path + annsSuffix
	if _, err := os.Stat(annsPath); err != nil {
		return false
	}
	if err := s.backend.Load(annsPath); err != nil {
		return false
	}
	if s.backend.Count() != len(s.entries) {
		return false
	}

	order, err := s.loadOrder(path + orderSuffix)
	if err != nil || len(order) != len(s.entries) {
		return false
	}
	for _, id := range order {
		if _, ok := s.byID[id]; !ok {
			return false
		}
	}
	s.order = order
	return true
}

func removeIfExists(path string) {
	// Best effort: a leftover stale blob is caught by the count check on load.
	_ = os.Remove(path)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
