package vexdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/metadata"
	"github.com/vexdb/vexdb/persistence"
	"github.com/vexdb/vexdb/query"
	"github.com/vexdb/vexdb/resource"
	"github.com/vexdb/vexdb/vectorstore"

	// Register the bundled backends.
	_ "github.com/vexdb/vexdb/ann/brute"
	_ "github.com/vexdb/vexdb/ann/hnswidx"
	_ "github.com/vexdb/vexdb/ann/ivf"
)

// DB is the database facade bundling the vector store, the metadata store and
// the query engine. It is safe for concurrent use.
type DB struct {
	// mu serializes whole-database state swaps (Load); regular operations
	// take it shared.
	mu sync.RWMutex

	cfg     core.Config
	vectors *vectorstore.Store
	meta    *metadata.Store
	engine  *query.Engine

	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller
	opts      options
}

// New creates a database for cfg.
func New(cfg core.Config, optFns ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := applyOptions(optFns)

	db := &DB{
		cfg:       cfg.Clone(),
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
		resources: opts.resources,
		opts:      opts,
	}
	if err := db.assemble(); err != nil {
		return nil, err
	}
	return db, nil
}

// Open creates a database from the files previously written by Save.
// The persisted config supplies the structural fields; optFns apply on top.
func Open(path string, optFns ...Option) (*DB, error) {
	cfg := core.DefaultConfig(1)
	if err := persistence.LoadConfig(path+".config", &cfg); err != nil {
		return nil, fmt.Errorf("%w: load config: %v", core.ErrIO, err)
	}

	db, err := New(cfg, optFns...)
	if err != nil {
		return nil, err
	}
	if err := db.Load(path); err != nil {
		return nil, err
	}
	return db, nil
}

// assemble builds the three stores from db.cfg.
func (db *DB) assemble() error {
	vectors, err := vectorstore.New(db.cfg)
	if err != nil {
		return err
	}
	meta := metadata.NewStore()

	engineOpts := []query.Option{
		query.WithOverfetch(db.opts.overfetchFactor, db.opts.overfetchCeiling),
	}
	if db.opts.textScorer != nil {
		engineOpts = append(engineOpts, query.WithTextScorer(db.opts.textScorer))
	}
	engine, err := query.NewEngine(vectors, meta, engineOpts...)
	if err != nil {
		return err
	}

	db.vectors = vectors
	db.meta = meta
	db.engine = engine
	return nil
}

// Add stores a vector with optional metadata and returns its id.
//
// The vector add happens first. A metadata failure does not roll the vector
// back; the record is logged as orphaned metadata instead.
func (db *DB) Add(vector []float32, md core.Metadata) (core.VectorID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	id, err := db.vectors.Add(vector)
	db.metrics.RecordAdd(time.Since(start), err)
	db.logger.LogAdd(uint64(id), len(vector), err)
	if err != nil {
		return core.NoVectorID, err
	}

	if len(md) > 0 {
		db.meta.Set(id, md)
	}
	return id, nil
}

// AddBatch stores vectors with optional per-vector metadata. md may be nil
// or have exactly one entry per vector.
func (db *DB) AddBatch(vectors [][]float32, md []core.Metadata) ([]core.VectorID, error) {
	if md != nil && len(md) != len(vectors) {
		return nil, fmt.Errorf("%w: vectors (%d) and metadata (%d) length mismatch",
			core.ErrInvalidConfig, len(vectors), len(md))
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	ids, err := db.vectors.AddBatch(vectors)
	db.metrics.RecordBatchAdd(len(vectors), time.Since(start), err)
	db.logger.LogBatchAdd(len(vectors), err)
	if err != nil {
		return nil, err
	}

	if md != nil {
		if err := db.meta.SetBatch(ids, md); err != nil {
			// Vector adds are not rolled back.
			for _, id := range ids {
				db.logger.LogOrphanedMetadata(uint64(id), err)
			}
		}
	}
	return ids, nil
}

// Remove deletes the vector and its metadata. Unknown ids fail with
// ErrNotFound. The canonical entry disappears immediately; when the backend
// cannot delete, its influence in the index remains until the next rebuild.
func (db *DB) Remove(id core.VectorID) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	err := db.vectors.Remove(id)
	db.metrics.RecordRemove(time.Since(start), err)
	db.logger.LogRemove(uint64(id), err)
	if err != nil {
		return err
	}
	db.meta.Remove(id)
	return nil
}

// Update mutates a stored record. Vector payloads cannot be updated in place;
// passing a non-nil vector fails with ErrUnsupported (replacement requires
// remove and re-add). Metadata is replaced when md is non-nil.
func (db *DB) Update(id core.VectorID, vector []float32, md core.Metadata) error {
	if vector != nil {
		return fmt.Errorf("%w: vector payloads are immutable; remove and re-add instead",
			core.ErrUnsupported)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.vectors.Contains(id) {
		return fmt.Errorf("%w: vector %d", core.ErrNotFound, id)
	}
	if md != nil {
		db.meta.Set(id, md)
	}
	return nil
}

// Search returns the k nearest neighbors of query with metadata attached.
func (db *DB) Search(query []float32, k int) ([]core.QueryResult, error) {
	params := core.DefaultSearchParams()
	params.K = k
	return db.SearchWithParams(query, params)
}

// SearchWithParams returns the top params.K results, best first.
func (db *DB) SearchWithParams(q []float32, params core.SearchParams) ([]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	results, err := db.engine.Search(q, params)
	db.metrics.RecordSearch(params.K, time.Since(start), err)
	db.logger.LogSearch(params.K, len(results), err)
	return results, err
}

// FilteredSearch returns the best params.K results passing filter.
func (db *DB) FilteredSearch(q []float32, params core.SearchParams, filter query.Filter) ([]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	results, err := db.engine.FilteredSearch(q, params, filter)
	db.metrics.RecordSearch(params.K, time.Since(start), err)
	db.logger.LogSearch(params.K, len(results), err)
	return results, err
}

// SearchByMetadata is filtered search on an exact key/value match.
func (db *DB) SearchByMetadata(q []float32, params core.SearchParams, key, value string) ([]core.QueryResult, error) {
	return db.FilteredSearch(q, params, func(md core.Metadata) bool {
		return md[key] == value
	})
}

// BatchSearch runs every query, preferring the backend's native batch path.
func (db *DB) BatchSearch(queries [][]float32, params core.SearchParams) ([][]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	results, err := db.engine.BatchSearch(queries, params)
	db.metrics.RecordSearch(params.K*len(queries), time.Since(start), err)
	return results, err
}

// BatchFilteredSearch applies FilteredSearch to every query.
func (db *DB) BatchFilteredSearch(queries [][]float32, params core.SearchParams, filter query.Filter) ([][]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.engine.BatchFilteredSearch(queries, params, filter)
}

// RangeSearch returns every result within radius under the active metric.
func (db *DB) RangeSearch(q []float32, radius float32, params core.SearchParams) ([]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	results, err := db.engine.RangeSearch(q, radius, params)
	db.metrics.RecordSearch(params.K, time.Since(start), err)
	return results, err
}

// HybridSearch combines vector and text relevance; see query.Engine.
func (db *DB) HybridSearch(q []float32, params core.SearchParams, textQuery string, vectorWeight, textWeight float32) ([]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.engine.HybridSearch(q, params, textQuery, vectorWeight, textWeight)
}

// SearchWithRerank rescores rerankK candidates with fn and returns the best
// params.K; see query.Engine.
func (db *DB) SearchWithRerank(q []float32, params core.SearchParams, fn query.RerankFunc, rerankK int) ([]core.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.engine.SearchWithRerank(q, params, fn, rerankK)
}

// BuildIndex trains the backend on the stored vectors.
func (db *DB) BuildIndex() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	err := db.vectors.BuildIndex()
	db.metrics.RecordBuild(db.vectors.Size(), time.Since(start), err)
	db.logger.LogBuild(db.vectors.Size(), err)
	return err
}

// TrainIndex trains the backend, with training as the corpus when non-empty.
func (db *DB) TrainIndex(training [][]float32) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	start := time.Now()
	err := db.vectors.TrainIndex(training)
	db.metrics.RecordBuild(db.vectors.Size(), time.Since(start), err)
	db.logger.LogBuild(db.vectors.Size(), err)
	return err
}

// IsTrained reports whether searches are legal.
func (db *DB) IsTrained() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vectors.IsTrained()
}

// SetMetadata replaces the metadata for id. Unknown ids fail with ErrNotFound.
func (db *DB) SetMetadata(id core.VectorID, md core.Metadata) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.vectors.Contains(id) {
		return fmt.Errorf("%w: vector %d", core.ErrNotFound, id)
	}
	db.meta.Set(id, md)
	return nil
}

// GetMetadata returns the metadata for id.
func (db *DB) GetMetadata(id core.VectorID) (core.Metadata, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.meta.Get(id)
}

// FindByMetadata returns the ids whose metadata maps key to exactly value.
func (db *DB) FindByMetadata(key, value string) []core.VectorID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.meta.FindByKeyValue(key, value)
}

// FindByMetadataPrefix returns the ids whose metadata value for key has the
// given prefix.
func (db *DB) FindByMetadataPrefix(key, prefix string) []core.VectorID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.meta.FindByValuePrefix(key, prefix)
}

// MetadataKeys returns the sorted set of metadata keys in use.
func (db *DB) MetadataKeys() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.meta.Keys()
}

// GetBatchMetadata returns one metadata record per id, nil for absent ids.
func (db *DB) GetBatchMetadata(ids []core.VectorID) []core.Metadata {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.meta.GetBatch(ids)
}

// Save writes the database as a file set under the path prefix: the config,
// the canonical vectors with backend blob and order sidecar, and the
// metadata stream.
func (db *DB) Save(path string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	err := db.saveLocked(path)
	db.logger.LogSave(path, err)
	return err
}

func (db *DB) saveLocked(path string) error {
	if err := persistence.SaveConfig(path+".config", db.cfg); err != nil {
		return fmt.Errorf("%w: save config: %v", core.ErrIO, err)
	}
	if err := db.vectors.Save(path + ".vectors"); err != nil {
		return err
	}
	return db.meta.Save(path + ".metadata")
}

// Load restores the database from the file set at the path prefix. The
// config and vector files are authoritative; a missing metadata stream
// leaves the metadata store empty, and a missing or stale backend blob
// triggers a rebuild.
func (db *DB) Load(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cfg := db.cfg.Clone()
	if err := persistence.LoadConfig(path+".config", &cfg); err != nil {
		err = fmt.Errorf("%w: load config: %v", core.ErrIO, err)
		db.logger.LogLoad(path, 0, err)
		return err
	}

	prev := db.cfg
	db.cfg = cfg
	if err := db.assemble(); err != nil {
		db.cfg = prev
		db.logger.LogLoad(path, 0, err)
		return err
	}

	if err := db.vectors.Load(path + ".vectors"); err != nil {
		db.logger.LogLoad(path, 0, err)
		return err
	}

	// Metadata absence is non-fatal: the stream is optional.
	if err := db.meta.Load(path + ".metadata"); err != nil {
		db.meta.Clear()
		db.logger.Warn("metadata stream unavailable, starting empty", "path", path+".metadata", "error", err)
	}

	db.logger.LogLoad(path, db.vectors.Size(), nil)
	return nil
}

// Size returns the number of stored vectors.
func (db *DB) Size() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vectors.Size()
}

// Dimension returns the configured dimensionality.
func (db *DB) Dimension() uint32 {
	return db.cfg.Dimension
}

// IndexType returns the configured index type hint.
func (db *DB) IndexType() core.IndexType {
	return db.cfg.IndexType
}

// Config returns a copy of the configuration.
func (db *DB) Config() core.Config {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.cfg.Clone()
}

// Stats returns store counters merged with backend statistics.
func (db *DB) Stats() map[string]float64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stats := db.vectors.Stats()
	stats["metadata_records"] = float64(db.meta.Len())
	return stats
}

// LastSearchStats returns the statistics of the most recent search.
func (db *DB) LastSearchStats() query.SearchStats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.engine.LastSearchStats()
}
