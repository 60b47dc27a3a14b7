// Package query composes the vector store and the metadata store into the
// search surface: plain k-NN, filtered search with adaptive overfetch, batch,
// range, hybrid and reranked search.
package query

import (
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/metadata"
	"github.com/vexdb/vexdb/vectorstore"
)

const (
	// DefaultOverfetchFactor is the initial candidate multiplier for
	// filtered search.
	DefaultOverfetchFactor = 4

	// DefaultOverfetchCeiling bounds the overfetch growth.
	DefaultOverfetchCeiling = 64

	// DefaultRerankK is the candidate pool size for reranked search.
	DefaultRerankK = 100
)

// TextScorer scores documents against a text query; higher is better.
// The BM25 index in lexical/bm25 implements it.
type TextScorer interface {
	Score(query string) (map[core.VectorID]float32, error)
}

// Filter is a predicate over a candidate's metadata. Candidates without a
// record are presented as an empty map.
type Filter func(core.Metadata) bool

// RerankFunc recomputes a candidate's score; higher is better.
type RerankFunc func(query []float32, md core.Metadata, vectorScore core.Score) float32

// SearchStats describes the most recent search on an engine.
type SearchStats struct {
	TotalCandidates    int
	FilteredCandidates int
	FinalResults       int
	SearchTime         time.Duration
	FilterTime         time.Duration
	TotalTime          time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTextScorer wires the scorer used by hybrid search. Without one, hybrid
// search reduces to plain k-NN.
func WithTextScorer(ts TextScorer) Option {
	return func(e *Engine) { e.textScorer = ts }
}

// WithOverfetch tunes the filtered-search overfetch factor and ceiling.
func WithOverfetch(factor, ceiling int) Option {
	return func(e *Engine) {
		if factor > 0 {
			e.overfetchFactor = factor
		}
		if ceiling > 0 {
			e.overfetchCeiling = ceiling
		}
	}
}

// WithParallelism bounds the goroutines used by batch filtered search.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// Engine coordinates the vector store and metadata store. It never mutates
// either. The only engine state is the per-instance search statistics.
type Engine struct {
	vectors    *vectorstore.Store
	meta       *metadata.Store
	textScorer TextScorer

	overfetchFactor  int
	overfetchCeiling int
	parallelism      int

	lastStats atomic.Pointer[SearchStats]
}

// NewEngine creates an engine over the two stores.
func NewEngine(vectors *vectorstore.Store, meta *metadata.Store, opts ...Option) (*Engine, error) {
	if vectors == nil || meta == nil {
		return nil, fmt.Errorf("%w: query engine requires both stores", core.ErrInvalidConfig)
	}
	e := &Engine{
		vectors:          vectors,
		meta:             meta,
		overfetchFactor:  DefaultOverfetchFactor,
		overfetchCeiling: DefaultOverfetchCeiling,
		parallelism:      runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// LastSearchStats returns the statistics of the most recent search.
// Concurrent searches race benignly; each reader observes one search's stats.
func (e *Engine) LastSearchStats() SearchStats {
	if s := e.lastStats.Load(); s != nil {
		return *s
	}
	return SearchStats{}
}

func (e *Engine) record(stats SearchStats) {
	e.lastStats.Store(&stats)
}

func (e *Engine) attachMetadata(results []core.QueryResult) {
	for i := range results {
		if md, ok := e.meta.Get(results[i].ID); ok {
			results[i].Metadata = md
		}
	}
}

// Search runs plain k-NN and attaches metadata when requested.
func (e *Engine) Search(query []float32, params core.SearchParams) ([]core.QueryResult, error) {
	start := time.Now()

	results, err := e.vectors.Search(query, params)
	if err != nil {
		return nil, err
	}
	searchTime := time.Since(start)

	if params.IncludeMetadata {
		e.attachMetadata(results)
	}

	total := time.Since(start)
	e.record(SearchStats{
		TotalCandidates:    len(results),
		FilteredCandidates: len(results),
		FinalResults:       len(results),
		SearchTime:         searchTime,
		FilterTime:         total - searchTime,
		TotalTime:          total,
	})
	return results, nil
}

func (e *Engine) metadataFor(id core.VectorID) core.Metadata {
	if md, ok := e.meta.Get(id); ok {
		return md
	}
	return core.Metadata{}
}

// FilteredSearch returns the best params.K candidates passing filter.
//
// It overfetches adaptively: the first round requests K times the overfetch
// factor, doubling until enough candidates pass, the backend under-returns,
// or the ceiling is reached.
func (e *Engine) FilteredSearch(query []float32, params core.SearchParams, filter Filter) ([]core.QueryResult, error) {
	start := time.Now()

	var (
		candidates []core.QueryResult
		passed     []core.QueryResult
		searchTime time.Duration
	)

	k := params.K
	if k <= 0 {
		e.record(SearchStats{TotalTime: time.Since(start)})
		return nil, nil
	}

	for factor := e.overfetchFactor; ; factor *= 2 {
		fetch := params
		fetch.K = k * factor
		fetch.IncludeMetadata = false

		searchStart := time.Now()
		var err error
		candidates, err = e.vectors.Search(query, fetch)
		if err != nil {
			return nil, err
		}
		searchTime += time.Since(searchStart)

		passed = passed[:0]
		for _, c := range candidates {
			md := e.metadataFor(c.ID)
			if filter(md) {
				c.Metadata = md
				passed = append(passed, c)
				if len(passed) == k {
					break
				}
			}
		}

		if len(passed) >= k || len(candidates) < fetch.K || factor >= e.overfetchCeiling {
			break
		}
	}

	results := passed
	if len(results) > k {
		results = results[:k]
	}
	if !params.IncludeMetadata {
		for i := range results {
			results[i].Metadata = nil
		}
	}

	total := time.Since(start)
	e.record(SearchStats{
		TotalCandidates:    len(candidates),
		FilteredCandidates: len(results),
		FinalResults:       len(results),
		SearchTime:         searchTime,
		FilterTime:         total - searchTime,
		TotalTime:          total,
	})
	return results, nil
}

// SearchByMetadata is filtered search on an exact key/value match.
func (e *Engine) SearchByMetadata(query []float32, params core.SearchParams, key, value string) ([]core.QueryResult, error) {
	return e.FilteredSearch(query, params, func(md core.Metadata) bool {
		return md[key] == value
	})
}

// BatchSearch runs every query, preferring the backend's native batch path.
func (e *Engine) BatchSearch(queries [][]float32, params core.SearchParams) ([][]core.QueryResult, error) {
	start := time.Now()

	batches, err := e.vectors.BatchSearch(queries, params)
	if err != nil {
		return nil, err
	}
	searchTime := time.Since(start)

	total := 0
	for _, results := range batches {
		if params.IncludeMetadata {
			e.attachMetadata(results)
		}
		total += len(results)
	}

	elapsed := time.Since(start)
	e.record(SearchStats{
		TotalCandidates:    total,
		FilteredCandidates: total,
		FinalResults:       total,
		SearchTime:         searchTime,
		FilterTime:         elapsed - searchTime,
		TotalTime:          elapsed,
	})
	return batches, nil
}

// BatchFilteredSearch applies FilteredSearch to every query concurrently.
func (e *Engine) BatchFilteredSearch(queries [][]float32, params core.SearchParams, filter Filter) ([][]core.QueryResult, error) {
	out := make([][]core.QueryResult, len(queries))

	g := new(errgroup.Group)
	g.SetLimit(e.parallelism)
	for i, q := range queries {
		g.Go(func() error {
			results, err := e.FilteredSearch(q, params, filter)
			if err != nil {
				return err
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RangeSearch returns every result within radius under the active metric,
// best first.
func (e *Engine) RangeSearch(query []float32, radius float32, params core.SearchParams) ([]core.QueryResult, error) {
	start := time.Now()

	results, err := e.vectors.RangeSearch(query, radius, params)
	if err != nil {
		return nil, err
	}
	searchTime := time.Since(start)

	if params.IncludeMetadata {
		e.attachMetadata(results)
	}

	total := time.Since(start)
	e.record(SearchStats{
		TotalCandidates:    len(results),
		FilteredCandidates: len(results),
		FinalResults:       len(results),
		SearchTime:         searchTime,
		FilterTime:         total - searchTime,
		TotalTime:          total,
	})
	return results, nil
}

// HybridSearch combines vector and text relevance. Both sub-scores are
// min-max normalized to [0,1] within the candidate set and combined as
// vectorWeight*vn + textWeight*tn; results carry the combined score, larger
// is better. Without a text scorer or text query it reduces to plain k-NN.
func (e *Engine) HybridSearch(query []float32, params core.SearchParams, textQuery string, vectorWeight, textWeight float32) ([]core.QueryResult, error) {
	if textQuery == "" || e.textScorer == nil {
		results, err := e.Search(query, params)
		if err != nil {
			return nil, err
		}
		if len(results) > params.K {
			results = results[:params.K]
		}
		return results, nil
	}

	start := time.Now()

	fetch := params
	fetch.K = params.K * 2
	fetch.IncludeMetadata = false
	candidates, err := e.vectors.Search(query, fetch)
	if err != nil {
		return nil, err
	}
	searchTime := time.Since(start)

	if len(candidates) == 0 {
		e.record(SearchStats{TotalTime: time.Since(start), SearchTime: searchTime})
		return nil, nil
	}

	textScores, err := e.textScorer.Score(textQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: text scorer: %v", core.ErrBackendFailure, err)
	}

	vn := normalizeVectorScores(candidates, e.vectors.Metric())
	tn := normalizeTextScores(candidates, textScores)

	for i := range candidates {
		candidates[i].Score = vectorWeight*vn[i] + textWeight*tn[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > params.K {
		candidates = candidates[:params.K]
	}
	if params.IncludeMetadata {
		e.attachMetadata(candidates)
	}

	total := time.Since(start)
	e.record(SearchStats{
		TotalCandidates:    len(vn),
		FilteredCandidates: len(candidates),
		FinalResults:       len(candidates),
		SearchTime:         searchTime,
		FilterTime:         total - searchTime,
		TotalTime:          total,
	})
	return candidates, nil
}

// SearchWithRerank fetches rerankK candidates, rescores them with fn and
// returns the best params.K by the new score, larger is better.
func (e *Engine) SearchWithRerank(query []float32, params core.SearchParams, fn RerankFunc, rerankK int) ([]core.QueryResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: rerank function is required", core.ErrInvalidConfig)
	}
	if rerankK <= 0 {
		rerankK = DefaultRerankK
	}

	start := time.Now()

	fetch := params
	fetch.K = rerankK
	fetch.IncludeMetadata = false
	candidates, err := e.vectors.Search(query, fetch)
	if err != nil {
		return nil, err
	}
	searchTime := time.Since(start)

	for i := range candidates {
		md := e.metadataFor(candidates[i].ID)
		candidates[i].Metadata = md
		candidates[i].Score = fn(query, md, candidates[i].Score)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > params.K {
		candidates = candidates[:params.K]
	}
	if !params.IncludeMetadata {
		for i := range candidates {
			candidates[i].Metadata = nil
		}
	}

	total := time.Since(start)
	e.record(SearchStats{
		TotalCandidates:    rerankK,
		FilteredCandidates: len(candidates),
		FinalResults:       len(candidates),
		SearchTime:         searchTime,
		FilterTime:         total - searchTime,
		TotalTime:          total,
	})
	return candidates, nil
}

// normalizeVectorScores maps candidate scores to [0,1], best candidate = 1.
func normalizeVectorScores(candidates []core.QueryResult, metric core.Metric) []float32 {
	out := make([]float32, len(candidates))
	minS, maxS := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < minS {
			minS = c.Score
		}
		if c.Score > maxS {
			maxS = c.Score
		}
	}
	span := maxS - minS
	for i, c := range candidates {
		if span == 0 {
			out[i] = 1
			continue
		}
		if metric.Ascending() {
			out[i] = (maxS - c.Score) / span
		} else {
			out[i] = (c.Score - minS) / span
		}
	}
	return out
}

// normalizeTextScores maps text scores to [0,1] within the candidate set;
// candidates without a text score rank at 0.
func normalizeTextScores(candidates []core.QueryResult, scores map[core.VectorID]float32) []float32 {
	raw := make([]float32, len(candidates))
	for i, c := range candidates {
		raw[i] = scores[c.ID]
	}
	minS, maxS := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < minS {
			minS = v
		}
		if v > maxS {
			maxS = v
		}
	}
	span := maxS - minS
	out := make([]float32, len(raw))
	for i, v := range raw {
		if span == 0 {
			if maxS > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (v - minS) / span
	}
	return out
}
