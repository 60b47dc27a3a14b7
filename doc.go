// Package vexdb provides an embeddable vector database for Go.
//
// Vexdb stores fixed-dimension float32 vectors with string-keyed metadata and
// answers approximate-nearest-neighbor queries with optional metadata
// filtering:
//
//   - Pluggable ANN backends behind a process-wide registry: brute_force
//     (exact, always available), ivf_flat (trained inverted file) and hnsw
//     (graph index with incremental updates)
//   - Dual-storage discipline: writes are always accepted into canonical
//     storage, an untrained backend never serves a search, and the on-disk
//     backend blob is a cache that can always be rebuilt
//   - Metadata filtering with a roaring-bitmap inverted index and prefix
//     lookup, filtered search with adaptive overfetch
//   - Batch, range, hybrid (vector+BM25 text) and reranked search with
//     per-engine search statistics
//   - Persistence as separate streams for config, vectors, backend blob and
//     metadata, with snapshot transfer to S3, MinIO or any BlobStore
//
// # Quick start
//
//	cfg := core.DefaultConfig(128)
//	cfg.Algorithm = "hnsw"
//
//	db, err := vexdb.New(cfg)
//	if err != nil {
//	    panic(err)
//	}
//
//	id, err := db.Add(vector, core.Metadata{"label": "doc"})
//	results, err := db.Search(query, 10)
//
// Filtered search with a metadata predicate:
//
//	results, err := db.FilteredSearch(query, params, func(md core.Metadata) bool {
//	    return md["label"] == "doc"
//	})
//
// Persistence:
//
//	err := db.Save("/data/index")
//	db2, err := vexdb.Open("/data/index")
package vexdb
