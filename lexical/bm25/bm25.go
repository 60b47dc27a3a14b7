// Package bm25 provides a small in-memory BM25 index used as the text scorer
// for hybrid search.
package bm25

import (
	"math"
	"strings"
	"sync"

	"github.com/vexdb/vexdb/core"
)

const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	id    core.VectorID
	count int
}

// MemoryIndex is an in-memory BM25 inverted index keyed by vector id.
// Safe for concurrent use.
type MemoryIndex struct {
	mu          sync.RWMutex
	inverted    map[string][]posting
	docLengths  map[core.VectorID]int
	totalLength int64
}

// New creates an empty index.
func New() *MemoryIndex {
	return &MemoryIndex{
		inverted:   make(map[string][]posting),
		docLengths: make(map[core.VectorID]int),
	}
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Add indexes text under id, replacing any previous document.
func (idx *MemoryIndex) Add(id core.VectorID, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.docLengths[id]; ok {
		idx.deleteLocked(id)
	}

	tokens := tokenize(text)
	idx.docLengths[id] = len(tokens)
	idx.totalLength += int64(len(tokens))

	tf := make(map[string]int)
	for _, tok := range tokens {
		tf[tok]++
	}
	for tok, count := range tf {
		idx.inverted[tok] = append(idx.inverted[tok], posting{id: id, count: count})
	}
}

// Delete removes the document for id.
func (idx *MemoryIndex) Delete(id core.VectorID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(id)
}

func (idx *MemoryIndex) deleteLocked(id core.VectorID) {
	length, ok := idx.docLengths[id]
	if !ok {
		return
	}

	// O(terms * postings); acceptable for the in-memory reference index.
	for tok, postings := range idx.inverted {
		for i, p := range postings {
			if p.id == id {
				idx.inverted[tok] = append(postings[:i], postings[i+1:]...)
				break
			}
		}
		if len(idx.inverted[tok]) == 0 {
			delete(idx.inverted, tok)
		}
	}

	delete(idx.docLengths, id)
	idx.totalLength -= int64(length)
}

// Len returns the number of indexed documents.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLengths)
}

// Score returns BM25 scores for every document matching the query.
// Higher is better.
func (idx *MemoryIndex) Score(query string) (map[core.VectorID]float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[core.VectorID]float32)
	docCount := len(idx.docLengths)
	if docCount == 0 {
		return scores, nil
	}
	avgDL := float64(idx.totalLength) / float64(docCount)

	for _, tok := range tokenize(query) {
		postings, ok := idx.inverted[tok]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(docCount)-float64(len(postings))+0.5)/(float64(len(postings))+0.5))
		for _, p := range postings {
			dl := float64(idx.docLengths[p.id])
			tf := float64(p.count)
			norm := tf * (k1 + 1) / (tf + k1*(1-b+b*dl/avgDL))
			scores[p.id] += float32(idf * norm)
		}
	}
	return scores, nil
}
