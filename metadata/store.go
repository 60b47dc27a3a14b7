// Package metadata implements the attribute store: a primary id→attributes
// mapping plus a roaring-bitmap inverted index for exact lookups and a sorted
// per-key value table for prefix lookups.
package metadata

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/vexdb/vexdb/core"
	"github.com/vexdb/vexdb/persistence"
)

// maxStringLen bounds key/value lengths while decoding; anything larger is
// treated as stream corruption.
const maxStringLen = 16 << 20

// Store maps vector ids to string attribute maps.
// Safe for concurrent use: readers share, writers are exclusive.
type Store struct {
	mu       sync.RWMutex
	records  map[core.VectorID]core.Metadata
	inverted map[string]map[string]*roaring64.Bitmap
	values   map[string][]string // sorted unique values per key
}

// NewStore creates an empty metadata store.
func NewStore() *Store {
	return &Store{
		records:  make(map[core.VectorID]core.Metadata),
		inverted: make(map[string]map[string]*roaring64.Bitmap),
		values:   make(map[string][]string),
	}
}

// Set replaces the record for id. Stale inverted-index entries of a previous
// record are removed first. Setting is idempotent.
func (s *Store) Set(id core.VectorID, md core.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(id, md)
}

func (s *Store) setLocked(id core.VectorID, md core.Metadata) {
	if old, ok := s.records[id]; ok {
		s.unindexLocked(id, old)
	}
	s.records[id] = md.Clone()
	s.indexLocked(id, md)
}

func (s *Store) indexLocked(id core.VectorID, md core.Metadata) {
	for k, v := range md {
		vm, ok := s.inverted[k]
		if !ok {
			vm = make(map[string]*roaring64.Bitmap)
			s.inverted[k] = vm
		}
		bm, ok := vm[v]
		if !ok {
			bm = roaring64.New()
			vm[v] = bm
			s.insertValueLocked(k, v)
		}
		bm.Add(uint64(id))
	}
}

func (s *Store) unindexLocked(id core.VectorID, md core.Metadata) {
	for k, v := range md {
		vm, ok := s.inverted[k]
		if !ok {
			continue
		}
		bm, ok := vm[v]
		if !ok {
			continue
		}
		bm.Remove(uint64(id))
		if bm.IsEmpty() {
			delete(vm, v)
			s.removeValueLocked(k, v)
		}
		if len(vm) == 0 {
			delete(s.inverted, k)
		}
	}
}

func (s *Store) insertValueLocked(key, value string) {
	vs := s.values[key]
	i := sort.SearchStrings(vs, value)
	if i < len(vs) && vs[i] == value {
		return
	}
	vs = append(vs, "")
	copy(vs[i+1:], vs[i:])
	vs[i] = value
	s.values[key] = vs
}

func (s *Store) removeValueLocked(key, value string) {
	vs := s.values[key]
	i := sort.SearchStrings(vs, value)
	if i >= len(vs) || vs[i] != value {
		return
	}
	vs = append(vs[:i], vs[i+1:]...)
	if len(vs) == 0 {
		delete(s.values, key)
	} else {
		s.values[key] = vs
	}
}

// Get returns a copy of the record for id.
func (s *Store) Get(id core.VectorID) (core.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return md.Clone(), true
}

// Has reports whether id has a record.
func (s *Store) Has(id core.VectorID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Remove deletes the record for id, returning false when absent.
func (s *Store) Remove(id core.VectorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.records[id]
	if !ok {
		return false
	}
	s.unindexLocked(id, md)
	delete(s.records, id)
	return true
}

// SetBatch replaces the records for the listed ids.
// ids and metadata must have equal length.
func (s *Store) SetBatch(ids []core.VectorID, metadata []core.Metadata) error {
	if len(ids) != len(metadata) {
		return fmt.Errorf("%w: ids (%d) and metadata (%d) length mismatch",
			core.ErrInvalidConfig, len(ids), len(metadata))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		s.setLocked(id, metadata[i])
	}
	return nil
}

// GetBatch returns one record per id, nil for absent ids.
func (s *Store) GetBatch(ids []core.VectorID) []core.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Metadata, len(ids))
	for i, id := range ids {
		if md, ok := s.records[id]; ok {
			out[i] = md.Clone()
		}
	}
	return out
}

// FindByKeyValue returns the ids whose record maps key to exactly value,
// in ascending id order.
func (s *Store) FindByKeyValue(key, value string) []core.VectorID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vm, ok := s.inverted[key]
	if !ok {
		return nil
	}
	bm, ok := vm[value]
	if !ok {
		return nil
	}
	return toIDs(bm)
}

// FindByValuePrefix returns the ids whose record maps key to a value with the
// given prefix, in ascending id order. An empty prefix matches every record
// carrying the key.
func (s *Store) FindByValuePrefix(key, prefix string) []core.VectorID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vm, ok := s.inverted[key]
	if !ok {
		return nil
	}

	vs := s.values[key]
	start := sort.SearchStrings(vs, prefix)

	union := roaring64.New()
	for _, v := range vs[start:] {
		if len(v) < len(prefix) || v[:len(prefix)] != prefix {
			break
		}
		if bm, ok := vm[v]; ok {
			union.Or(bm)
		}
	}
	return toIDs(union)
}

// FilterIDs applies pred to the records of the supplied ids and returns the
// ids that pass. Ids without a record never pass.
func (s *Store) FilterIDs(ids []core.VectorID, pred func(core.Metadata) bool) []core.VectorID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.VectorID
	for _, id := range ids {
		if md, ok := s.records[id]; ok && pred(md) {
			out = append(out, id)
		}
	}
	return out
}

// Keys returns the sorted set of attribute keys in use.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.inverted))
	for k := range s.inverted {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear removes every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[core.VectorID]core.Metadata)
	s.inverted = make(map[string]map[string]*roaring64.Bitmap)
	s.values = make(map[string][]string)
}

// Save writes the records as a self-describing binary stream.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]core.VectorID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	err := persistence.WriteFileAtomic(path, func(w *persistence.Writer) error {
		if err := w.WriteUint64(uint64(len(ids))); err != nil {
			return err
		}
		for _, id := range ids {
			md := s.records[id]
			if err := w.WriteUint64(uint64(id)); err != nil {
				return err
			}
			if err := w.WriteUint64(uint64(len(md))); err != nil {
				return err
			}
			keys := make([]string, 0, len(md))
			for k := range md {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if err := w.WriteString(k); err != nil {
					return err
				}
				if err := w.WriteString(md[k]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return nil
}

// Load replaces the store contents with the stream at path. The inverted
// index and value tables are rebuilt.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer f.Close()

	r := persistence.NewReader(f)

	count, err := r.ReadUint64()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}

	records := make(map[core.VectorID]core.Metadata, count)
	for i := uint64(0); i < count; i++ {
		rawID, err := r.ReadUint64()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrIO, err)
		}
		numKV, err := r.ReadUint64()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrIO, err)
		}
		md := make(core.Metadata, numKV)
		for j := uint64(0); j < numKV; j++ {
			key, err := r.ReadString(maxStringLen)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrIO, err)
			}
			value, err := r.ReadString(maxStringLen)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrIO, err)
			}
			md[key] = value
		}
		records[core.VectorID(rawID)] = md
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[core.VectorID]core.Metadata, len(records))
	s.inverted = make(map[string]map[string]*roaring64.Bitmap)
	s.values = make(map[string][]string)
	for id, md := range records {
		s.records[id] = md
		s.indexLocked(id, md)
	}
	return nil
}

func toIDs(bm *roaring64.Bitmap) []core.VectorID {
	if bm.IsEmpty() {
		return nil
	}
	raw := bm.ToArray()
	out := make([]core.VectorID, len(raw))
	for i, v := range raw {
		out[i] = core.VectorID(v)
	}
	return out
}
