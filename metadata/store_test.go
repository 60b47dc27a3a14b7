package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb/core"
)

func TestSetGetRemove(t *testing.T) {
	s := NewStore()

	s.Set(1, core.Metadata{"label": "cat", "source": "img"})

	md, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "cat", md["label"])

	// Returned map is a copy.
	md["label"] = "dog"
	md2, _ := s.Get(1)
	assert.Equal(t, "cat", md2["label"])

	assert.True(t, s.Has(1))
	assert.True(t, s.Remove(1))
	assert.False(t, s.Has(1))
	assert.False(t, s.Remove(1))
}

func TestSetIdempotent(t *testing.T) {
	s := NewStore()

	s.Set(1, core.Metadata{"label": "cat"})
	s.Set(1, core.Metadata{"label": "dog"})

	// Stale inverted entries are gone.
	assert.Empty(t, s.FindByKeyValue("label", "cat"))
	assert.Equal(t, []core.VectorID{1}, s.FindByKeyValue("label", "dog"))
	assert.Equal(t, 1, s.Len())
}

func TestFindByKeyValue(t *testing.T) {
	s := NewStore()
	s.Set(3, core.Metadata{"label": "cat"})
	s.Set(1, core.Metadata{"label": "cat"})
	s.Set(2, core.Metadata{"label": "dog"})

	assert.Equal(t, []core.VectorID{1, 3}, s.FindByKeyValue("label", "cat"))
	assert.Empty(t, s.FindByKeyValue("label", "bird"))
	assert.Empty(t, s.FindByKeyValue("absent", "x"))
}

func TestFindByValuePrefix(t *testing.T) {
	s := NewStore()
	s.Set(1, core.Metadata{"path": "img/cats/a.jpg"})
	s.Set(2, core.Metadata{"path": "img/dogs/b.jpg"})
	s.Set(3, core.Metadata{"path": "txt/readme"})

	assert.Equal(t, []core.VectorID{1, 2}, s.FindByValuePrefix("path", "img/"))
	assert.Equal(t, []core.VectorID{1}, s.FindByValuePrefix("path", "img/cats"))
	assert.Equal(t, []core.VectorID{1, 2, 3}, s.FindByValuePrefix("path", ""))
	assert.Empty(t, s.FindByValuePrefix("path", "zzz"))
}

func TestFilterIDs(t *testing.T) {
	s := NewStore()
	s.Set(1, core.Metadata{"n": "1"})
	s.Set(2, core.Metadata{"n": "2"})

	got := s.FilterIDs([]core.VectorID{1, 2, 3}, func(md core.Metadata) bool {
		return md["n"] == "2"
	})
	assert.Equal(t, []core.VectorID{2}, got)
}

func TestBatch(t *testing.T) {
	s := NewStore()

	err := s.SetBatch([]core.VectorID{1}, []core.Metadata{{}, {}})
	assert.Error(t, err)

	require.NoError(t, s.SetBatch(
		[]core.VectorID{1, 2},
		[]core.Metadata{{"a": "x"}, {"a": "y"}},
	))

	got := s.GetBatch([]core.VectorID{1, 2, 9})
	require.Len(t, got, 3)
	assert.Equal(t, "x", got[0]["a"])
	assert.Equal(t, "y", got[1]["a"])
	assert.Nil(t, got[2])
}

func TestKeys(t *testing.T) {
	s := NewStore()
	s.Set(1, core.Metadata{"b": "1", "a": "2"})
	assert.Equal(t, []string{"a", "b"}, s.Keys())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.metadata")

	s := NewStore()
	s.Set(1, core.Metadata{"label": "cat", "path": "img/a"})
	s.Set(2, core.Metadata{})
	s.Set(3, core.Metadata{"label": "dog"})
	require.NoError(t, s.Save(path))

	restored := NewStore()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 3, restored.Len())

	md, ok := restored.Get(1)
	require.True(t, ok)
	assert.Equal(t, "cat", md["label"])

	// Inverted index and prefix table rebuilt.
	assert.Equal(t, []core.VectorID{3}, restored.FindByKeyValue("label", "dog"))
	assert.Equal(t, []core.VectorID{1}, restored.FindByValuePrefix("path", "img"))
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.metadata")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	err := NewStore().Load(path)
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestLoadMissing(t *testing.T) {
	err := NewStore().Load(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, core.ErrIO)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Set(1, core.Metadata{"a": "b"})
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.FindByKeyValue("a", "b"))
}
