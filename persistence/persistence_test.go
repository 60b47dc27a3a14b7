package persistence

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb/core"
)

func TestBinaryRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf)
	require.NoError(t, w.WriteUint64(42))
	require.NoError(t, w.WriteUint32(7))
	require.NoError(t, w.WriteFloat32Slice([]float32{1.5, -2.25}))
	require.NoError(t, w.WriteString("hello"))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), u64)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), u32)

	fs, err := r.ReadFloat32Slice(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.25}, fs)

	s, err := r.ReadString(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestReadStringLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteString("oversized"))
	require.NoError(t, w.Flush())

	_, err := NewReader(&buf).ReadString(3)
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")

	require.NoError(t, WriteFileAtomic(path, func(w *Writer) error {
		return w.WriteUint64(99)
	}))

	var got uint64
	require.NoError(t, ReadFile(path, func(r *Reader) error {
		v, err := r.ReadUint64()
		got = v
		return err
	}))
	assert.Equal(t, uint64(99), got)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.config")

	cfg := core.DefaultConfig(128)
	cfg.Metric = core.MetricCosine
	cfg.IndexType = core.IndexTypeIVFFlat
	cfg.NList = 32
	cfg.HnswM = 24

	require.NoError(t, SaveConfig(path, cfg))

	loaded := core.DefaultConfig(1)
	require.NoError(t, LoadConfig(path, &loaded))

	assert.Equal(t, cfg.Dimension, loaded.Dimension)
	assert.Equal(t, cfg.Metric, loaded.Metric)
	assert.Equal(t, cfg.IndexType, loaded.IndexType)
	assert.Equal(t, uint32(32), loaded.NList)
	assert.Equal(t, uint32(24), loaded.HnswM)
	assert.Equal(t, cfg.M, loaded.M)
}

func TestLoadConfigCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.config")
	require.NoError(t, os.WriteFile(path, []byte("dimension=abc\n"), 0o644))

	cfg := core.DefaultConfig(1)
	assert.Error(t, LoadConfig(path, &cfg))
}
