package envcfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vexdb/core"
)

func TestLoad(t *testing.T) {
	t.Setenv("VEXDB_DIMENSION", "128")
	t.Setenv("VEXDB_METRIC", "cosine")
	t.Setenv("VEXDB_INDEX_TYPE", "ivf_flat")
	t.Setenv("VEXDB_NLIST", "32")
	t.Setenv("VEXDB_ALGORITHM", "ivf_flat")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(128), cfg.Dimension)
	assert.Equal(t, core.MetricCosine, cfg.Metric)
	assert.Equal(t, core.IndexTypeIVFFlat, cfg.IndexType)
	assert.Equal(t, uint32(32), cfg.NList)
	assert.Equal(t, "ivf_flat", cfg.Algorithm)
	// Untouched knobs keep defaults.
	assert.Equal(t, uint32(16), cfg.HnswM)
}

func TestLoadMissingDimension(t *testing.T) {
	_, err := LoadWithPrefix("VEXDB_TEST_UNSET")
	assert.Error(t, err)
}

func TestLoadBadMetric(t *testing.T) {
	t.Setenv("VEXDB_DIMENSION", "8")
	t.Setenv("VEXDB_METRIC", "manhattan")

	_, err := Load()
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
