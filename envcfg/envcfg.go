// Package envcfg builds a database configuration from environment variables,
// with optional .env file loading for local development.
package envcfg

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/vexdb/vexdb/core"
)

// spec mirrors core.Config with environment bindings. With the default
// prefix "VEXDB", the dimension comes from VEXDB_DIMENSION and so on.
type spec struct {
	Dimension      uint32 `envconfig:"DIMENSION" required:"true"`
	Metric         string `envconfig:"METRIC" default:"l2"`
	IndexType      string `envconfig:"INDEX_TYPE" default:"auto"`
	NList          uint32 `envconfig:"NLIST" default:"100"`
	M              uint32 `envconfig:"M" default:"8"`
	NBits          uint32 `envconfig:"NBITS" default:"8"`
	HnswM          uint32 `envconfig:"HNSW_M" default:"16"`
	EfConstruction uint32 `envconfig:"EF_CONSTRUCTION" default:"200"`
	Algorithm      string `envconfig:"ALGORITHM" default:""`
}

// DefaultPrefix is the environment variable prefix used by Load.
const DefaultPrefix = "VEXDB"

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored so production deployments need none.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load builds a core.Config from the environment using DefaultPrefix.
func Load() (core.Config, error) {
	return LoadWithPrefix(DefaultPrefix)
}

// LoadWithPrefix builds a core.Config from PREFIX_* environment variables.
func LoadWithPrefix(prefix string) (core.Config, error) {
	var s spec
	if err := envconfig.Process(prefix, &s); err != nil {
		return core.Config{}, err
	}

	metric, err := core.ParseMetric(s.Metric)
	if err != nil {
		return core.Config{}, err
	}
	indexType, err := core.ParseIndexType(s.IndexType)
	if err != nil {
		return core.Config{}, err
	}

	cfg := core.DefaultConfig(s.Dimension)
	cfg.Metric = metric
	cfg.IndexType = indexType
	cfg.NList = s.NList
	cfg.M = s.M
	cfg.NBits = s.NBits
	cfg.HnswM = s.HnswM
	cfg.EfConstruction = s.EfConstruction
	cfg.Algorithm = s.Algorithm

	return cfg, cfg.Validate()
}
