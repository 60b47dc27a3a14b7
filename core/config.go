package core

import (
	"fmt"
	"strings"
)

// IndexType is an advisory hint forwarded to the selected backend.
type IndexType int

// Supported index types.
const (
	IndexTypeFlat IndexType = iota
	IndexTypeIVFFlat
	IndexTypeIVFPQ
	IndexTypeHNSW
	IndexTypeAuto
)

// String returns the canonical name of the index type.
func (t IndexType) String() string {
	switch t {
	case IndexTypeFlat:
		return "flat"
	case IndexTypeIVFFlat:
		return "ivf_flat"
	case IndexTypeIVFPQ:
		return "ivf_pq"
	case IndexTypeHNSW:
		return "hnsw"
	case IndexTypeAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseIndexType parses a canonical index type name.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToLower(s) {
	case "flat":
		return IndexTypeFlat, nil
	case "ivf_flat":
		return IndexTypeIVFFlat, nil
	case "ivf_pq":
		return IndexTypeIVFPQ, nil
	case "hnsw":
		return IndexTypeHNSW, nil
	case "auto":
		return IndexTypeAuto, nil
	default:
		return 0, fmt.Errorf("%w: unknown index type %q", ErrInvalidConfig, s)
	}
}

// Metric selects the distance semantics of a database.
type Metric int

// Supported metrics.
const (
	MetricL2 Metric = iota
	MetricInnerProduct
	MetricCosine
)

// String returns the canonical name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricInnerProduct:
		return "inner_product"
	case MetricCosine:
		return "cosine"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric parses a canonical metric name.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "l2":
		return MetricL2, nil
	case "inner_product":
		return MetricInnerProduct, nil
	case "cosine":
		return MetricCosine, nil
	default:
		return 0, fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, s)
	}
}

// Ascending reports whether smaller scores are better under m.
func (m Metric) Ascending() bool {
	return m != MetricInnerProduct
}

// Config is the frozen configuration of a database instance.
type Config struct {
	// Dimension is the fixed vector dimensionality. Required, > 0.
	Dimension uint32

	// Metric selects the distance semantics.
	Metric Metric

	// IndexType is an advisory hint forwarded to the backend.
	IndexType IndexType

	// IVF build parameters.
	NList uint32
	M     uint32
	NBits uint32

	// HNSW build parameters.
	HnswM          uint32
	EfConstruction uint32

	// Algorithm names the ANN backend plugin. Empty or "auto" selects the
	// brute-force default.
	Algorithm string

	// BuildParams and QueryParams are opaque key/value pairs forwarded to
	// the backend.
	BuildParams map[string]string
	QueryParams map[string]string
}

// DefaultConfig returns a config with the default tuning parameters and the
// given dimension.
func DefaultConfig(dimension uint32) Config {
	return Config{
		Dimension:      dimension,
		Metric:         MetricL2,
		IndexType:      IndexTypeAuto,
		NList:          100,
		M:              8,
		NBits:          8,
		HnswM:          16,
		EfConstruction: 200,
	}
}

// Validate checks the config for structural errors.
func (c Config) Validate() error {
	if c.Dimension == 0 {
		return fmt.Errorf("%w: dimension must be > 0", ErrInvalidConfig)
	}
	switch c.Metric {
	case MetricL2, MetricInnerProduct, MetricCosine:
	default:
		return fmt.Errorf("%w: unknown metric %d", ErrInvalidConfig, int(c.Metric))
	}
	switch c.IndexType {
	case IndexTypeFlat, IndexTypeIVFFlat, IndexTypeIVFPQ, IndexTypeHNSW, IndexTypeAuto:
	default:
		return fmt.Errorf("%w: unknown index type %d", ErrInvalidConfig, int(c.IndexType))
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	if c.BuildParams != nil {
		out.BuildParams = make(map[string]string, len(c.BuildParams))
		for k, v := range c.BuildParams {
			out.BuildParams[k] = v
		}
	}
	if c.QueryParams != nil {
		out.QueryParams = make(map[string]string, len(c.QueryParams))
		for k, v := range c.QueryParams {
			out.QueryParams[k] = v
		}
	}
	return out
}
