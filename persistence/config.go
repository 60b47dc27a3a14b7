package persistence

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vexdb/vexdb/core"
)

// SaveConfig writes cfg as plain text, one key=value per line. Enum values
// are stored as integer codes.
func SaveConfig(path string, cfg core.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	lines := []struct {
		key   string
		value uint32
	}{
		{"dimension", cfg.Dimension},
		{"index_type", uint32(cfg.IndexType)},
		{"metric", uint32(cfg.Metric)},
		{"nlist", cfg.NList},
		{"m", cfg.M},
		{"nbits", cfg.NBits},
		{"M", cfg.HnswM},
		{"efConstruction", cfg.EfConstruction},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s=%d\n", l.key, l.value); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// LoadConfig reads a config file written by SaveConfig. Fields absent from
// the file keep the values already present in cfg.
func LoadConfig(path string, cfg *core.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("malformed config line %q", line)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return fmt.Errorf("malformed config value for %q: %w", key, err)
		}
		v := uint32(n)
		switch strings.TrimSpace(key) {
		case "dimension":
			cfg.Dimension = v
		case "index_type":
			cfg.IndexType = core.IndexType(v)
		case "metric":
			cfg.Metric = core.Metric(v)
		case "nlist":
			cfg.NList = v
		case "nbits":
			cfg.NBits = v
		case "m":
			cfg.M = v
		case "M":
			cfg.HnswM = v
		case "efConstruction":
			cfg.EfConstruction = v
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return cfg.Validate()
}
