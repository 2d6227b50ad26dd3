// Package config holds the engine tunables, loadable from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/flate"
	"gopkg.in/yaml.v3"
)

// Config is the set of recognized engine tunables.
type Config struct {
	// MemBlockNum is the number of entries in the active memtable
	// before it is frozen and flushed.
	MemBlockNum int `yaml:"mem_block_num" validate:"gte=1"`

	// TableCompactThreshold is the number of runs on one level that
	// triggers a compaction of that level.
	TableCompactThreshold int `yaml:"table_compact_threshold" validate:"gte=2"`

	// MergeFactor informs bloom filter sizing per level.
	MergeFactor int `yaml:"merge_factor" validate:"gte=2"`

	// CompressionLevel selects the Deflate level used by all writers:
	// "default", "fastest", "best", or a numeric level.
	CompressionLevel string `yaml:"compression_level" validate:"required"`

	// LogLevel sets the verbosity of the diagnostic sink.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MemBlockNum:           128,
		TableCompactThreshold: 4,
		MergeFactor:           4,
		CompressionLevel:      "default",
		LogLevel:              "info",
	}
}

var validate = validator.New()

// Validate checks the config against its struct tags and the
// compression level syntax.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.FlateLevel(); err != nil {
		return err
	}
	return nil
}

// FlateLevel maps CompressionLevel to a Deflate level.
func (c Config) FlateLevel() (int, error) {
	switch c.CompressionLevel {
	case "", "default":
		return flate.DefaultCompression, nil
	case "fastest":
		return flate.BestSpeed, nil
	case "best":
		return flate.BestCompression, nil
	}
	n, err := strconv.Atoi(c.CompressionLevel)
	if err != nil || n < flate.HuffmanOnly || n > flate.BestCompression {
		return 0, fmt.Errorf("config: invalid compression_level %q", c.CompressionLevel)
	}
	return n, nil
}

// Load reads a YAML config file, fills unset fields with defaults and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
