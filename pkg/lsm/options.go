package lsm

import (
	"github.com/klauspost/compress/flate"

	"github.com/GZTimeWalker/YYDB/pkg/config"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
	"github.com/GZTimeWalker/YYDB/pkg/metrics"
)

// Options configures a table's storage stack.
type Options struct {
	// MemBlockNum is the entry count in the active memtable that
	// triggers a freeze.
	MemBlockNum int

	// CompactThreshold is the number of runs on one level that
	// triggers a compaction.
	CompactThreshold int

	// MergeFactor informs bloom filter sizing per level.
	MergeFactor int

	// FlateLevel is the Deflate level used by all writers.
	FlateLevel int

	// CacheCapacity bounds the hot-read cache; 0 disables it.
	CacheCapacity int

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultOptions returns the default table configuration.
func DefaultOptions() Options {
	return Options{
		MemBlockNum:      128,
		CompactThreshold: 4,
		MergeFactor:      4,
		FlateLevel:       flate.DefaultCompression,
		CacheCapacity:    4096,
		Logger:           logging.DefaultLogger(),
		Metrics:          metrics.Default(),
	}
}

// OptionsFromConfig maps a validated config onto table options.
func OptionsFromConfig(cfg config.Config, logger logging.Logger, reg *metrics.Registry) (Options, error) {
	level, err := cfg.FlateLevel()
	if err != nil {
		return Options{}, err
	}

	opts := DefaultOptions()
	opts.MemBlockNum = cfg.MemBlockNum
	opts.CompactThreshold = cfg.TableCompactThreshold
	opts.MergeFactor = cfg.MergeFactor
	opts.FlateLevel = level
	if logger != nil {
		logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
		opts.Logger = logger
	}
	if reg != nil {
		opts.Metrics = reg
	}
	return opts, nil
}
