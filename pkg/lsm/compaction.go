package lsm

import (
	"errors"
	"fmt"
	"time"

	"github.com/GZTimeWalker/YYDB/pkg/codec"
	"github.com/GZTimeWalker/YYDB/pkg/logging"
)

// compactBatch merges the locked input runs of one level into a single
// run one level deeper. Inputs arrive newest-first, so the first
// occurrence of a key is authoritative. Tombstones are dropped only
// when the input level is the deepest populated level, so no live run
// sits at or below the output level.
func compactBatch(manifest *Manifest, batch CompactBatch, opts Options) (err error) {
	start := time.Now()
	logger := opts.Logger.With(
		logging.Component("compaction"),
		logging.RunLevel(batch.Level))
	timer := logging.StartOp(logger, "compaction", logging.Count(len(batch.Runs)))

	defer func() {
		if opts.Metrics != nil {
			opts.Metrics.RecordCompaction(batch.Level, err == nil, time.Since(start))
		}
		if err != nil {
			// Failed compaction commits nothing; inputs stay live.
			for _, sst := range batch.Runs {
				sst.Unlock()
			}
			timer.Fail(err)
		}
	}()

	// A corrupt input must not be folded silently into a new run.
	for _, sst := range batch.Runs {
		if err = sst.VerifyCompressedChecksum(); err != nil {
			if errors.Is(err, ErrChecksumMismatch) && opts.Metrics != nil {
				opts.Metrics.ChecksumErrorsTotal.Inc()
			}
			return fmt.Errorf("input %s: %w", sst.meta.Key, err)
		}
	}

	outputLevel := batch.Level + 1
	terminal := batch.Level >= manifest.MaxPopulatedLevel()

	merged, err := mergeRuns(batch.Runs, terminal)
	if err != nil {
		return err
	}

	var output *SSTable
	if len(merged) > 0 {
		outKey := NewSSTableKey(outputLevel)
		output, err = ArchiveRun(manifest.Factory(), outKey, merged, opts)
		if err != nil {
			return err
		}
	}

	if err = manifest.ReplaceRuns(output, batch.Runs); err != nil {
		return err
	}

	timer.Done(
		logging.Int("entries", len(merged)),
		logging.Bool("terminal", terminal))
	return nil
}

type mergeSource struct {
	it  *SSTableIter
	cur codec.Entry
	ok  bool
}

func (s *mergeSource) advance() error {
	e, ok, err := s.it.Next()
	if err != nil {
		s.ok = false
		return err
	}
	s.cur, s.ok = e, ok
	return nil
}

// mergeRuns streams the inputs (newest-first) into a sorted,
// duplicate-free entry sequence.
func mergeRuns(runs []*SSTable, dropTombstones bool) ([]codec.Entry, error) {
	sources := make([]*mergeSource, 0, len(runs))
	defer func() {
		for _, s := range sources {
			s.it.Close()
		}
	}()

	for _, sst := range runs {
		it, err := sst.NewIter()
		if err != nil {
			return nil, fmt.Errorf("open input %s: %w", sst.meta.Key, err)
		}
		s := &mergeSource{it: it}
		sources = append(sources, s)
		if err := s.advance(); err != nil {
			return nil, fmt.Errorf("read input %s: %w", sst.meta.Key, err)
		}
	}

	var out []codec.Entry
	for {
		winner := -1
		for i, s := range sources {
			if !s.ok {
				continue
			}
			if winner < 0 || s.cur.Key < sources[winner].cur.Key {
				winner = i
			}
		}
		if winner < 0 {
			break
		}

		minKey := sources[winner].cur.Key
		entry := sources[winner].cur

		if !(dropTombstones && entry.IsTombstone()) {
			out = append(out, entry)
		}

		// Every input holding this key has been superseded.
		for i, s := range sources {
			if s.ok && s.cur.Key == minKey {
				if err := s.advance(); err != nil {
					return nil, fmt.Errorf("read input %s: %w", runs[i].meta.Key, err)
				}
			}
		}
	}

	return out, nil
}
