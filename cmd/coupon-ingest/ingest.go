package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const (
	progressEvery  = 10_000_000
	writeBatchSize = 10_000
)

// ingester finds codes that appear in at least minFiles of the input files.
// Pass 1 builds one bloom filter per file; pass 2 re-reads every file and
// keeps codes another file's filter also contains.
type ingester struct {
	capacity   uint
	fpr        float64
	minCodeLen int
	maxCodeLen int
	minFiles   int
}

func defaultIngester() *ingester {
	return &ingester{
		capacity:   120_000_000,
		fpr:        0.001,
		minCodeLen: 8,
		maxCodeLen: 10,
		minFiles:   2,
	}
}

func (ing *ingester) accepts(code string) bool {
	return len(code) >= ing.minCodeLen && len(code) <= ing.maxCodeLen
}

// validCodes runs both passes and returns the accepted codes sorted.
func (ing *ingester) validCodes(ctx context.Context, files []string) ([]string, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := ing.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding candidate codes")

	codes, err := ing.findValid(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find valid codes")
	}
	return codes, nil
}

func (ing *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(ing.capacity, ing.fpr)
			var count uint64

			if err := streamGzFile(ctx, path, func(code string) {
				if !ing.accepts(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValid marks each code with a bit per file it was seen in, provided some
// other file's filter also matches it, then keeps codes with enough bits.
func (ing *ingester) findValid(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			var count uint64

			if err := streamGzFile(ctx, path, func(code string) {
				if !ing.accepts(code) {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= ing.minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	if err := scanLines(ctx, gz, fn); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func scanLines(ctx context.Context, r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	return scanner.Err()
}
