package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		numFiles    int
		ing         = defaultIngester()
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&numFiles, "files", 3, "number of couponbaseN.gz files to read")
	flag.IntVar(&ing.minFiles, "min-files", ing.minFiles, "files a code must appear in to be accepted")
	flag.UintVar(&ing.capacity, "bloom-capacity", ing.capacity, "expected codes per file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("STOREFRONT_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if ing.minFiles < 2 || ing.minFiles > numFiles {
		slog.Error("--min-files must be between 2 and --files", slog.Int("min_files", ing.minFiles))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, ing, dataDir, numFiles, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, ing *ingester, dataDir string, numFiles int, databaseURL string) error {
	files := make([]string, numFiles)
	for i := range numFiles {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	codes, err := ing.validCodes(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := postgres.NewSeeder(pool)
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	var written, inserted int
	for batch := range slices.Chunk(codes, writeBatchSize) {
		n, err := seeder.CopyCoupons(ctx, rulesFor(batch))
		if err != nil {
			return errors.Wrap(err, "write coupons to database")
		}
		written += len(batch)
		inserted += int(n)
		slog.Info("write progress",
			slog.Int("written", written),
			slog.Int("inserted", inserted),
			slog.Int("total", len(codes)),
		)
	}

	return nil
}
