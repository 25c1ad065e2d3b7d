package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		out         string
		status      string
		from        string
		to          string
		lines       bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&out, "out", "", "output file, - for stdout (default orders-<date>.csv.gz)")
	flag.StringVar(&status, "status", "", "only export orders in this status")
	flag.StringVar(&from, "from", "", "first day to export, YYYY-MM-DD")
	flag.StringVar(&to, "to", "", "last day to export, YYYY-MM-DD (inclusive)")
	flag.BoolVar(&lines, "lines", false, "write one row per order line instead of per order")
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

	f, err := parseFilter(status, from, to)
	if err != nil {
		slog.Error("invalid filter", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if out == "" {
		out = "orders-" + time.Now().Format("20060102") + ".csv.gz"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, out, f, lines); err != nil {
		slog.Error("order export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, out string, f order.Filter, lines bool) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	var w io.Writer = os.Stdout
	if out != "-" {
		file, err := os.Create(out)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer func() { _ = file.Close() }()
		w = file
	}

	e := &exporter{source: postgres.NewOrderRepository(pool), lines: lines}
	rows, err := e.Export(ctx, w, f)
	if err != nil {
		return errors.Wrap(err, "export orders")
	}

	if file, ok := w.(*os.File); ok && file != os.Stdout {
		if err := file.Sync(); err != nil {
			return errors.Wrap(err, "sync output file")
		}
	}

	slog.Info("order export completed", slog.String("out", out), slog.Int("rows", rows))
	return nil
}

// parseFilter builds the export filter. to is inclusive of the whole day.
func parseFilter(status, from, to string) (order.Filter, error) {
	var f order.Filter

	if status != "" {
		f.Status = order.Status(strings.ToLower(status))
		if !f.Status.Valid() {
			return f, errors.Errorf("unknown status %q", status)
		}
	}
	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return f, errors.Wrap(err, "parse --from")
		}
		f.From = &t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return f, errors.Wrap(err, "parse --to")
		}
		t = t.AddDate(0, 0, 1)
		f.To = &t
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return f, errors.New("--from must not be after --to")
	}
	return f, nil
}
