package main

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/order"
)

// orderSource streams orders matching a filter.
type orderSource interface {
	Each(ctx context.Context, f order.Filter, fn func(*order.Order) error) error
}

var orderHeader = []string{
	"number", "id", "created_at", "status", "email", "customer_id", "currency", "zone",
	"fx_rate", "subtotal_ex_vat", "vat_total", "shipping", "discount", "grand_total",
	"grand_total_display", "coupon_code", "items",
}

var lineHeader = []string{
	"number", "id", "created_at", "status", "currency", "product_id", "variant_id", "sku",
	"title", "options", "qty", "unit_price_ex_vat", "vat_percent", "line_ex_vat", "line_vat",
	"line_total_inc_vat",
}

// exporter writes orders as gzip-compressed CSV, one row per order or one
// row per order line.
type exporter struct {
	source orderSource
	lines  bool
}

// Export writes every order matching f to w and returns the number of rows.
// Reading from the database and compressing run concurrently.
func (e *exporter) Export(ctx context.Context, w io.Writer, f order.Filter) (int, error) {
	orders := make(chan *order.Order, 64)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(orders)
		return e.source.Each(ctx, f, func(o *order.Order) error {
			select {
			case orders <- o:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	var rows int
	g.Go(func() error {
		gz := pgzip.NewWriter(w)
		cw := csv.NewWriter(gz)

		header := orderHeader
		if e.lines {
			header = lineHeader
		}
		if err := cw.Write(header); err != nil {
			return errors.Wrap(err, "write header")
		}

		for o := range orders {
			records := [][]string{orderRecord(o)}
			if e.lines {
				records = lineRecords(o)
			}
			if err := cw.WriteAll(records); err != nil {
				return errors.Wrapf(err, "write order %s", o.ID)
			}
			rows += len(records)
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			return errors.Wrap(err, "flush csv")
		}
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, "close gzip")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return rows, err
	}
	return rows, nil
}

func orderRecord(o *order.Order) []string {
	var items int
	for _, l := range o.Lines {
		items += l.Quantity
	}
	return []string{
		strconv.FormatInt(o.Number, 10),
		o.ID,
		o.CreatedAt.UTC().Format(time.RFC3339),
		string(o.Status),
		o.Email,
		o.CustomerID,
		o.Currency,
		o.Zone,
		o.FXRateUsed.String(),
		o.Totals.SubtotalExVat.StringFixed(2),
		o.Totals.VATTotal.StringFixed(2),
		o.Totals.Shipping.StringFixed(2),
		o.Totals.Discount.StringFixed(2),
		o.Totals.GrandTotal.StringFixed(2),
		o.Totals.GrandTotalDisplay.StringFixed(2),
		o.CouponCode,
		strconv.Itoa(items),
	}
}

func lineRecords(o *order.Order) [][]string {
	records := make([][]string, len(o.Lines))
	for i, l := range o.Lines {
		records[i] = []string{
			strconv.FormatInt(o.Number, 10),
			o.ID,
			o.CreatedAt.UTC().Format(time.RFC3339),
			string(o.Status),
			o.Currency,
			l.ProductID,
			l.VariantID,
			l.SKU,
			l.Title,
			l.Options.String(),
			strconv.Itoa(l.Quantity),
			l.UnitPriceExVat.StringFixed(2),
			l.VATPercent.String(),
			l.LineExVat.StringFixed(2),
			l.LineVat.StringFixed(2),
			l.LineTotalIncVat.StringFixed(2),
		}
	}
	return records
}
