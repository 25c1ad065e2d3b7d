package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, title, slug, description, category, images, base_price_ex_vat, vat_percent, status`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE status = 'published' ORDER BY title, id`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1`

	listVariantsSQL = `SELECT product_id, id, sku, options, stock, price_ex_vat
		FROM variants WHERE product_id = ANY($1) ORDER BY product_id, position, id`

	decrementStockSQL = `UPDATE variants SET stock = stock - $3
		WHERE product_id = $1 AND id = $2 AND stock >= $3`

	incrementStockSQL = `UPDATE variants SET stock = stock + $3
		WHERE product_id = $1 AND id = $2`

	availableStockSQL = `SELECT stock FROM variants WHERE product_id = $1 AND id = $2`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db dbtx
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{db: pool}
}

// List returns all published products with their variants.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetByID returns a single product with its variants, drafts included.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	products := []product.Product{p}
	if err := r.attachVariants(ctx, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// DecrementStock reserves qty units. The WHERE clause makes the check and
// the write a single atomic statement.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID, variantID string, qty int) (bool, error) {
	tag, err := r.db.Exec(ctx, decrementStockSQL, productID, variantID, qty)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of %s/%s: %w", productID, variantID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementStock returns qty units to the variant.
func (r *ProductRepository) IncrementStock(ctx context.Context, productID, variantID string, qty int) error {
	tag, err := r.db.Exec(ctx, incrementStockSQL, productID, variantID, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock of %s/%s: %w", productID, variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// AvailableStock returns the current stock of a variant.
func (r *ProductRepository) AvailableStock(ctx context.Context, productID, variantID string) (int, error) {
	var stock int
	err := r.db.QueryRow(ctx, availableStockSQL, productID, variantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("reading stock of %s/%s: %w", productID, variantID, err)
	}
	return stock, nil
}

func (r *ProductRepository) attachVariants(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	byID := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		byID[p.ID] = i
	}

	rows, err := r.db.Query(ctx, listVariantsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			v         product.Variant
		)
		if err := rows.Scan(&productID, &v.ID, &v.SKU, &v.Options, &v.Stock, &v.PriceExVat); err != nil {
			return fmt.Errorf("scanning variant: %w", err)
		}
		if i, ok := byID[productID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing variants: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &p.Description, &p.Category,
		&p.Images, &p.BasePriceExVat, &p.VATPercent, &status,
	)
	p.Status = product.Status(status)
	return p, err
}
