package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Status is the publication state of a product.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Slug           string          `json:"slug"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category,omitempty"`
	Images         []string        `json:"images"`
	BasePriceExVat decimal.Decimal `json:"basePriceExVat"`
	// VATPercent overrides the store rate for this product, e.g. zero-rated goods.
	VATPercent *decimal.Decimal `json:"vatPercent,omitempty"`
	Status     Status           `json:"status"`
	Variants   []Variant        `json:"variants"`
}

// Variant is a purchasable SKU of a product with its own stock count.
type Variant struct {
	ID         string           `json:"id"`
	SKU        string           `json:"sku"`
	Options    Options          `json:"options"`
	Stock      int              `json:"stock"`
	PriceExVat *decimal.Decimal `json:"priceExVat,omitempty"`
}

// Option is a single named attribute of a variant, e.g. size=M.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Options is an ordered attribute bag.
type Options []Option

// Get returns the value of the named option.
func (o Options) Get(name string) (string, bool) {
	for _, opt := range o {
		if strings.EqualFold(opt.Name, name) {
			return opt.Value, true
		}
	}
	return "", false
}

// String renders the options as "M / Red".
func (o Options) String() string {
	vals := make([]string, 0, len(o))
	for _, opt := range o {
		if opt.Value != "" {
			vals = append(vals, opt.Value)
		}
	}
	return strings.Join(vals, " / ")
}

// Variant resolves a variant by id, falling back to SKU.
func (p *Product) Variant(ref string) (*Variant, bool) {
	if ref == "" {
		return nil, false
	}
	for i := range p.Variants {
		if p.Variants[i].ID == ref {
			return &p.Variants[i], true
		}
	}
	for i := range p.Variants {
		if p.Variants[i].SKU == ref {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// UnitPriceExVat is the price charged for one unit of v: the variant's
// override when set, otherwise the product's base price.
func (p *Product) UnitPriceExVat(v *Variant) decimal.Decimal {
	if v != nil && v.PriceExVat != nil {
		return *v.PriceExVat
	}
	return p.BasePriceExVat
}

// EffectiveVATPercent returns the product's VAT override or storeRate.
func (p *Product) EffectiveVATPercent(storeRate decimal.Decimal) decimal.Decimal {
	if p.VATPercent != nil {
		return *p.VATPercent
	}
	return storeRate
}

// Image returns the first product image, if any.
func (p *Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Repository defines catalog reads and the stock mutations used by checkout.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// DecrementStock removes qty units from the variant only if at least qty
	// are available. It reports false without error when stock is short.
	DecrementStock(ctx context.Context, productID, variantID string, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID, variantID string, qty int) error
	AvailableStock(ctx context.Context, productID, variantID string) (int, error)
}
