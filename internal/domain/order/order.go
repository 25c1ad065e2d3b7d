package order

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/product"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is an immutable record of a checkout. Only Status changes after
// creation.
type Order struct {
	ID              string            `json:"id"`
	Number          int64             `json:"number"`
	CustomerID      string            `json:"customerId,omitempty"`
	Email           string            `json:"email"`
	CustomerName    string            `json:"customerName,omitempty"`
	BillingAddress  *customer.Address `json:"billingAddress,omitempty"`
	ShippingAddress *customer.Address `json:"shippingAddress,omitempty"`
	Lines           []Line            `json:"lines"`
	Currency        string            `json:"currency"`
	Zone            string            `json:"zone"`
	FXRateUsed      decimal.Decimal   `json:"fxRateUsed"`
	Totals          Totals            `json:"totals"`
	CouponCode      string            `json:"couponCode,omitempty"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Line is a snapshot of one purchased variant taken at order time.
type Line struct {
	ProductID       string          `json:"productId"`
	VariantID       string          `json:"variantId"`
	SKU             string          `json:"sku"`
	Title           string          `json:"title"`
	Image           string          `json:"image,omitempty"`
	Options         product.Options `json:"options,omitempty"`
	Quantity        int             `json:"qty"`
	UnitPriceExVat  decimal.Decimal `json:"unitPriceExVat"`
	VATPercent      decimal.Decimal `json:"vatPercent"`
	LineExVat       decimal.Decimal `json:"lineExVat"`
	LineVat         decimal.Decimal `json:"lineVat"`
	LineTotalIncVat decimal.Decimal `json:"lineTotalIncVat"`
}

// Totals is the money breakdown of an order. Every amount except
// GrandTotalDisplay is in the store's base currency.
type Totals struct {
	SubtotalExVat     decimal.Decimal `json:"subtotalExVat"`
	VATTotal          decimal.Decimal `json:"vatTotal"`
	Shipping          decimal.Decimal `json:"shipping"`
	Discount          decimal.Decimal `json:"discount"`
	GrandTotal        decimal.Decimal `json:"grandTotal"`
	GrandTotalDisplay decimal.Decimal `json:"grandTotalDisplay"`
}

// DisplayNumber renders the customer-facing order number.
func (o *Order) DisplayNumber() string {
	if o.Number == 0 {
		return o.ID
	}
	return "#" + strconv.FormatInt(o.Number, 10)
}

// OwnedBy reports whether the order belongs to the given account or email.
// Emails compare case-insensitively, as the account order list does.
func (o *Order) OwnedBy(customerID, email string) bool {
	if customerID != "" && o.CustomerID == customerID {
		return true
	}
	return email != "" && strings.EqualFold(o.Email, email)
}

// Filter narrows the back-office order list.
type Filter struct {
	Status Status
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// Page is one page of a filtered order list.
type Page struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

// Repository persists orders.
type Repository interface {
	// Create inserts o and fills in Number and timestamps.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetForUpdate loads and locks the order for the rest of the transaction.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	List(ctx context.Context, f Filter) ([]Order, int, error)
	ListByCustomer(ctx context.Context, customerID, email string) ([]Order, error)
}

// UnitOfWork exposes repositories bound to a single transaction.
type UnitOfWork interface {
	Products() product.Repository
	Orders() Repository
	Customers() customer.Repository
	Coupons() coupon.Repository
	Events() EventRecorder
}

// Transactor runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
