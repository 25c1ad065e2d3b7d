// Package handler implements the storefront HTTP API on net/http.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// OrderService is the order engine as seen by the API.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListForCustomer(ctx context.Context, customerID, email string) ([]order.Order, error)
	List(ctx context.Context, f order.Filter) (*order.Page, error)
	UpdateStatus(ctx context.Context, id string, next order.Status) (*order.Order, error)
}

// ProductReader serves catalog reads.
type ProductReader interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// CouponLookup checks a coupon without redeeming it.
type CouponLookup interface {
	Lookup(ctx context.Context, code string) (*coupon.Rule, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
}

// Handler serves the storefront API.
type Handler struct {
	orders       OrderService
	products     ProductReader
	settings     settings.Provider
	coupons      CouponLookup
	imageBaseURL string
}

// NewHandler constructs a Handler.
func NewHandler(
	cfg Config,
	orders OrderService,
	products ProductReader,
	sp settings.Provider,
	coupons CouponLookup,
) *Handler {
	return &Handler{
		orders:       orders,
		products:     products,
		settings:     sp,
		coupons:      coupons,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/orders", h.placeOrder},
		{"GET /api/orders/{id}", h.getOrder},
		{"GET /api/account/orders", h.accountOrders},
		{"GET /api/admin/orders", h.adminListOrders},
		{"PATCH /api/admin/orders/{id}", h.adminUpdateOrder},
		{"GET /api/products", h.listProducts},
		{"GET /api/products/{id}", h.getProduct},
		{"GET /api/settings", h.publicSettings},
		{"GET /api/coupons/validate", h.validateCoupon},
	}
	for _, rt := range routes {
		_, path, _ := strings.Cut(rt.pattern, " ")
		mux.Handle(rt.pattern, httpmiddleware.RouteTag(path, rt.handler))
	}
}

