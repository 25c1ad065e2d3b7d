package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
)

type orderItemBody struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"qty"`
	// UnitPriceExVat is accepted from older carts and ignored for pricing.
	UnitPriceExVat *decimal.Decimal `json:"unitPriceExVat,omitempty"`
}

type placeOrderBody struct {
	Email           string            `json:"email"`
	CustomerName    string            `json:"customerName"`
	Items           []orderItemBody   `json:"items"`
	Currency        string            `json:"currency"`
	Zone            string            `json:"zone"`
	BillingAddress  *customer.Address `json:"billingAddress"`
	ShippingAddress *customer.Address `json:"shippingAddress"`
	CouponCode      string            `json:"couponCode"`
	SaveAddresses   bool              `json:"saveAddresses"`
}

func (b placeOrderBody) toRequest(p auth.Principal, signedIn bool) order.PlaceOrderRequest {
	items := make([]order.ItemRequest, len(b.Items))
	for i, it := range b.Items {
		items[i] = order.ItemRequest{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Quantity:       it.Quantity,
			UnitPriceExVat: it.UnitPriceExVat,
		}
	}

	req := order.PlaceOrderRequest{
		Email:           b.Email,
		CustomerName:    b.CustomerName,
		Items:           items,
		Currency:        b.Currency,
		Zone:            b.Zone,
		BillingAddress:  b.BillingAddress,
		ShippingAddress: b.ShippingAddress,
		CouponCode:      b.CouponCode,
		SaveAddresses:   b.SaveAddresses,
	}
	if signedIn {
		req.CustomerID = p.CustomerID
		if strings.TrimSpace(req.Email) == "" {
			req.Email = p.Email
		}
	}
	return req
}

// placeOrder handles POST /api/orders. Guests and signed-in customers may
// both check out.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := decodeBody(w, r, &body); err != nil {
		writeAPIError(w, badRequest("", "malformed request body"))
		return
	}

	p, signedIn := auth.PrincipalFrom(r.Context())
	o, err := h.orders.PlaceOrder(r.Context(), body.toRequest(p, signedIn))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// getOrder handles GET /api/orders/{id} for the owner or staff.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if !p.IsStaff() && !o.OwnedBy(p.CustomerID, p.Email) {
		writeAPIError(w, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// accountOrders handles GET /api/account/orders.
func (h *Handler) accountOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListForCustomer(r.Context(), p.CustomerID, p.Email)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// adminListOrders handles GET /api/admin/orders.
func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireStaff(w, r); !ok {
		return
	}

	f, apiErr, ok := parseFilter(r)
	if !ok {
		writeAPIError(w, apiErr)
		return
	}

	page, err := h.orders.List(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type statusBody struct {
	Status order.Status `json:"status"`
}

// adminUpdateOrder handles PATCH /api/admin/orders/{id}.
func (h *Handler) adminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireStaff(w, r); !ok {
		return
	}

	var body statusBody
	if err := decodeBody(w, r, &body); err != nil {
		writeAPIError(w, badRequest("", "malformed request body"))
		return
	}
	if body.Status == "" {
		writeAPIError(w, badRequest("status", "status is required"))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// parseFilter reads page, limit, status, date_from and date_to. Dates are
// YYYY-MM-DD (UTC) or RFC 3339; a bare date_to covers that whole day.
func parseFilter(r *http.Request) (order.Filter, apiError, bool) {
	q := r.URL.Query()
	var f order.Filter

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"limit", &f.Limit}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badRequest(p.name, p.name+" must be a non-negative integer"), false
		}
		*p.dst = n
	}

	f.Status = order.Status(strings.ToLower(q.Get("status")))

	if v := q.Get("date_from"); v != "" {
		from, _, err := parseDate(v)
		if err != nil {
			return f, badRequest("date_from", "invalid date"), false
		}
		f.From = &from
	}
	if v := q.Get("date_to"); v != "" {
		to, dateOnly, err := parseDate(v)
		if err != nil {
			return f, badRequest("date_to", "invalid date"), false
		}
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
		f.To = &to
	}
	return f, apiError{}, true
}

func parseDate(v string) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true, nil
	}
	t, err = time.Parse(time.RFC3339, v)
	return t.UTC(), false, err
}
