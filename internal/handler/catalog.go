package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

// listProducts handles GET /api/products. Only published products are listed.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	for i := range products {
		h.prefixImages(&products[i])
	}
	writeJSON(w, http.StatusOK, products)
}

// getProduct handles GET /api/products/{id}. Drafts are not found.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if p.Status != product.StatusPublished {
		fail(w, r, product.ErrNotFound)
		return
	}
	h.prefixImages(p)
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) prefixImages(p *product.Product) {
	if h.imageBaseURL == "" {
		return
	}
	images := make([]string, len(p.Images))
	for i, img := range p.Images {
		if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
			images[i] = img
			continue
		}
		images[i] = strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(img, "/")
	}
	p.Images = images
}

type publicSettings struct {
	VATPercent          decimal.Decimal                       `json:"vatPercent"`
	BaseCurrency        string                                `json:"baseCurrency"`
	SupportedCurrencies []string                              `json:"supportedCurrencies"`
	FX                  map[string]decimal.Decimal            `json:"fx"`
	Shipping            map[string]map[string]decimal.Decimal `json:"shipping"`
	FreeShippingOver    map[string]decimal.Decimal            `json:"freeShippingOver"`
	StoreName           string                                `json:"storeName"`
	SupportEmail        string                                `json:"supportEmail"`
}

// publicSettings handles GET /api/settings. Shipping is expanded to every
// supported currency; the staff address is never exposed.
func (h *Handler) publicSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.settings.Get(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "load settings"))
		return
	}
	st = st.WithDefaults()

	free := st.FreeShippingOver
	if free == nil {
		free = map[string]decimal.Decimal{}
	}
	writeJSON(w, http.StatusOK, publicSettings{
		VATPercent:          st.VATPercent,
		BaseCurrency:        st.BaseCurrency,
		SupportedCurrencies: st.SupportedCurrencies,
		FX:                  st.FX,
		Shipping:            st.ShippingTable(),
		FreeShippingOver:    free,
		StoreName:           st.StoreName,
		SupportEmail:        st.SupportEmail,
	})
}

type couponSummary struct {
	Code        string          `json:"code"`
	Type        coupon.Type     `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Scope       coupon.Scope    `json:"scope"`
	ProductIDs  []string        `json:"productIds,omitempty"`
	Description string          `json:"description,omitempty"`
	ValidTo     *time.Time      `json:"validTo,omitempty"`
	Remaining   *int            `json:"remaining,omitempty"`
}

// validateCoupon handles GET /api/coupons/validate?code=. It never consumes
// a use.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeAPIError(w, badRequest("code", "code is required"))
		return
	}

	rule, err := h.coupons.Lookup(r.Context(), code)
	if err != nil {
		fail(w, r, err)
		return
	}

	sum := couponSummary{
		Code:        rule.Code,
		Type:        rule.Type,
		Amount:      rule.Amount,
		Scope:       rule.Scope,
		ProductIDs:  rule.ProductIDs,
		Description: rule.Description,
		ValidTo:     rule.ValidTo,
	}
	if rule.UsageLimit > 0 {
		left := rule.UsageLimit - rule.UsedCount
		sum.Remaining = &left
	}
	writeJSON(w, http.StatusOK, sum)
}
