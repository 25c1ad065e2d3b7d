package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    int
	Message string
	Field   string
	// Line is the 1-based cart line the error refers to, or 0.
	Line int
}

func (e apiError) encode() []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Int(e.Code)
	enc.FieldStart("message")
	enc.Str(e.Message)
	if e.Field != "" {
		enc.FieldStart("field")
		enc.Str(e.Field)
	}
	if e.Line > 0 {
		enc.FieldStart("line")
		enc.Int(e.Line)
	}
	enc.ObjEnd()
	return enc.Bytes()
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_, _ = w.Write(e.encode())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(field, message string) apiError {
	return apiError{Code: http.StatusBadRequest, Message: message, Field: field}
}

var (
	errUnauthorized = apiError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	errForbidden    = apiError{Code: http.StatusForbidden, Message: "forbidden"}
)

// toAPIError maps domain errors onto HTTP statuses. Anything unknown is a 500.
func toAPIError(err error) apiError {
	var (
		validation *order.ValidationError
		notFound   *order.ProductNotFoundError
		variant    *order.VariantNotFoundError
		stock      *order.InsufficientStockError
		transition *order.InvalidTransitionError
		aborted    *order.TransactionAbortedError
	)
	switch {
	case errors.As(err, &validation):
		return badRequest(validation.Field, validation.Message)
	case errors.As(err, &notFound):
		return apiError{Code: http.StatusBadRequest, Message: notFound.Error(), Field: "productId", Line: notFound.Line + 1}
	case errors.As(err, &variant):
		return apiError{Code: http.StatusBadRequest, Message: variant.Error(), Field: "variantId", Line: variant.Line + 1}
	case errors.As(err, &stock):
		return apiError{Code: http.StatusBadRequest, Message: stock.Error(), Field: "qty", Line: stock.Line + 1}
	case errors.As(err, &transition):
		return apiError{Code: http.StatusConflict, Message: transition.Error()}
	case errors.Is(err, order.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: "order not found"}
	case errors.Is(err, product.ErrNotFound):
		return apiError{Code: http.StatusNotFound, Message: "product not found"}
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return apiError{Code: http.StatusNotFound, Message: coupon.ErrInvalidCoupon.Error(), Field: "code"}
	case errors.Is(err, coupon.ErrCouponExpired), errors.Is(err, coupon.ErrCouponUsageLimitReached):
		return badRequest("code", err.Error())
	case errors.As(err, &aborted):
		return apiError{Code: http.StatusInternalServerError, Message: "transaction aborted"}
	default:
		return apiError{Code: http.StatusInternalServerError, Message: "internal server error"}
	}
}

// fail writes the mapped error and logs server-side failures.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	e := toAPIError(err)
	if e.Code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeAPIError(w, e)
}

// decodeBody reads a JSON request body of at most MaxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
