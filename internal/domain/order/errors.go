package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	Line      int
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("line %d: product %s not found", e.Line+1, e.ProductID)
}

// VariantNotFoundError indicates no variant of the product matches the
// requested id or SKU.
type VariantNotFoundError struct {
	Line      int
	ProductID string
	Ref       string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("line %d: variant %q not found for product %s", e.Line+1, e.Ref, e.ProductID)
}

// InsufficientStockError indicates the conditional stock decrement failed.
type InsufficientStockError struct {
	Line      int
	ProductID string
	Title     string
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s (%s): requested %d, available %d",
		e.Title, e.SKU, e.Requested, e.Available)
}

// InvalidTransitionError indicates a status change outside the workflow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// TransactionAbortedError wraps any non-domain failure inside the order
// transaction, including timeouts. Nothing was committed.
type TransactionAbortedError struct {
	Err error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction aborted: %v", e.Err)
}

func (e *TransactionAbortedError) Unwrap() error {
	return e.Err
}

// isDomainError reports whether err is an expected business outcome rather
// than an infrastructure failure.
func isDomainError(err error) bool {
	var (
		validation *ValidationError
		notFound   *ProductNotFoundError
		variant    *VariantNotFoundError
		stock      *InsufficientStockError
		transition *InvalidTransitionError
		aborted    *TransactionAbortedError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &notFound),
		errors.As(err, &variant),
		errors.As(err, &stock),
		errors.As(err, &transition),
		errors.As(err, &aborted),
		errors.Is(err, ErrNotFound):
		return true
	default:
		return false
	}
}
