package auth

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/customer"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID         string
	KeyHash    string
	Name       string
	CustomerID string
	Email      string
	Role       customer.Role
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	CustomerID string
	Email      string
	Role       customer.Role
}

// IsStaff reports whether the caller may manage orders.
func (p Principal) IsStaff() bool {
	return p.Role.IsStaff()
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored in ctx. Guests have none.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
