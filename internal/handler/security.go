package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

var errInvalidKey = errors.New("invalid api key")

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form keys
// are stored in.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves API keys to principals.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (auth.Principal, error) {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return auth.Principal{}, errInvalidKey
		}
		return auth.Principal{}, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return auth.Principal{}, errInvalidKey
	}

	return auth.Principal{
		CustomerID: info.CustomerID,
		Email:      info.Email,
		Role:       info.Role,
	}, nil
}

// Middleware attaches the caller to the request context. Requests without a
// key pass through as guests; an unknown key is rejected with 401.
func (a *Authenticator) Middleware() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := a.Authenticate(r.Context(), key)
			switch {
			case errors.Is(err, errInvalidKey):
				writeAPIError(w, errUnauthorized)
				return
			case err != nil:
				zctx.From(r.Context()).Error("Authentication failed", zap.Error(err))
				writeAPIError(w, apiError{Code: http.StatusInternalServerError, Message: "internal server error"})
				return
			}

			lg := zctx.From(r.Context()).With(zap.String("customer_id", p.CustomerID))
			ctx := zctx.Base(auth.WithPrincipal(r.Context(), p), lg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitKey limits authenticated callers per account and guests per
// client address.
func RateLimitKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.CustomerID != "" {
		return "customer:" + p.CustomerID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

// requireCustomer returns the caller or writes 401.
func requireCustomer(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeAPIError(w, errUnauthorized)
		return auth.Principal{}, false
	}
	return p, true
}

// requireStaff returns a staff caller, or writes 401 for guests and 403 for
// customers.
func requireStaff(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := requireCustomer(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	if !p.IsStaff() {
		writeAPIError(w, errForbidden)
		return auth.Principal{}, false
	}
	return p, true
}
