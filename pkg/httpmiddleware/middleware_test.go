package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_Order(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), tag("outer"), tag("middle"), tag("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner"}, calls)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h := Wrap(panicking, RequestID(), InjectLogger(zap.New(core)), Recovery())

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(500), body["code"])
	assert.Equal(t, "internal server error", body["message"])
	assert.Equal(t, "abc-123", body["requestId"])

	entries := logs.FilterMessage("Panic recovered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc-123", entries[0].ContextMap()["request_id"])
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "reuses valid id", incoming: "req-1", reuse: true},
		{name: "generates when missing", incoming: ""},
		{name: "rejects control chars", incoming: "bad\nid"},
		{name: "rejects oversized", incoming: strings.Repeat("x", 129)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header[RequestIDHeader] = []string{tt.incoming}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.NotEqual(t, tt.incoming, seen)
				assert.Len(t, seen, 36)
			}
		})
	}

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("Inside handler")
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte("hello"))
		}
	})
	h := Wrap(handler, RequestID(), InjectLogger(zap.New(core)), LogRequests())

	for _, path := range []string{"/ok", "/fail", "/livez"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(RequestIDHeader, "id"+path)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	inside := logs.FilterMessage("Inside handler").All()
	require.Len(t, inside, 3)
	assert.Equal(t, "id/ok", inside[0].ContextMap()["request_id"])

	requests := logs.FilterMessage("Request").All()
	require.Len(t, requests, 2, "probes are not logged")

	ok := requests[0].ContextMap()
	assert.Equal(t, zapcore.InfoLevel, requests[0].Level)
	assert.Equal(t, "/ok", ok["path"])
	assert.Equal(t, int64(200), ok["status"])
	assert.Equal(t, int64(5), ok["bytes"])

	assert.Equal(t, zapcore.ErrorLevel, requests[1].Level)
	assert.Equal(t, int64(500), requests[1].ContextMap()["status"])
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		preflight   bool
		wantOrigin  string
		wantStatus  int
		wantMethods string
		wantCreds   bool
	}{
		{
			name:       "wildcard",
			method:     http.MethodGet,
			origin:     "https://shop.example",
			wantOrigin: "*",
			wantStatus: http.StatusOK,
		},
		{
			name:       "listed origin matches case-insensitively",
			cfg:        CORSConfig{AllowOrigins: []string{"https://Shop.example"}},
			method:     http.MethodGet,
			origin:     "https://shop.example",
			wantOrigin: "https://Shop.example",
			wantStatus: http.StatusOK,
		},
		{
			name:       "unlisted origin",
			cfg:        CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method:     http.MethodGet,
			origin:     "https://evil.example",
			wantStatus: http.StatusOK,
		},
		{
			name:        "preflight uses default methods",
			method:      http.MethodOptions,
			origin:      "https://shop.example",
			preflight:   true,
			wantOrigin:  "*",
			wantStatus:  http.StatusNoContent,
			wantMethods: "GET, POST, PATCH, DELETE, OPTIONS",
		},
		{
			name:       "credentials echo the origin",
			cfg:        CORSConfig{AllowCredentials: true},
			method:     http.MethodGet,
			origin:     "https://shop.example",
			wantOrigin: "https://shop.example",
			wantStatus: http.StatusOK,
			wantCreds:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())
			req := httptest.NewRequest(tt.method, "/api/products/p1", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantMethods, w.Header().Get("Access-Control-Allow-Methods"))
			if tt.wantCreds {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}

func TestRouteTag(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/orders/{id}", RouteTag("/api/orders/{id}", okHandler()))

	labeler := &otelhttp.Labeler{}
	req := httptest.NewRequest(http.MethodGet, "/api/orders/o-1", nil)
	req = req.WithContext(otelhttp.ContextWithLabeler(req.Context(), labeler))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, labeler.Get(), attribute.String("http.route", "/api/orders/{id}"))
}

func TestInstrument_RoutedRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/products/{id}", RouteTag("/api/products/{id}", okHandler()))
	h := Wrap(mux, Instrument("storefront", metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider()))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products/p1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
