package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier map[string]*auth.Identity

func (f fakeVerifier) VerifyToken(_ context.Context, token string) (*auth.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeParser struct {
	event *payment.Event
	err   error
}

func (f fakeParser) ParseEvent(_ []byte, _ string) (*payment.Event, error) {
	return f.event, f.err
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	f.keys = append(f.keys, key)
	return f.allow, 30 * time.Second
}

var testIdentities = fakeVerifier{
	"alice-token": {UID: "alice", Email: "alice@example.com"},
	"admin-token": {UID: "root", Email: "root@example.com", Admin: true},
}

func newTestServer(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Verifier == nil {
		deps.Verifier = testIdentities
	}
	if deps.Checkout == nil {
		svc, err := checkout.NewService(nil, nil, "usd")
		require.NoError(t, err)
		deps.Checkout = svc
	}
	if deps.Server.AllowedOrigins == nil {
		deps.Server.AllowedOrigins = []string{"https://shop.example.com"}
	}
	deps.ServiceName = "storefront-test"
	return NewServer(deps).Handler()
}

func do(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{database.NewValidationError("quantity", "must be at least 1"), http.StatusBadRequest},
		{payment.ErrInvalidSignature, http.StatusBadRequest},
		{auth.ErrMissingToken, http.StatusUnauthorized},
		{fmt.Errorf("verify: %w", auth.ErrInvalidToken), http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrAdminRequired, http.StatusForbidden},
		{fmt.Errorf("%w: 7", database.ErrProductNotFound), http.StatusNotFound},
		{database.ErrOrderNotFound, http.StatusNotFound},
		{database.ErrInsufficientStock, http.StatusConflict},
		{database.ErrPriceChanged, http.StatusConflict},
		{database.ErrOrderNotDeletable, http.StatusConflict},
		{checkout.ErrIdempotencyKeyReused, http.StatusConflict},
		{errRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("create payment intent: %w", payment.ErrProvider), http.StatusBadGateway},
		{&pq.Error{Code: "23514", Message: "violates check constraint"}, http.StatusBadRequest},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23514", Message: "check"}), http.StatusBadRequest},
		{&pq.Error{Code: "23505", Message: "duplicate key value"}, http.StatusConflict},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", Message: "unique"}), http.StatusConflict},
		{&pq.Error{Code: "23503", Message: "violates foreign key constraint"}, http.StatusNotFound},
		{fmt.Errorf("lock order 3: %w", database.ErrLockTimeout), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteErrorHidesConstraintDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/products", nil)
	rec := httptest.NewRecorder()

	writeError(rec, req, fmt.Errorf("create product: %w",
		&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "products_pkey"`}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), "products_pkey")
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()

	writeError(rec, req, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestWriteErrorValidationField(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	writeError(rec, req, database.NewValidationError("minPrice", "must not be negative"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid minPrice: must not be negative","field":"minPrice"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t, Deps{})

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/cart/user/alice", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/cart/user/alice", "nope", http.StatusUnauthorized},
		{"other user's cart", http.MethodGet, "/api/cart/user/bob", "alice-token", http.StatusForbidden},
		{"other user's wishlist", http.MethodDelete, "/api/wishlist/bob", "alice-token", http.StatusForbidden},
		{"other user's orders", http.MethodGet, "/api/orders/user/bob", "alice-token", http.StatusForbidden},
		{"other user's profile", http.MethodDelete, "/api/users/bob", "alice-token", http.StatusForbidden},
		{"admin listing", http.MethodGet, "/api/orders", "alice-token", http.StatusForbidden},
		{"admin status update", http.MethodPut, "/api/orders/1/status", "alice-token", http.StatusForbidden},
		{"subscriber listing", http.MethodGet, "/api/newsletter/subscribers", "alice-token", http.StatusForbidden},
		{"product write", http.MethodPost, "/api/products", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.target, tt.token, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestBodyUserMustMatchCaller(t *testing.T) {
	h := newTestServer(t, Deps{})

	rec := do(h, http.MethodPost, "/api/cart/add-item", "alice-token", `{"user_id":"bob","product_id":1,"quantity":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/api/orders", "alice-token", `{"user_id":"bob","items":[{"product_id":1,"quantity":1}]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	h := newTestServer(t, Deps{})

	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   string
	}{
		{"bad json", http.MethodPost, "/api/cart/add-item", "alice-token", `{"product_id":`},
		{"missing product", http.MethodPost, "/api/cart/add-item", "alice-token", `{"quantity":2}`},
		{"update without quantity", http.MethodPut, "/api/cart/update-item", "alice-token", `{"product_id":3}`},
		{"empty order", http.MethodPost, "/api/orders", "alice-token", `{"items":[]}`},
		{"duplicate order lines", http.MethodPost, "/api/orders", "alice-token", `{"items":[{"product_id":1,"quantity":1},{"product_id":1,"quantity":2}]}`},
		{"non-numeric order id", http.MethodGet, "/api/orders/abc", "alice-token", ""},
		{"unknown status", http.MethodPut, "/api/orders/1/status", "admin-token", `{"status":"lost"}`},
		{"bad sort column", http.MethodGet, "/api/products/filter?sortBy=popularity", "", ""},
		{"bad price", http.MethodGet, "/api/products/filter?minPrice=cheap", "", ""},
		{"inverted price range", http.MethodGet, "/api/products/filter?minPrice=100&maxPrice=50", "", ""},
		{"empty search", http.MethodGet, "/api/products/search?query=", "", ""},
		{"bad email", http.MethodPost, "/api/newsletter/subscribe", "", `{"email":"not-an-email"}`},
		{"empty body", http.MethodPost, "/api/wishlist", "alice-token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.target, tt.token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	h := newTestServer(t, Deps{Limiter: limiter})

	rec := do(h, http.MethodPost, "/api/newsletter/subscribe", "", `{"email":"a@example.com"}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	require.Len(t, limiter.keys, 1)
	assert.True(t, strings.HasSuffix(limiter.keys[0], ":POST /api/newsletter/subscribe"), limiter.keys[0])
}

func TestRateLimitRunsBeforeAuth(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	h := newTestServer(t, Deps{Limiter: limiter})

	rec := do(h, http.MethodPost, "/api/users/login", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	t.Run("missing signature", func(t *testing.T) {
		h := newTestServer(t, Deps{Events: fakeParser{}})
		rec := do(h, http.MethodPost, "/api/payments/webhook", "", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		h := newTestServer(t, Deps{Events: fakeParser{err: payment.ErrInvalidSignature}})
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(`{}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ignored event type", func(t *testing.T) {
		h := newTestServer(t, Deps{Events: fakeParser{event: &payment.Event{ID: "evt_1", Type: "charge.refunded"}}})
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(`{}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=ok")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	})
}

func TestMiddlewareHeaders(t *testing.T) {
	h := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req = httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestDecodeOptionalJSON(t *testing.T) {
	type body struct {
		UserID string `json:"user_id"`
	}
	chunked := func(payload string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/cart/clear", io.NopCloser(strings.NewReader(payload)))
		req.ContentLength = -1
		return req
	}

	var got body
	require.NoError(t, decodeOptionalJSON(chunked(""), &got), "empty chunked body")
	assert.Empty(t, got.UserID)

	require.NoError(t, decodeOptionalJSON(chunked("  \n"), &got), "blank body")
	require.NoError(t, decodeOptionalJSON(httptest.NewRequest(http.MethodPost, "/", nil), &got), "no body")

	require.NoError(t, decodeOptionalJSON(chunked(`{"user_id":"alice"}`), &got))
	assert.Equal(t, "alice", got.UserID)

	var verr *database.ValidationError
	assert.True(t, errors.As(decodeOptionalJSON(chunked("{"), &got), &verr))
	assert.True(t, errors.As(decodeJSON(chunked(""), &got), &verr), "required body stays required")
}

func TestClientIP(t *testing.T) {
	trusted, err := config.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		forward []string
		trusted []netip.Prefix
		want    string
	}{
		{"direct peer", "10.0.0.7:52100", nil, nil, "10.0.0.7"},
		{"spoofed header from untrusted peer", "198.51.100.4:4000", []string{"203.0.113.9"}, trusted, "198.51.100.4"},
		{"header ignored without trusted proxies", "10.0.0.7:52100", []string{"203.0.113.9"}, nil, "10.0.0.7"},
		{"single trusted proxy", "10.0.0.7:52100", []string{"203.0.113.9"}, trusted, "203.0.113.9"},
		{"client-supplied prefix skipped", "10.0.0.7:52100", []string{"1.1.1.1, 203.0.113.9, 10.0.0.2"}, trusted, "203.0.113.9"},
		{"repeated headers", "10.0.0.7:52100", []string{"1.1.1.1", "203.0.113.9"}, trusted, "203.0.113.9"},
		{"all hops trusted", "10.0.0.7:52100", []string{"10.1.1.1, 10.0.0.2"}, trusted, "10.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.forward {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trusted))
		})
	}
}

func TestRateLimitKeyIgnoresSpoofedForwardedFor(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	h := newTestServer(t, Deps{Limiter: limiter, Server: config.ServerConfig{TrustedProxies: []string{"10.0.0.0/8"}}})

	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/newsletter/subscribe", strings.NewReader(`{}`))
		req.RemoteAddr = "198.51.100.4:4000"
		req.Header.Set("X-Forwarded-For", spoofed)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, limiter.keys, 2)
	assert.Equal(t, "198.51.100.4:POST /api/newsletter/subscribe", limiter.keys[0])
	assert.Equal(t, limiter.keys[0], limiter.keys[1])
}
