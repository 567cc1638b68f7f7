// Package api exposes the storefront over JSON/HTTP.
package api

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"net/netip"
	"time"

	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/telemetry"
)

// EventParser verifies and decodes payment provider webhooks.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*payment.Event, error)
}

// RateLimiter decides whether a keyed request may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

type Deps struct {
	DB          *sql.DB
	Checkout    *checkout.Service
	Verifier    auth.Verifier
	Events      EventParser
	Limiter     RateLimiter
	Server      config.ServerConfig
	ServiceName string
}

type Server struct {
	db          *sql.DB
	checkout    *checkout.Service
	verifier    auth.Verifier
	events      EventParser
	limiter     RateLimiter
	cfg         config.ServerConfig
	proxies     []netip.Prefix
	serviceName string
}

// NewServer wires handlers to their collaborators. A nil Limiter disables
// rate limiting.
func NewServer(deps Deps) *Server {
	proxies, err := config.ParseTrustedProxies(deps.Server.TrustedProxies)
	if err != nil {
		log.Printf("WARN ignoring trusted proxies: %v", err)
	}

	return &Server{
		db:          deps.DB,
		checkout:    deps.Checkout,
		verifier:    deps.Verifier,
		events:      deps.Events,
		limiter:     deps.Limiter,
		cfg:         deps.Server,
		proxies:     proxies,
		serviceName: deps.ServiceName,
	}
}

// Handler returns the routed mux wrapped in the middleware chain, outermost
// first: tracing, request id, logging, security headers, CORS.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.routes()
	h = cors(s.cfg.AllowedOrigins)(h)
	h = withServerDefaults(h)
	h = logging(h)
	h = withRequestID(h)
	h = telemetry.Middleware(s.serviceName, "/healthz")(h)
	return h
}

// HTTPServer builds the listener with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
