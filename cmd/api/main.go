package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/storefront/internal/api"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/ratelimit"
	"github.com/safar/storefront/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Setup tracing: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully (driver %s)", cfg.Database.Driver)

	stripe := payment.NewStripe(cfg.Stripe, telemetry.NewHTTPClient(30*time.Second))

	verifier, err := auth.NewFirebase(ctx, cfg.Firebase)
	if err != nil {
		log.Fatalf("Setup identity provider: %v", err)
	}

	checkoutSvc, err := checkout.NewService(db, stripe, cfg.Stripe.Currency)
	if err != nil {
		log.Fatalf("Setup checkout: %v", err)
	}

	deps := api.Deps{
		DB:          db,
		Checkout:    checkoutSvc,
		Verifier:    verifier,
		Events:      stripe,
		Server:      cfg.Server,
		ServiceName: cfg.Tracing.ServiceName,
	}

	if cfg.RateLimit.RedisURL != "" {
		limiter, err := ratelimit.NewFromURL(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.RequestsPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("Connect to redis: %v", err)
		}
		defer limiter.Close()
		deps.Limiter = limiter
		log.Printf("Rate limiting public endpoints at %d requests/minute", cfg.RateLimit.RequestsPerMinute)
	} else {
		log.Printf("REDIS_URL not set, rate limiting disabled")
	}

	server := api.NewServer(deps).HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Flush traces: %v", err)
	}
}
