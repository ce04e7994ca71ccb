package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"psd2gateway/internal/common/config"
	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/common/types"
	scaapi "psd2gateway/internal/sca/api"
	"psd2gateway/internal/sca/application"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/infrastructure/memory"
	"psd2gateway/internal/sca/infrastructure/postgres"
	"psd2gateway/internal/sca/spi"
	"psd2gateway/internal/sca/spi/mockbank"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting PSD2 gateway",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"store", cfg.StoreBackend,
		"sca_approaches", cfg.NormalizedScaApproaches(),
	)

	store, pool, err := openStore(startupCtx, cfg)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to open store", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	engine, err := newEngine(cfg, store)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to build SCA engine", "error", err)
		os.Exit(1)
	}

	// Setup HTTP server
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(cfg, pool))
	mux.Handle("GET /metrics", metrics.Handler())

	scaapi.NewHandler(engine).RegisterRoutes(mux)

	logging.InfoContext(startupCtx, "SCA context initialized")

	// Middleware chain: metrics -> correlation -> handler
	handler := metrics.Middleware(correlationMiddleware(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("Server stopped")
}

// openStore returns the configured authorisation record store. The pool is
// nil for the in-memory backend.
func openStore(ctx context.Context, cfg *config.Config) (domain.Store, *pgxpool.Pool, error) {
	if cfg.StoreBackend == config.StoreMemory {
		return memory.NewDataStore(), nil, nil
	}
	pool, err := cfg.NewPostgresPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewDataStore(pool), pool, nil
}

// newEngine wires the engine to the mock bank behind the adapter guard.
func newEngine(cfg *config.Config, store domain.Store) (*application.Engine, error) {
	approaches := make([]domain.ScaApproach, 0, len(cfg.NormalizedScaApproaches()))
	for _, raw := range cfg.NormalizedScaApproaches() {
		a, ok := domain.ParseScaApproach(raw)
		if !ok {
			return nil, fmt.Errorf("unknown sca approach %q", raw)
		}
		approaches = append(approaches, a)
	}

	bank := mockbank.New(mockbank.Options{
		Password: cfg.MockBankPassword,
		Tan:      cfg.MockBankTan,
		Signers:  cfg.MockBankSigners,
	})

	return application.NewEngine(store, application.Adapters{
		Payments:      bank.Payments(),
		Cancellations: bank.Cancellations(),
		Consents:      bank.Consents(),
	}, application.Settings{
		Approaches:             approaches,
		PaymentExpiration:      cfg.PaymentExpiration(),
		ConsentExpiration:      cfg.ConsentExpiration(),
		ExemptedProducts:       cfg.ScaExemptedPaymentProducts,
		AisExemptionAllowed:    cfg.AisScaExemptionAllowed,
		RedirectURLTemplate:    cfg.ScaRedirectURLTemplate,
		NokRedirectURLTemplate: cfg.ScaNokRedirectURLTemplate,
		Guard:                  spi.NewGuard(cfg.SpiRateLimit, cfg.SpiBurst, cfg.SpiTimeout),
	})
}

// requestTimeout is the maximum time allowed for processing a single request.
const requestTimeout = 10 * time.Second

// correlationMiddleware adds the TPP request id, an internal request id and
// a request timeout to each request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := types.CorrelationID(r.Header.Get("X-Request-ID"))
		if corrID.IsEmpty() {
			corrID = types.NewCorrelationID()
		}
		internalID := types.NewInternalRequestID()

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		ctx = logging.WithCorrelationID(ctx, corrID)
		ctx = logging.WithInternalRequestID(ctx, internalID)

		w.Header().Set("X-Request-ID", corrID.String())

		logging.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler reports ready once the store can be reached.
func readyHandler(cfg *config.Config, pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ready", http.StatusOK
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				logging.WarnContext(r.Context(), "Readiness check failed", "error", err)
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      status,
			"environment": cfg.Environment,
			"store":       cfg.StoreBackend,
		})
	}
}
