package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/betpay/ledger-engine/internal/account"
	"github.com/betpay/ledger-engine/internal/audit"
	"github.com/betpay/ledger-engine/internal/ledger"
	"github.com/betpay/ledger-engine/internal/metrics"
	"github.com/betpay/ledger-engine/internal/notify"
	"github.com/betpay/ledger-engine/internal/position"
	"github.com/betpay/ledger-engine/internal/provider"
	"github.com/betpay/ledger-engine/internal/reconcile"
	"github.com/betpay/ledger-engine/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Payment provider ---
	providerURL := os.Getenv("PROVIDER_URL")
	if providerURL == "" {
		slog.Error("PROVIDER_URL is required")
		os.Exit(1)
	}
	payProvider := provider.NewHTTPClient(providerURL, os.Getenv("PROVIDER_TOKEN"))

	// --- Event hub ---
	hub := notify.NewHub()
	go hub.Run()

	// --- Services ---
	auditLog := audit.NewLog(st)
	ledgerSvc := ledger.New(st, auditLog)
	accountSvc := account.NewService(st, ledgerSvc, auditLog)
	positionSvc := position.NewService(st, ledgerSvc, hub)
	reconcileSvc := reconcile.NewService(st, ledgerSvc, payProvider, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time ledger events.
		r.Get("/ws", hub.HandleWS)

		// Accounts.
		r.Post("/accounts", accountSvc.HandleCreate)
		r.Get("/accounts/{accountID}", accountSvc.HandleGet)
		r.Get("/accounts/{accountID}/audit", accountSvc.HandleAudit)
		r.Get("/accounts/{accountID}/positions", positionSvc.HandleList)
		r.Post("/accounts/{accountID}/reconcile", reconcileSvc.HandleReconcile)

		// Positions.
		r.Post("/positions", positionSvc.HandleOpen)
		r.Post("/positions/{positionID}/settle", positionSvc.HandleSettle)

		// Invoices.
		r.Post("/invoices", reconcileSvc.HandleCreateInvoice)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}
