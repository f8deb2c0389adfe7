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
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/levx/margin-engine/internal/amm"
	"github.com/levx/margin-engine/internal/api"
	"github.com/levx/margin-engine/internal/engine"
	"github.com/levx/margin-engine/internal/metrics"
	"github.com/levx/margin-engine/internal/oracle"
	"github.com/levx/margin-engine/internal/risk"
	"github.com/levx/margin-engine/internal/store"
	"github.com/levx/margin-engine/internal/treasury"
	"github.com/levx/margin-engine/internal/vault"
)

func main() {
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

	// --- Trading parameters ---
	cfg := engine.DefaultConfig()
	cfg.FeeRate = envDecimal("FEE_RATE", cfg.FeeRate)
	cfg.InsuranceRate = envDecimal("INSURANCE_RATE", cfg.InsuranceRate)
	cfg.PoolBorrowCap = envDecimal("POOL_BORROW_CAP", cfg.PoolBorrowCap)
	cfg.PoolRatePerSecond = envDecimal("POOL_RATE_PER_SECOND", cfg.PoolRatePerSecond)

	// --- Exposure limits (zero disables) ---
	var limiter *risk.Limiter
	maxPerPair := envDecimal("MAX_PAIR_NOTIONAL", decimal.Zero)
	maxTotal := envDecimal("MAX_TOTAL_NOTIONAL", decimal.Zero)
	if maxPerPair.IsPositive() || maxTotal.IsPositive() {
		limiter = risk.NewLimiter(maxPerPair, maxTotal)
	}

	// --- Custody and collaborators ---
	v := vault.New()
	orc := oracle.NewMemory()
	router := amm.NewRouter()
	tre := treasury.New(v, "treasury")

	eng := engine.New(cfg, engine.Deps{
		Vault:    v,
		Oracle:   orc,
		Exchange: router,
		Treasury: tre,
		Store:    st,
		Limiter:  limiter,
	})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- HTTP services ---
	svc := api.NewService(eng, st, v, wsHub)
	admin := api.NewAdmin(orc, router, v, cfg.FeeRate)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"margin-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)
	r.Route("/admin", admin.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("margin-engine listening", "port", port)
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

	slog.Info("shutting down margin-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("margin-engine stopped")
}

// envDecimal reads a decimal environment variable, falling back on empty or
// malformed values.
func envDecimal(name string, fallback decimal.Decimal) decimal.Decimal {
	s := os.Getenv(name)
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		slog.Warn("invalid decimal env var, using default", "name", name, "value", s)
		return fallback
	}
	return d
}
