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

	"github.com/claerdex/trading-engine/internal/chain"
	"github.com/claerdex/trading-engine/internal/config"
	"github.com/claerdex/trading-engine/internal/ledger"
	"github.com/claerdex/trading-engine/internal/metrics"
	"github.com/claerdex/trading-engine/internal/pricefeed"
	"github.com/claerdex/trading-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("configuration invalid", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case cfg.Store.DatabaseURL != "":
		pool, err := pgxpool.New(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

	case cfg.Store.RedisURL != "":
		opt, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewRedisStore(rdb)
		slog.Info("connected to Redis KV")

	default:
		slog.Warn("no DATABASE_URL or REDIS_URL set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price feed ---
	registry := pricefeed.NewRegistry(cfg.Assets)
	synthetic := pricefeed.NewSynthetic(registry, cfg.Feed.WindowSeconds, nil, nil)
	var primary pricefeed.Source
	if cfg.Feed.OracleURL != "" {
		primary = pricefeed.NewPrimarySource(cfg.Feed.OracleURL, "", registry, cfg.Feed.Timeout)
		slog.Info("primary price source enabled", "oracle", cfg.Feed.OracleURL)
	}
	feed := pricefeed.NewFeed(registry, primary, st, synthetic, cfg.Feed.Timeout, cfg.Feed.MaxHistoryPoints)

	// --- Chain collaborators ---
	chainClient := chain.NewClient(cfg.Chain)

	// --- WebSocket hub ---
	wsHub := ledger.NewWSHub()
	go wsHub.Run()

	// --- Position ledger ---
	svc := ledger.NewService(st, feed, chainClient, chainClient, chainClient, wsHub)

	// Cooperative price recorder: snapshots all assets once per quote
	// window so history accrues and WS clients see ticks.
	tickerCtx, stopTicker := context.WithCancel(context.Background())
	defer stopTicker()
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Feed.WindowSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				svc.Snapshot(tickerCtx)
			}
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
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
		w.Write([]byte(`{"status":"ok","service":"claerdex-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price and trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Market data.
		r.Get("/prices", svc.GetPrices)
		r.Get("/prices/history", svc.GetPriceHistory)
		r.Get("/blockchain/status", svc.GetBlockchainStatus)

		// Accounts and positions.
		r.Get("/account/{address}", svc.GetAccount)
		r.Post("/positions/open", svc.OpenPosition)
		r.Post("/positions/close/{positionID}", svc.ClosePosition)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("trading engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopTicker()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down trading engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading engine stopped")
}
