package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/api"
	"github.com/atmx/risk-engine/internal/config"
	"github.com/atmx/risk-engine/internal/identity"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/snapshot"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize ledger ---
	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	mode, err := snapshot.ParseMode(cfg.Risk.Mode)
	if err != nil {
		slog.Error("invalid risk mode", "err", err)
		os.Exit(1)
	}

	l, err := openLedger(ctx, cfg.Ledger, mode, &cleanup)
	if err != nil {
		slog.Error("ledger init failed", "err", err)
		os.Exit(1)
	}

	// --- Risk engines ---
	registry := api.NewRegistry(l, mode)
	for _, a := range cfg.Risk.Accounts {
		id, err := identity.Parse(a)
		if err != nil {
			slog.Error("invalid tracked account", "account", a, "err", err)
			os.Exit(1)
		}
		if _, err := registry.Get(ctx, id); err != nil {
			// Tracked accounts that fail their first capture are retried on
			// first query.
			slog.Warn("initial capture failed", "account", a, "err", err)
		}
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	if cfg.Risk.RefreshInterval > 0 {
		refresher := api.NewRefresher(registry, wsHub, cfg.Risk.RefreshInterval)
		go refresher.Run(ctx)
	}

	riskSvc := api.NewService(registry, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time risk updates. Not behind the
		// request timeout, which would cut long-lived connections.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			riskSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("risk-engine listening",
			"port", cfg.Server.Port,
			"ledger", cfg.Ledger.Kind,
			"mode", mode.String(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("risk-engine stopped")
}

// openLedger builds the configured ledger backend, optionally behind a
// Redis read-through cache. Live mode always reads the primary. Closers are
// appended to cleanup.
func openLedger(ctx context.Context, cfg config.LedgerConfig, mode snapshot.Mode, cleanup *[]func()) (ledger.Ledger, error) {
	var l ledger.Ledger

	switch cfg.Kind {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		*cleanup = append(*cleanup, pool.Close)
		pl := ledger.NewPostgresLedger(pool)
		if err := pl.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		l = pl
		slog.Info("connected to PostgreSQL")

	case "rpc":
		opts := ledger.DefaultRPCOptions
		opts.Timeout = cfg.RPC.Timeout
		opts.RequestsPerSecond = cfg.RPC.RequestsPerSecond
		opts.Burst = cfg.RPC.Burst
		opts.MaxRetries = cfg.RPC.MaxRetries
		l = ledger.NewRPCLedger(cfg.RPC.URL, opts)
		slog.Info("using ledger RPC", "url", cfg.RPC.URL)

	default:
		if cfg.Fixture == "" {
			slog.Warn("no ledger configured, using an empty in-memory ledger")
			return ledger.NewMemoryLedger(), nil
		}
		ml, err := ledger.NewMemoryLedgerFromFile(cfg.Fixture)
		if err != nil {
			return nil, err
		}
		slog.Info("loaded ledger fixture", "path", cfg.Fixture)
		return ml, nil
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" && mode == snapshot.ModeLive {
		slog.Info("Redis cache skipped in live mode")
	} else if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		*cleanup = append(*cleanup, func() { rdb.Close() })
		l = ledger.NewCachedLedger(l, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return l, nil
}
