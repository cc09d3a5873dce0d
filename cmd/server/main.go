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

	"github.com/atmx/settlement-engine/internal/access"
	"github.com/atmx/settlement-engine/internal/auth"
	"github.com/atmx/settlement-engine/internal/broker"
	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/engine"
	"github.com/atmx/settlement-engine/internal/feed"
	"github.com/atmx/settlement-engine/internal/fees"
	"github.com/atmx/settlement-engine/internal/guard"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/trade"
	"github.com/atmx/settlement-engine/internal/vault"
	"github.com/atmx/settlement-engine/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Collaborators ---
	breaker, err := guard.NewBreaker(cfg.VaultSoftDrawdown, cfg.VaultHardDrawdown)
	if err != nil {
		slog.Error("invalid drawdown thresholds", "err", err)
		os.Exit(1)
	}
	liquidity := vault.NewPool(breaker)
	ledger := wallet.NewLedger()

	distributor, err := fees.NewDistributor(liquidity, ledger, cfg.Fees)
	if err != nil {
		slog.Error("invalid fee configuration", "err", err)
		os.Exit(1)
	}

	var verifier feed.Verifier = feed.AcceptAll
	if cfg.OracleSecret != "" {
		verifier = feed.NewSignedVerifier(cfg.OracleSecret)
	} else {
		slog.Warn("ORACLE_SECRET not set, executor prices are trusted without proof")
	}
	oracle := feed.NewOracle(verifier, feed.Options{
		MaxAge:       cfg.OracleMaxAge,
		SpreadWindow: cfg.OracleSpreadWindow,
	})

	authority := access.NewAuthority()
	adminCap, err := authority.MintAdmin(cfg.AdminAccount)
	if err != nil {
		slog.Error("mint admin capability failed", "err", err)
		os.Exit(1)
	}
	executorCap, err := authority.MintExecute(adminCap, cfg.ExecutorAccount)
	if err != nil {
		slog.Error("mint execute capability failed", "err", err)
		os.Exit(1)
	}

	// --- Event sinks ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	sinks := engine.Fanout{
		store.NewEventLog(st, 5*time.Second),
		metrics.Sink{},
		wsHub,
	}
	if cfg.NATSURL != "" {
		nc, err := broker.Connect(cfg.NATSURL, "settlement-engine")
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		sinks = append(sinks, broker.NewPublisher(nc, cfg.NATSSubject))
		slog.Info("publishing events to NATS", "subject", cfg.NATSSubject)
	}

	// --- Engine ---
	eng := engine.New(engine.Deps{
		Feed:     oracle,
		Vault:    liquidity,
		Fees:     distributor,
		Accounts: ledger,
		Access:   authority,
		Sink:     sinks,
	}, engine.Options{MarketOrderTimeout: cfg.MarketOrderTimeout})

	if err := loadPairs(ctx, cfg, eng, st, liquidity, adminCap); err != nil {
		slog.Error("load pairs failed", "err", err)
		os.Exit(1)
	}

	// --- Services ---
	tokens, err := auth.NewService(cfg.JWTSecret)
	if err != nil {
		slog.Error("auth setup failed", "err", err)
		os.Exit(1)
	}
	tradeSvc := trade.NewService(eng, st, ledger, distributor, adminCap, executorCap)

	// --- HTTP router ---
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
		fmt.Fprintf(w, `{"status":"ok","service":"settlement-engine","pairs":%d,"ws_clients":%d}`,
			len(eng.Pairs()), wsHub.Clients())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", tradeSvc.Routes(tokens, wsHub))

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.Port, "pairs", len(eng.Pairs()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	cancel()
	fmt.Println("settlement-engine stopped")
}

// loadPairs restores persisted pairs, then registers the pairs-file
// entries that were not restored and provides their vault liquidity.
func loadPairs(ctx context.Context, cfg *config.Config, eng *engine.Engine, st store.Store, liquidity *vault.Pool, admin access.Capability) error {
	snaps, err := st.ListPairs(ctx)
	if err != nil {
		return fmt.Errorf("list persisted pairs: %w", err)
	}
	restored := make(map[model.PairKey]bool, len(snaps))
	for _, snap := range snaps {
		if err := eng.Restore(ctx, admin, snap); err != nil {
			return fmt.Errorf("restore %s: %w", snap.Pair, err)
		}
		restored[snap.Pair] = true
		slog.Info("pair restored", "pair", snap.Pair.String(), "orders", len(snap.State.Orders))
	}

	if cfg.PairsFile == "" {
		if len(snaps) == 0 {
			slog.Warn("PAIRS_FILE not set and no persisted pairs, starting with none")
		}
		return nil
	}
	defs, err := config.LoadPairs(cfg.PairsFile)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.Liquidity.IsPositive() {
			if err := liquidity.Provide(ctx, def.Key.Collateral, def.Liquidity); err != nil {
				return fmt.Errorf("provide liquidity for %s: %w", def.Key, err)
			}
		}
		if restored[def.Key] {
			continue
		}
		if err := eng.RegisterPair(ctx, admin, def.Key, def.Config); err != nil {
			return fmt.Errorf("register %s: %w", def.Key, err)
		}
		snap, err := eng.Snapshot(def.Key)
		if err != nil {
			return err
		}
		if err := st.SavePair(ctx, snap); err != nil {
			return fmt.Errorf("persist %s: %w", def.Key, err)
		}
	}
	return nil
}
