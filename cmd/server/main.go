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

	"github.com/atmx/barter-engine/internal/config"
	"github.com/atmx/barter-engine/internal/custody"
	"github.com/atmx/barter-engine/internal/exchange"
	"github.com/atmx/barter-engine/internal/limits"
	"github.com/atmx/barter-engine/internal/metrics"
	"github.com/atmx/barter-engine/internal/model"
	"github.com/atmx/barter-engine/internal/outbox"
	"github.com/atmx/barter-engine/internal/store"
	"github.com/atmx/barter-engine/internal/telemetry"
	"github.com/atmx/barter-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, "barter-engine", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing setup failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(sctx)
	})

	// --- Initialize store ---
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, closeStore)

	// --- Engine ---
	mode, err := exchange.ParseMatchMode(cfg.MatchMode)
	if err != nil {
		slog.Error("invalid MATCH_MODE", "err", err)
		os.Exit(1)
	}
	engine, err := exchange.New(model.Account(cfg.StoreOwner), custody.NewVault(), st, exchange.Options{
		SweepGrace:             cfg.SweepGrace,
		Match:                  mode,
		RequireSupplyOwnership: cfg.RequireSupplyOwnership,
		Limiter:                limits.NewLimiter(cfg.MaxOffers, cfg.MaxItemsPerOffer, cfg.MaxOffersPerCreator),
	})
	if err != nil {
		slog.Error("engine initialization failed", "err", err)
		os.Exit(1)
	}

	snap, err := st.Load(ctx)
	if err != nil {
		slog.Error("loading state failed", "err", err)
		os.Exit(1)
	}
	engine.Restore(snap)
	slog.Info("state restored", "offers", len(snap.Offers), "assets", len(snap.Registry), "counter", snap.Counter)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)
	engine.Subscribe(wsHub)

	// --- Event outbox ---
	if cfg.OutboxDir != "" {
		ob, err := outbox.Open(cfg.OutboxDir)
		if err != nil {
			slog.Error("outbox open failed", "err", err)
			os.Exit(1)
		}
		engine.Subscribe(ob)

		var pub outbox.Publisher = outbox.LogPublisher{}
		if len(cfg.KafkaBrokers) > 0 {
			kp := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			cleanup = append(cleanup, func() { kp.Close() })
			pub = kp
			slog.Info("publishing events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		} else {
			slog.Warn("KAFKA_BROKERS not set, events are written to the log")
		}
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			outbox.NewRelay(ob, pub, cfg.RelayInterval).Run(ctx)
		}()
		cleanup = append(cleanup, func() {
			<-relayDone
			ob.Close()
		})
	}

	// --- Expiration sweeper ---
	if cfg.SweepInterval > 0 {
		go exchange.NewSweeper(engine, cfg.SweepInterval).Run(ctx)
	}

	// --- Trade service ---
	tradeSvc := trade.NewService(engine, st)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"barter-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for committed engine events. Registered outside
		// the timeout group since the connection is long-lived.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("barter-engine listening", "port", cfg.Port, "owner", cfg.StoreOwner, "match_mode", mode.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down barter-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("barter-engine stopped")
}

// openStore selects the persistence backend: PostgreSQL when DATABASE_URL is
// set, otherwise SQLite when SQLITE_PATH is set, otherwise memory. A Redis
// read-through cache wraps whichever was chosen when REDIS_URL is set.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var (
		st      store.Store
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		closers = append(closers, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { lite.Close() })
		st = lite
		slog.Info("using SQLite store", "path", cfg.SQLitePath)

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	return st, closeAll, nil
}
