package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/score-verifier/internal/api"
	"github.com/atmx/score-verifier/internal/auth"
	"github.com/atmx/score-verifier/internal/config"
	"github.com/atmx/score-verifier/internal/leaderboard"
	"github.com/atmx/score-verifier/internal/metrics"
	"github.com/atmx/score-verifier/internal/ratelimit"
	"github.com/atmx/score-verifier/internal/replay"
	"github.com/atmx/score-verifier/internal/store"
	"github.com/atmx/score-verifier/internal/verify"
)

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
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

	// --- Verification pipeline ---
	interp := replay.Default()
	slog.Info("simulation engine loaded", "logic_hash", interp.LogicHash())

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.SubmissionsPerMinute, time.Minute)
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.SubmissionsPerMinute, time.Minute)
	}

	var attestor auth.Attestor = auth.NewJWTAttestor(cfg.AttestationSecret, cfg.AttestationAudience)
	if cfg.AttestationDisabled {
		slog.Warn("ATTESTATION_DISABLED set, client integrity is not checked")
		attestor = auth.NoopAttestor{}
	}

	wsHub := api.NewWSHub()
	committer := leaderboard.NewCommitter(st,
		leaderboard.WithRetry(cfg.CommitMaxAttempts, 75*time.Millisecond, 1200*time.Millisecond),
		leaderboard.WithLogger(logger),
	)
	verifier := verify.NewService(interp, st, committer,
		verify.Config{
			MinVersion: cfg.MinVersion,
			MaxActions: cfg.MaxTradeLog,
			MaxTick:    cfg.MaxTick,
			Timeout:    cfg.RequestTimeout,
		},
		verify.WithAttestor(attestor),
		verify.WithLimiter(limiter),
		verify.WithNotifier(wsHub),
		verify.WithLogger(logger),
	)
	apiSrv := api.NewServer(verifier, st, auth.NewJWTIdentity(cfg.IdentityJWTSecret), committer, wsHub, cfg.SnapshotTopN, logger)
	snapshots := leaderboard.NewSnapshotJob(st, cfg.SnapshotTopN, logger)

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
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.AttestationHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", api.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", apiSrv.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return snapshots.Run(gctx, cfg.SnapshotEvery)
	})
	g.Go(func() error {
		slog.Info("score-verifier listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down score-verifier...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("score-verifier stopped")
}
