package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chatbattles/chatbattles/internal/auth"
	"github.com/chatbattles/chatbattles/internal/battle"
	"github.com/chatbattles/chatbattles/internal/config"
	"github.com/chatbattles/chatbattles/internal/gateway"
	"github.com/chatbattles/chatbattles/internal/providers"
	"github.com/chatbattles/chatbattles/internal/ratelimit"
	"github.com/chatbattles/chatbattles/internal/storage"
	"github.com/chatbattles/chatbattles/internal/telemetry"
	"github.com/chatbattles/chatbattles/internal/types"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// Local development convenience; absence of .env is not an error.
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	if level := parseLogLevel(cfg.Telemetry.LogLevel); level != slog.LevelInfo {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	}

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (battles will run but persistence will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (rate limiting fails open)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Build provider registry
	registry := providers.BuildFromConfig(loader.Providers())
	loader.OnReload(func() {
		newRegistry := providers.BuildFromConfig(loader.Providers())
		*registry = *newRegistry
		logger.Info("provider registry reloaded")
	})

	health := providers.NewHealthTracker()
	metrics := telemetry.NewMetrics()
	store := storage.NewStore(dbPool)

	var analyzer *battle.VisionAnalyzer
	if analysisModel := loader.Models().VisionAnalysisModel(); analysisModel != "" {
		if adapter, ok := registry.Get(types.FamilyMultimodal); ok {
			analyzer = battle.NewVisionAnalyzer(adapter, analysisModel)
		}
	}

	orchestrator := battle.NewOrchestrator(registry, analyzer, health, store, metrics, cfg.Battle)

	limiter := ratelimit.NewLimiter(rdb)
	quota := ratelimit.NewQuotaTracker(rdb)
	sessionStore := auth.NewCachedSessionStore(dbPool, rdb)

	handler := gateway.NewHandler(orchestrator, registry, store, quota, health, metrics,
		func() *config.ModelsConfig { return loader.Models() },
		func() *config.Config { return loader.Config() },
	)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/api/health", handler.Health)
	r.Handle(cfg.Telemetry.MetricsPath, promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(sessionStore))
		r.Use(ratelimit.Middleware(limiter, cfg.RateLimit.RequestsPerMinute, metrics))

		r.Post("/api/battle", handler.Battle)
		r.Post("/api/chat/stream", handler.ChatStream)
		r.Post("/api/vote", handler.Vote)
		r.Post("/api/contact", handler.Contact)
		r.Get("/api/history", handler.History)
		r.Get("/api/models", handler.Models)

		r.Group(func(r chi.Router) {
			r.Use(adminOnly(loader))
			r.Get("/api/admin/usage", handler.AdminUsage)
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("chatbattles starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chatbattles stopped")
}

// adminOnly admits requests carrying the configured X-Admin-Token, otherwise
// defers to admin-session auth.
func adminOnly(loader *config.Loader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := loader.Config().Admin.Token; tok != "" && r.Header.Get("X-Admin-Token") == tok {
				next.ServeHTTP(w, r)
				return
			}
			auth.RequireAdmin(next).ServeHTTP(w, r)
		})
	}
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
