// Chatdesk - chat companion backend server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/chatdesk/internal/api"
	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/hints"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/insights"
	"github.com/ashureev/chatdesk/internal/live"
	"github.com/ashureev/chatdesk/internal/metrics"
	"github.com/ashureev/chatdesk/internal/middleware"
	"github.com/ashureev/chatdesk/internal/prefs"
	"github.com/ashureev/chatdesk/internal/push"
	"github.com/ashureev/chatdesk/internal/ratelimit"
	"github.com/ashureev/chatdesk/internal/retention"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/ashureev/chatdesk/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"auth_mode", cfg.AuthMode(),
		"postgres", store.IsPostgresDSN(cfg.DatabaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	m := metrics.New()

	limiter, closeLimiter, err := newInsightLimiter(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	defer closeLimiter()

	// Initialize services.
	prefsSvc := prefs.NewService(repo)
	insightSvc := insights.NewService(repo, m)

	var pushSvc *push.Service
	if cfg.Push.Enabled() {
		sender := push.NewWebPushSender(push.VAPIDConfig{
			PublicKey:  cfg.Push.VAPIDPublicKey,
			PrivateKey: cfg.Push.VAPIDPrivateKey,
			Subject:    cfg.Push.VAPIDSubject,
			TTL:        cfg.Push.TTL,
		})
		dispatcher := push.NewDispatcher(repo, sender,
			push.WithConcurrency(cfg.Push.Concurrency),
			push.WithObserver(m),
		)
		pushSvc = push.NewService(repo, dispatcher, cfg.AgentID)
		slog.Info("Push delivery enabled", "agent_id", cfg.AgentID, "concurrency", cfg.Push.Concurrency)
	} else {
		slog.Info("Push delivery disabled (VAPID keys not set)")
	}
	if cfg.Push.SendSecret == "" {
		slog.Info("Push send endpoint disabled (PUSH_SEND_SECRET not set)")
	}

	conns := live.NewConnManager()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, api.ClientConfig{
		AgentID:        cfg.AgentID,
		AuthMode:       cfg.AuthMode(),
		PushEnabled:    pushSvc != nil,
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
	})
	healthHandler := api.NewHealthHandler(repo, 2*time.Second)
	prefsHandler := api.NewPreferencesHandler(prefsSvc, cfg.MaxBodyBytes)
	pushHandler := api.NewPushHandler(pushSvc, cfg.Push.SendSecret, cfg.Push.VAPIDPublicKey, cfg.MaxBodyBytes)
	insightsHandler := api.NewInsightsHandler(insightSvc, cfg.MaxBodyBytes)
	wsHandler := live.NewHandler(conns, cfg.AllowedOrigins(), cfg.IsDevelopment(),
		live.WithEngineOptions(hints.WithObserver(m)),
		live.WithConnObserver(m),
	)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	pushHandler.RegisterPublicRoutes(r)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Routes that need a caller identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, identity.Options{
			JWTSecret: cfg.JWTSecret,
			IsDev:     cfg.IsDevelopment(),
		}))

		baseHandler.RegisterRoutes(r)
		prefsHandler.RegisterRoutes(r)
		pushHandler.RegisterRoutes(r)
		insightsHandler.RegisterRoutes(r, middleware.RateLimit(limiter, func(r *http.Request) string {
			return identity.UserIDFromContext(r.Context())
		}, m.RateLimitedFunc("insights")))

		// WebSocket endpoint.
		r.Get("/ws/hints", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Live connections are long-lived; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start retention worker.
	retentionDone := retention.NewWorker(repo, cfg.Insights.Retention).Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...", "live_connections", conns.Count())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	conns.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	select {
	case <-retentionDone:
	case <-shutdownCtx.Done():
		slog.Warn("Retention worker did not stop in time")
	}

	slog.Info("Server stopped successfully")
}

// newInsightLimiter returns the Redis limiter when REDIS_URL is set and the
// in-process limiter otherwise.
func newInsightLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	limit, window := cfg.Insights.RateLimit, cfg.Insights.RateWindow
	if cfg.RedisURL == "" {
		mem := ratelimit.NewMemory(limit, window)
		slog.Info("Insight rate limiter ready", "backend", "memory", "limit", limit, "window", window)
		return mem, func() { _ = mem.Close() }, nil
	}

	client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Insight rate limiter ready", "backend", "redis", "limit", limit, "window", window)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	}
	return ratelimit.NewRedis(client, "chatdesk:ratelimit:insights:", limit, window), closeFn, nil
}
