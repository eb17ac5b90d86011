package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/config"
	"github.com/pulsefit/sync-server-go/internal/database"
	"github.com/pulsefit/sync-server-go/internal/fitbit"
	"github.com/pulsefit/sync-server-go/internal/handler"
	"github.com/pulsefit/sync-server-go/internal/jobs"
	"github.com/pulsefit/sync-server-go/internal/middleware"
	"github.com/pulsefit/sync-server-go/internal/redis"
	"github.com/pulsefit/sync-server-go/internal/repository"
	"github.com/pulsefit/sync-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	tokenRepo := repository.NewTokenRepository(db.DB)
	stateRepo := repository.NewStateRepository(redisClient)
	syncLogRepo := repository.NewSyncLogRepository(db.DB)

	provider := fitbit.NewClient(cfg.FitbitClientID, cfg.FitbitClientSecret)

	refreshLock := service.NewRedisRefreshLock(redisClient.Client)
	connectService := service.NewConnectService(cfg, provider, tokenRepo, stateRepo)
	tokenService := service.NewTokenService(cfg, provider, tokenRepo, refreshLock)
	healthService := service.NewHealthService(provider, tokenService, syncLogRepo)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(userRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)
	callbackLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, 30, time.Minute, "oauth_callback")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	oauthHandler := handler.NewOAuthHandler(connectService)
	healthHandler := handler.NewHealthHandler(healthService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/oauth/fitbit", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(callbackLimitMiddleware.Handler)
		r.Get("/callback", oauthHandler.Callback)
	})

	r.Route("/v1/fitbit", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/connect", oauthHandler.Connect)
		r.Get("/status", oauthHandler.Status)
		r.Delete("/connection", oauthHandler.Disconnect)

		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware.Handler)
			r.Post("/summary", healthHandler.Summary)
			r.Get("/syncs", healthHandler.RecentSyncs)
		})
	})

	cleanupJob := jobs.NewCleanupJob(syncLogRepo, cfg.SyncRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
