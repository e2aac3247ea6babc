package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/auth"
	"github.com/omok-arena/api/internal/config"
	"github.com/omok-arena/api/internal/handler"
	"github.com/omok-arena/api/internal/logger"
	"github.com/omok-arena/api/internal/middleware"
	"github.com/omok-arena/api/internal/repository/postgres"
	redisrepo "github.com/omok-arena/api/internal/repository/redis"
	"github.com/omok-arena/api/internal/service"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("databaseURL", cfg.DatabaseURL).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Enable Redis keyspace notifications for watchdog expiry events.
	if err := redisClient.Underlying().ConfigSet(context.Background(), "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (forfeit timing falls back to polling)")
	}

	// Repos
	playerRepo := postgres.NewPlayerRepo(db)
	seriesRepo := postgres.NewSeriesRepo(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	swap2Svc := service.NewSwap2Service(redisClient)
	seriesSvc := service.NewSeriesService(seriesRepo, playerRepo, redisClient, swap2Svc, wsHub)
	disconnectSvc := service.NewDisconnectService(seriesSvc, redisClient, wsHub)

	// Watchdog listener (forfeit on disconnect grace expiry)
	watchdog := service.NewWatchdogListener(redisClient.Underlying(), disconnectSvc)

	// Handlers
	authHandler := handler.NewAuthHandler(jwtMgr, playerRepo)
	seriesHandler := handler.NewSeriesHandler(seriesSvc, disconnectSvc)
	swap2Handler := handler.NewSwap2Handler(seriesSvc, swap2Svc, wsHub)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("POST /series", seriesHandler.CreateSeries)
	api.HandleFunc("GET /series/mine", seriesHandler.ListMySeries)
	api.HandleFunc("GET /series/{id}", seriesHandler.GetSeries)
	api.HandleFunc("POST /series/{id}/end-game", seriesHandler.EndGame)
	api.HandleFunc("POST /series/{id}/rematch", seriesHandler.Rematch)
	api.HandleFunc("POST /series/{id}/disconnect", seriesHandler.Disconnect)
	api.HandleFunc("POST /series/{id}/reconnect", seriesHandler.Reconnect)
	api.HandleFunc("POST /series/{id}/abandon", seriesHandler.Abandon)
	api.HandleFunc("GET /series/{id}/swap2", swap2Handler.GetOpening)
	api.HandleFunc("POST /series/{id}/swap2/place", swap2Handler.PlaceStone)
	api.HandleFunc("POST /series/{id}/swap2/choice", swap2Handler.MakeChoice)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS(cfg.AllowedOrigins))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Recover in-flight openings (rehydrate live state from Postgres after restart)
	if err := seriesSvc.RecoverActiveSeries(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to recover active series (non-fatal)")
	}

	// Start watchdog listener
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchdog.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
