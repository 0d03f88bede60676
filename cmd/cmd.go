package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moment-backend/internal/config"
	"moment-backend/internal/handlers"
	"moment-backend/internal/jobs"
	"moment-backend/internal/middleware"
	"moment-backend/internal/repository"
	"moment-backend/internal/services"
	"moment-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Optional Redis event relay for multi-instance deployments
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connection established")
	}

	// Object storage for Moment image artifacts
	imageStore, err := storage.NewObjectStore(context.Background(), cfg.AWS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object store")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	coupleRepo := repository.NewCoupleRepository(db)
	memoryRepo := repository.NewMemoryRepository(db)
	momentRepo := repository.NewMomentRepository(db)

	// Realtime plane
	wsHub := services.NewWSHub()
	dispatcher := services.NewDispatcher(wsHub, rdb)

	// APNs push, disabled unless configured
	pushService, err := services.NewPushService(cfg.APNs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create push service")
	}

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	coupleService := services.NewCoupleService(coupleRepo, userRepo)
	memoryService := services.NewMemoryService(memoryRepo, coupleRepo)
	momentService := services.NewMomentService(
		momentRepo,
		coupleRepo,
		userRepo,
		memoryRepo,
		imageStore,
		dispatcher,
		wsHub,
		pushService,
		cfg.Moment.PendingWindow(),
	)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	coupleHandler := handlers.NewCoupleHandler(coupleService, dispatcher)
	memoryHandler := handlers.NewMemoryHandler(memoryService)
	momentHandler := handlers.NewMomentHandler(momentService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, userService, coupleService)

	// Expired-moment sweeper
	sweeper, err := jobs.NewSweeper(momentService, cfg.Moment.SweepSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sweeper")
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Cross-instance event relay
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	go dispatcher.RunRelay(relayCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)
		// Tolerates unauthenticated automated callers (external cron).
		r.Post("/moments/process-expired", momentHandler.ProcessExpired)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))
			r.Put("/users/push-token", userHandler.UpdatePushToken)
			r.Post("/couples", coupleHandler.CreateCouple)
			r.Get("/couples/me", coupleHandler.GetMyCouple)
			r.Delete("/couples/{couple_id}", coupleHandler.DeleteCouple)
			r.Post("/memories", memoryHandler.CreateMemory)
			r.Get("/memories", memoryHandler.GetMemories)
			r.Post("/moments/initiate", momentHandler.InitiateMoment)
			r.Post("/moments/{moment_id}/complete", momentHandler.CompleteMoment)
			r.Get("/moments/active", momentHandler.GetActiveMoment)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

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

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
