package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"

	"passport-sync-service/internal/config"
	"passport-sync-service/internal/connectors"
	"passport-sync-service/internal/database"
	"passport-sync-service/internal/events"
	"passport-sync-service/internal/handlers"
	"passport-sync-service/internal/jobs"
	"passport-sync-service/internal/metrics"
	"passport-sync-service/internal/middleware"
	"passport-sync-service/internal/progress"
	"passport-sync-service/internal/repository"
	"passport-sync-service/internal/secrets"
	"passport-sync-service/internal/services"
)

// @title Passport Sync API
// @version 1.0.0
// @description Imports brand catalogs from connected commerce platforms into digital product passports

// @host localhost:8099
// @BasePath /api/v1

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if !cfg.IsProduction() {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}
	logger.Info("Database models migrated")

	store, closeStore := setupCredentialStore(cfg, db, logger)
	defer closeStore()

	// Redis is optional: it relays progress across instances and backs rate limiting
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Failed to parse Redis URL, progress stays instance-local")
		} else {
			redisClient = redis.NewClient(opt)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.WithError(err).Warn("Failed to connect to Redis, progress stays instance-local")
				redisClient = nil
			} else {
				logger.Info("Connected to Redis")
			}
			cancel()
		}
	}

	m := metrics.New()

	hub := progress.NewHub(logger)
	hub.SetSubscriberObserver(m.SetProgressSubscribers)

	// Lifecycle events are optional as well
	var lifecycle services.LifecyclePublisher
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect event publisher, lifecycle events disabled")
		} else {
			lifecycle = publisher
			defer publisher.Close()
		}
	}

	// Repositories
	connectionRepo := repository.NewConnectionRepository(db)
	syncRepo := repository.NewSyncRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	mappingRepo := repository.NewFieldMappingRepository(db)

	// Services
	providers := services.NewProviderFactory(store, nil)
	ownershipService := services.NewFieldOwnershipService(connectionRepo, mappingRepo, logger)
	syncService := services.NewSyncService(services.SyncDependencies{
		Connections: connectionRepo,
		Jobs:        syncRepo,
		Catalog:     catalogRepo,
		Ownership:   ownershipService,
		Providers:   providers,
		Progress:    hub,
		Events:      lifecycle,
		Metrics:     m,
	}, services.NewSyncConfig(cfg), logger)
	connectionService := services.NewConnectionService(connectionRepo, syncRepo, store, providers, cfg.SyncVerifyOnConnect, logger)
	connectionService.SetJobStopper(syncService)

	// Background work
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if redisClient != nil {
		relay := progress.NewRedisRelay(redisClient, hub, logger)
		go func() {
			if err := relay.Run(bgCtx); err != nil {
				logger.WithError(err).Error("Progress relay stopped")
			}
		}()
	}

	var subscriber *events.Subscriber
	if cfg.NATSURL != "" {
		subscriber, err = events.NewSubscriber(cfg.NATSURL, syncService, connectionService, services.IsTriggerRejection, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect event subscriber")
		} else if err := subscriber.Start(); err != nil {
			logger.WithError(err).Warn("Failed to start event subscriber")
		}
	}

	reaper := jobs.NewStaleJobReaper(syncService, cfg.SyncReaperInterval, logger)
	go reaper.Start(bgCtx)

	scheduler := jobs.NewScheduledSyncJob(connectionRepo, syncService, cfg.SyncSchedulerTick, logger)
	go scheduler.Start(bgCtx)

	set := &handlers.HandlerSet{
		Connections:   handlers.NewConnectionHandler(connectionService),
		Connectors:    handlers.NewConnectorHandler(connectors.NewPresentation(cfg.FieldLabelOverrides, cfg.HiddenFields)),
		FieldMappings: handlers.NewFieldMappingHandler(ownershipService),
		Syncs:         handlers.NewSyncHandler(syncService),
		Progress:      handlers.NewProgressHandler(hub, cfg.CORSAllowedOrigins, logger),
		Webhooks:      handlers.NewWebhookHandler(connectionService, syncService, cfg.ShopifyWebhookSecret, logger),
	}
	router := setupRouter(cfg, db, redisClient, m, set, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Environment}).Info("Passport sync service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down passport sync service...")

	reaper.Stop()
	scheduler.Stop()
	subscriber.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop taking requests first so no new job is created mid-shutdown
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := syncService.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Sync runs did not stop in time")
	}
	bgCancel()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("Server shutdown complete")
}

// setupCredentialStore prefers GCP Secret Manager, then the database vault.
// Outside production a throwaway vault keeps local development working.
func setupCredentialStore(cfg *config.Config, db *gorm.DB, logger *logrus.Logger) (secrets.CredentialStore, func()) {
	noop := func() {}

	if cfg.GCPProjectID != "" {
		manager, err := secrets.NewGCPSecretManager(context.Background(), cfg.GCPProjectID)
		if err == nil {
			logger.Info("GCP Secret Manager initialized")
			return manager, func() { _ = manager.Close() }
		}
		logger.WithError(err).Warn("Failed to initialize GCP Secret Manager")
	}

	if cfg.CredentialsEncryptionKey != "" {
		vault, err := secrets.NewVault(db, cfg.CredentialsEncryptionKey)
		if err != nil {
			logger.WithError(err).Fatal("Invalid CREDENTIALS_ENCRYPTION_KEY")
		}
		logger.Info("Database credential vault initialized")
		return vault, noop
	}

	if cfg.IsProduction() {
		logger.Warn("No credential store configured, connecting providers will fail")
		return nil, noop
	}

	vault, err := secrets.NewEphemeralVault(db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ephemeral credential vault")
	}
	logger.Warn("Using ephemeral credential vault, stored credentials will not survive a restart")
	return vault, noop
}

// setupRouter configures the HTTP router
func setupRouter(
	cfg *config.Config,
	db *gorm.DB,
	redisClient *redis.Client,
	m *metrics.Metrics,
	set *handlers.HandlerSet,
	logger *logrus.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gosharedmw.SecurityHeaders())

	if redisClient != nil {
		router.Use(gosharedmw.RedisRateLimitMiddlewareWithProfile(redisClient, "standard"))
	} else {
		router.Use(gosharedmw.RateLimit())
	}

	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.RequestLogger(logger))
	router.Use(m.Middleware())

	// Health check and metrics
	healthHandler := handlers.NewHealthHandler(db)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", m.Handler())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Webhooks authenticate by signature, not by Istio claims
	handlers.RegisterWebhookRoutes(router, set)

	v1 := router.Group("/api/v1")
	v1.Use(gosharedmw.IstioAuth(gosharedmw.IstioAuthConfig{
		RequireAuth:        false,
		AllowLegacyHeaders: true,
		SkipPaths:          []string{"/health", "/ready", "/metrics", "/swagger", "/webhooks/"},
	}))
	v1.Use(middleware.BrandContext())
	handlers.RegisterV1Routes(v1, set)

	return router
}
