// LUMEN.BUILD generation service. Wires the database, provider router,
// prompt resolver and generation supervisor behind the HTTP and WebSocket
// API, then serves until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lumen-build/internal/ai"
	"lumen-build/internal/auth"
	"lumen-build/internal/billing"
	"lumen-build/internal/cache"
	"lumen-build/internal/config"
	"lumen-build/internal/db"
	"lumen-build/internal/handlers"
	"lumen-build/internal/logging"
	"lumen-build/internal/middleware"
	"lumen-build/internal/preview"
	"lumen-build/internal/prompts"
	"lumen-build/internal/supervisor"
)

func main() {
	// Environment variables alone are fine in deployment.
	_ = godotenv.Load()
	logging.Init()
	defer logging.Sync()
	log := logging.L()

	database, err := db.New()
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	if err := database.SeedPrompts(); err != nil {
		log.Fatal("prompt seeding failed", zap.Error(err))
	}
	if err := database.SeedAdmin(); err != nil {
		log.Warn("admin seeding failed", zap.Error(err))
	}

	keeper, err := config.KeeperFromEnv()
	if err != nil {
		log.Fatal("secrets keeper init failed", zap.Error(err))
	}

	snapshots := cache.New(os.Getenv("REDIS_URL"))
	defer snapshots.Close()

	configStore := ai.NewConfigStore(database.DB, keeper)
	recorder := billing.NewRecorder(database.DB)
	router := ai.NewRouter(configStore, configStore, recorder)
	resolver := prompts.NewResolver(prompts.NewGormStore(database.DB), prompts.NewCache())

	var validator preview.Validator
	if base := os.Getenv("PREVIEW_BASE_URL"); base != "" {
		validator = preview.NewHTTPValidator(base)
	} else {
		log.Warn("PREVIEW_BASE_URL not set, runtime validation disabled")
	}

	sup := supervisor.New(supervisor.Options{
		Store:     supervisor.NewGormStore(database.DB),
		Completer: router,
		Prompts:   resolver,
		Validator: validator,
		Snapshots: snapshots,
		Log:       logging.Named("supervisor"),
	})
	registry := supervisor.NewRegistry()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if os.Getenv("ENVIRONMENT") == "production" {
			log.Fatal("JWT_SECRET is required in production")
		}
		jwtSecret = "lumen-dev-secret"
		log.Warn("JWT_SECRET not set, using development secret")
	}
	jwtService := auth.NewJWTService(jwtSecret, "lumen-build", 24*time.Hour)

	buildHandler := handlers.NewBuildHandler(database.DB, sup, registry, recorder, logging.Named("builds"))
	providerHandler := handlers.NewProviderHandler(configStore, logging.Named("providers"))
	previewHandler := handlers.NewPreviewHandler(database.DB, snapshots, logging.Named("preview"))

	engine := setupRouter(jwtService, buildHandler, providerHandler, previewHandler)

	srv := &http.Server{
		Addr:              ":" + config.Getenv("PORT", "8080"),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

func setupRouter(jwtService *auth.JWTService, builds *handlers.BuildHandler, providers *handlers.ProviderHandler, previews *handlers.PreviewHandler) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsConfig.AllowOrigins = append(corsConfig.AllowOrigins, origins)
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   "lumen-build",
			"timestamp": time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The preview surface fetches snapshots without user auth; it sits on a
	// private network in deployment.
	router.GET("/api/preview/:id", previews.Snapshot)

	v1 := router.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(middleware.RequireAuth(jwtService))
	{
		protected.POST("/projects/:id/build", builds.StartBuild)
		protected.POST("/projects/:id/repair", builds.RepairBuild)
		protected.POST("/projects/:id/cancel", builds.CancelBuild)
		protected.GET("/projects/:id/status", builds.BuildStatus)
		protected.GET("/projects/:id/files", builds.ProjectFiles)
		protected.GET("/projects/:id/audits", builds.BuildAudits)
		protected.GET("/projects/:id/messages", builds.ProjectMessages)

		admin := protected.Group("")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/providers", providers.ListProviders)
			admin.POST("/providers", providers.SaveProvider)
			admin.POST("/providers/:id/activate", providers.ActivateProvider)
		}
	}

	router.GET("/ws/builds/:id", middleware.RequireAuth(jwtService), builds.StreamBuild)

	return router
}
