package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/devicegate/internal/config"
	"github.com/quocanhngo/devicegate/internal/handler"
	"github.com/quocanhngo/devicegate/internal/middleware"
	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/quocanhngo/devicegate/internal/repository"
	"github.com/quocanhngo/devicegate/internal/service"
	"github.com/quocanhngo/devicegate/internal/stream"
	"github.com/quocanhngo/devicegate/migrations"
	"github.com/quocanhngo/devicegate/pkg/auth"
	"github.com/quocanhngo/devicegate/pkg/mailer"
	"github.com/quocanhngo/devicegate/pkg/notification"
	"github.com/quocanhngo/devicegate/pkg/storage"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// @title           DeviceGate API
// @version         1.0
// @description     Per-user concurrent device limit service with Go, Gin, SSE, Redis Pub/Sub.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@devicegate.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /

// @securityDefinitions.basic BasicAuth

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log.Printf("🚀 Starting DeviceGate API Server [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.Env == "production" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v", err)
		log.Println("📦 Falling back to GORM AutoMigrate...")
		// Fallback to AutoMigrate if migration files fail
		if err := db.AutoMigrate(
			&model.ClientApp{},
			&model.Device{},
			&model.AuditEvent{},
		); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}
	log.Println("✅ Database migrated successfully")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// ==================== Email (SMTP / Mailpit) ====================
	mailClient := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	log.Printf("📧 SMTP configured: %s:%s", cfg.SMTP.Host, cfg.SMTP.Port)

	// ==================== Firebase (logout push fallback) ====================
	pushService, err := notification.NewPushService(cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Printf("⚠️  Firebase not available: %v (logout push disabled)", err)
	}

	// ==================== MinIO (audit archive) ====================
	var archiver storage.Archiver
	minioStorage, err := storage.NewMinIO(storage.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		log.Printf("⚠️  MinIO not available: %v (audit export disabled)", err)
	} else {
		archiver = minioStorage
		log.Println("✅ Connected to MinIO")
	}

	// ==================== Initialize Layers ====================
	// JWT Manager
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	// Repositories
	clientRepo := repository.NewClientRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Event hub (with Redis Pub/Sub for horizontal scaling)
	hub := stream.NewHub(rdb)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Services
	authService := service.NewAuthService(clientRepo, jwtManager, rdb)
	accessService := service.NewAccessService(deviceRepo, auditRepo, hub, mailClient, pushService, archiver, cfg.Limits)

	// Handlers
	accessHandler := handler.NewAccessHandler(accessService)
	listenHandler := handler.NewListenHandler(hub)
	dashboardHandler := handler.NewDashboardHandler(authService, accessService, clientRepo)
	wsHandler := handler.NewWSHandler(hub, jwtManager)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Swagger configuration
	// Serve swagger.json at /docs/swagger.json to avoid conflict with /swagger/* wildcard
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")

	// Swagger UI handling
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	// Global middleware
	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "devicegate-api",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// ==================== SDK Routes (client credential auth) ====================
	access := router.Group("/access")
	access.Use(middleware.ClientAuthMiddleware(authService))
	{
		access.POST("", accessHandler.Attach)
		access.POST("/detach", accessHandler.Detach)
		access.GET("/user/:userID/attached_devices", accessHandler.ListAttached)
		access.GET("/device/:deviceID/listen", listenHandler.Listen)
	}

	// ==================== Dashboard Routes ====================
	api := router.Group("/api/v1")
	{
		api.POST("/auth/token", dashboardHandler.IssueToken)

		protected := api.Group("")
		protected.Use(middleware.JWTAuthMiddleware(jwtManager))
		{
			protected.GET("/users/:userID/devices", dashboardHandler.ListUserDevices)
			protected.DELETE("/users/:userID/devices/:deviceID", dashboardHandler.ForceDetach)
			protected.GET("/audit/export", dashboardHandler.ExportAudit)
		}
	}

	// WebSocket endpoint for dashboard watchers (auth via query parameter)
	router.GET("/ws", wsHandler.HandleWebSocket)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	log.Printf("🌐 DeviceGate API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("📋 API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)
	log.Printf("📡 Listen stream: http://0.0.0.0:%s/access/device/<id>/listen", cfg.App.Port)
	log.Printf("🔌 Dashboard feed: ws://0.0.0.0:%s/ws?token=<jwt>", cfg.App.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	// Give ongoing requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	hubCancel()
	log.Println("✅ Server exited gracefully")
}
