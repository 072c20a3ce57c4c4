package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bloodhero/donation-portal/donation-portal-backend/internal/auth"
	"bloodhero/donation-portal/donation-portal-backend/internal/config"
	"bloodhero/donation-portal/donation-portal-backend/internal/donors"
	"bloodhero/donation-portal/donation-portal-backend/internal/notifications"
	"bloodhero/donation-portal/donation-portal-backend/internal/notifications/websocket"
	"bloodhero/donation-portal/donation-portal-backend/internal/ratelimit"
	"bloodhero/donation-portal/donation-portal-backend/internal/requests"
	"bloodhero/donation-portal/donation-portal-backend/internal/users"
	"bloodhero/donation-portal/donation-portal-backend/pkg/storage"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Connect to MongoDB (requests, donors, users)
	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		logger.Fatal("Failed to ping MongoDB", zap.Error(err))
	}
	db := mongoClient.Database(cfg.Mongo.DBName)

	// Connect to Postgres (notification bookkeeping)
	gormDB, err := gorm.Open(postgres.Open(cfg.Postgres.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}

	// Connect to Redis (daily rate limits)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, rate limiting will fail open", zap.Error(err))
	}

	// AWS clients
	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.AccessKey != "" && cfg.AWS.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKey, cfg.AWS.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	store, err := storage.NewS3Client(ctx, cfg.AWS.Region, cfg.AWS.S3Endpoint, cfg.AWS.AccessKey, cfg.AWS.SecretKey)
	if err != nil {
		logger.Fatal("Failed to create S3 client", zap.Error(err))
	}

	// Notification pipeline
	notifRepo, err := notifications.NewRepository(gormDB)
	if err != nil {
		logger.Fatal("Failed to initialize notification repository", zap.Error(err))
	}
	wsManager := websocket.NewManager(logger)
	emailChannel := notifications.NewEmailChannel(sesv2.NewFromConfig(awsCfg), cfg.AWS.SenderEmail)
	pushChannel := notifications.NewPushChannel(sns.NewFromConfig(awsCfg), cfg.AWS.PushTopicARN)
	dispatcher := notifications.NewDispatcher(notifRepo, emailChannel, pushChannel, wsManager, logger)
	queue := notifications.NewQueue(cfg.Notifications.QueueSize, cfg.Notifications.Workers, dispatcher, notifRepo, logger)
	queue.Start(context.Background())
	notifier := notifications.NewService(queue, cfg.Server.FrontendURL, logger)

	// Domain services
	userDir := users.NewDirectory(db)
	donorRepo := donors.NewRepository(db)
	reqRepo := requests.NewRepository(db)
	limiter := ratelimit.NewLimiter(redisClient, "reqs", requests.DailyRequestLimit,
		cfg.Notifications.Location(), logger)

	reqService := requests.NewService(reqRepo, donors.NewEngineDirectory(donorRepo), userDir,
		notifier, limiter, store, cfg.AWS.ProofBucket, logger)
	reqHandler := requests.NewHandler(reqService, store, cfg.AWS.ProofBucket, logger)

	donorService := donors.NewService(donorRepo, reqRepo, logger)
	donorHandler := donors.NewHandler(donorService, logger)

	notifHandler := notifications.NewHandler(notifRepo, wsManager, logger)

	// Setup Router
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	api.Use(auth.Middleware(cfg.Security.JWTSecret))
	{
		reqHandler.RegisterRoutes(api)
		donorHandler.RegisterRoutes(api)
		notifHandler.RegisterRoutes(api)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"connections": wsManager.ConnectionCount(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", cfg.Server.GetServerAddr()))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	queue.Close()
	wsManager.Close()
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Error("Failed to disconnect MongoDB", zap.Error(err))
	}

	logger.Info("Server exiting")
}
