package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"bloodhero/donation-portal/donation-portal-backend/internal/config"
	"bloodhero/donation-portal/donation-portal-backend/internal/notifications"
)

// The worker re-drives failed email and push deliveries on a schedule. It
// runs separately from the API so a delivery backlog never competes with
// request traffic.
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	gormDB, err := gorm.Open(postgres.Open(cfg.Postgres.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}

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

	repo, err := notifications.NewRepository(gormDB)
	if err != nil {
		logger.Fatal("Failed to initialize notification repository", zap.Error(err))
	}

	emailChannel := notifications.NewEmailChannel(sesv2.NewFromConfig(awsCfg), cfg.AWS.SenderEmail)
	pushChannel := notifications.NewPushChannel(sns.NewFromConfig(awsCfg), cfg.AWS.PushTopicARN)

	// No websocket manager here; socket deliveries are only attempted by the
	// API process and are never retried.
	dispatcher := notifications.NewDispatcher(repo, emailChannel, pushChannel, nil, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Notifications.RetrySchedule, func() {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer sweepCancel()
		dispatcher.RetrySweep(sweepCtx, 2*time.Minute, 200)
	})
	if err != nil {
		logger.Fatal("Invalid retry schedule",
			zap.String("schedule", cfg.Notifications.RetrySchedule), zap.Error(err))
	}

	scheduler.Start()
	logger.Info("Notification worker started",
		zap.String("schedule", cfg.Notifications.RetrySchedule))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	<-scheduler.Stop().Done()
	logger.Info("Worker exiting")
}
