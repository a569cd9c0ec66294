package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thanhphu2410/microservices-booking-app/internal/seatinv"
	"github.com/thanhphu2410/microservices-booking-app/pkg/config"
	"github.com/thanhphu2410/microservices-booking-app/pkg/database"
	"github.com/thanhphu2410/microservices-booking-app/pkg/kafka"
	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
	"github.com/thanhphu2410/microservices-booking-app/pkg/redis"
	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if _, err := logger.Init(&logger.Config{
		ServiceName: "seat-service",
		Environment: cfg.App.Environment,
		Debug:       cfg.App.Debug,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Seat Service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	if cfg.OTel.Enabled {
		_, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:       true,
			ServiceName:   "seat-service",
			CollectorAddr: cfg.OTel.CollectorAddr,
			Environment:   cfg.App.Environment,
			SampleRatio:   cfg.OTel.SampleRatio,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Failed to initialize tracer (continuing without tracing): %v", err))
		} else {
			defer telemetry.Shutdown(ctx)
			appLog.Info("OpenTelemetry tracing initialized")
		}
	}

	// Initialize PostgreSQL (seat status + layout)
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      20,
		MinConns:      5,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		EnableTracing: cfg.OTel.Enabled,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	defer db.Close()
	appLog.Info("PostgreSQL connected")

	// Initialize Redis (seat lock markers)
	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	// Initialize Kafka producer (seat events to the orchestrator)
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      "seat-service-producer",
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka producer: %v", err))
	}
	defer producer.Close()
	appLog.Info("Kafka producer connected")

	locker := seatinv.NewRedisLocker(redisClient)
	statusStore := seatinv.NewPostgresStatusStore(db.Pool())
	layoutStore := seatinv.NewPostgresLayoutStore(db.Pool())
	publisher := seatinv.NewKafkaPublisher(producer)
	service := seatinv.NewService(locker, statusStore, layoutStore, publisher, cfg.Seat.HoldTTL)

	// Initialize Kafka consumer (orchestrator commands)
	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      "seat-service-consumer",
		ConsumerGroup: "seat-service",
		Topics:        seatinv.ConsumerTopics(),
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka consumer: %v", err))
	}
	defer consumer.Close()
	appLog.Info("Kafka consumer connected")

	seatConsumer := seatinv.NewConsumer(consumer, service, publisher)
	go func() {
		if err := seatConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Error(fmt.Sprintf("Seat command consumer error: %v", err))
		}
	}()

	// Start the expired-hold sweeper
	sweeper := seatinv.NewHoldSweeper(statusStore, locker, cfg.Seat.SweepInterval, 100)
	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Error(fmt.Sprintf("Hold sweeper error: %v", err))
		}
	}()

	// HTTP server (seat RPC surface)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware("seat-service"))

	handler := seatinv.NewHandler(service)
	handler.RegisterRoutes(router.Group("/api/v1/seats"))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info(fmt.Sprintf("HTTP server listening on %s", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	appLog.Info("Seat Service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("HTTP server shutdown error: %v", err))
	}

	appLog.Info("Seat Service exited gracefully")
}
