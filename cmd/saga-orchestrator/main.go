package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thanhphu2410/microservices-booking-app/internal/idempotency"
	"github.com/thanhphu2410/microservices-booking-app/internal/saga"
	"github.com/thanhphu2410/microservices-booking-app/pkg/config"
	"github.com/thanhphu2410/microservices-booking-app/pkg/database"
	"github.com/thanhphu2410/microservices-booking-app/pkg/kafka"
	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
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
		ServiceName: "saga-orchestrator",
		Environment: cfg.App.Environment,
		Debug:       cfg.App.Debug,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Saga Orchestrator...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	if cfg.OTel.Enabled {
		_, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:       true,
			ServiceName:   "saga-orchestrator",
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

	// Initialize PostgreSQL (saga ledger + idempotency records)
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

	ledger := saga.NewPostgresLedger(db.Pool())
	guard := idempotency.NewPostgresGuard(db.Pool())

	// Initialize Kafka producer for outbound commands
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-producer",
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka producer: %v", err))
	}
	defer producer.Close()
	appLog.Info("Kafka producer connected")

	dispatcher := saga.NewBookingDispatcher(ledger, saga.NewKafkaPublisher(producer))

	// Initialize Kafka consumer for inbound saga events
	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-consumer",
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		Topics:        saga.InboundTopics(),
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka consumer: %v", err))
	}
	defer consumer.Close()
	appLog.Info("Kafka consumer connected")

	sagaConsumer := saga.NewConsumer(consumer, dispatcher, guard, &saga.ConsumerConfig{
		Workers:        cfg.Saga.Workers,
		IdempotencyTTL: cfg.Saga.IdempotencyTTL,
	})

	go func() {
		if err := sagaConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Error(fmt.Sprintf("Saga consumer error: %v", err))
		}
	}()

	appLog.Info("Saga Orchestrator started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down...")
	cancel()

	time.Sleep(2 * time.Second)
	appLog.Info("Saga Orchestrator exited gracefully")
}
