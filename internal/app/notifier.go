package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gw-ledger/internal/config"
	"gw-ledger/internal/notification"
	"gw-ledger/internal/notification/mongodb"
	"gw-ledger/pkg/logger"
)

// NotifierApp archives fraud alerts from Kafka into MongoDB.
type NotifierApp struct {
	log      *slog.Logger
	logFile  *os.File
	cfg      *config.NotifierConfig
	consumer *notification.Consumer
	storage  notification.Storage
}

func NewNotifierApp() (*NotifierApp, error) {
	cfg, err := config.NewNotifierConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerWithFile, err := logger.NewLoggerWithFile(cfg.LogFile, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	log := loggerWithFile.Logger

	log.Info("initializing notifier",
		slog.String("kafka_topic", cfg.Kafka.Topic),
		slog.String("mongo_database", cfg.MongoDB.Database))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MongoDB.Timeout)
	defer cancel()

	storage, err := mongodb.NewMongoStorage(
		ctx,
		cfg.MongoDB.URI,
		cfg.MongoDB.Database,
		cfg.MongoDB.Collection,
		cfg.MongoDB.Timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	log.Info("connected to MongoDB")

	consumer, err := notification.NewConsumer(notification.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.Topic,
		Workers: cfg.Kafka.Workers,
	}, storage, log)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &NotifierApp{
		log:      log,
		logFile:  loggerWithFile.LogFile,
		cfg:      cfg,
		consumer: consumer,
		storage:  storage,
	}, nil
}

func (a *NotifierApp) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	a.log.Info("kafka consumer running")

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdownChan
	a.log.Info("shutdown signal received", slog.String("signal", sig.String()))

	cancel()

	ctxClose, cancelClose := context.WithTimeout(context.Background(), a.cfg.Kafka.Timeout)
	defer cancelClose()

	if err := a.consumer.Close(ctxClose); err != nil {
		a.log.Error("failed to close kafka consumer", slog.String("error", err.Error()))
	}

	if err := a.storage.Close(); err != nil {
		a.log.Error("failed to close MongoDB", slog.String("error", err.Error()))
	}

	a.log.Info("notifier stopped")
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			a.log.Error("failed to close log file", slog.String("error", err.Error()))
		}
	}
	return nil
}

