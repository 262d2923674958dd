package main

import (
	"context"
	"fmt"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/zap"

	"github.com/songzhibin97/complaint-engine/audit"
	"github.com/songzhibin97/complaint-engine/config"
	"github.com/songzhibin97/complaint-engine/events"
	"github.com/songzhibin97/complaint-engine/metrics"
	"github.com/songzhibin97/complaint-engine/reasoning"
	"github.com/songzhibin97/complaint-engine/service"
	"github.com/songzhibin97/complaint-engine/storage"
	"github.com/songzhibin97/complaint-engine/workflow"
)

// app holds the wired components of one process.
type app struct {
	store     storage.Store
	bus       *events.Bus
	kafka     *events.KafkaPublisher
	collector *metrics.Collector
	resolver  *service.Resolver
	logger    *zap.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &app{
		store:     store,
		bus:       events.NewBus(events.WithLogger(logger)),
		collector: metrics.NewCollector(),
		logger:    logger,
	}
	if cfg.Kafka.Enabled {
		a.kafka = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		a.kafka.Attach(a.bus, events.TypeComplaintProcessed, events.TypeComplaintEscalated)
		logger.Info("publishing dispositions to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	snowflake := generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)
	options := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMaxIterations(cfg.Workflow.MaxIterations),
		workflow.WithObserver(a.collector),
		workflow.WithEventBus(a.bus),
	}

	client, err := newReasoner(ctx, cfg.Reasoning, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	recorder := []audit.Option{audit.WithGenerator(snowflake), audit.WithLogger(logger)}
	if client != nil {
		options = append(options, workflow.WithReasoner(client))
		recorder = append(recorder, audit.WithModelVersion(client.Model()))
	}
	options = append(options, workflow.WithRecorder(audit.NewRecorder(recorder...)))

	engine, err := workflow.NewEngine(options...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.resolver = service.NewResolver(engine, store,
		service.WithEventBus(a.bus),
		service.WithLogger(logger))

	logger.Info("complaint engine ready",
		zap.String("reasoning", cfg.Reasoning.Provider),
		zap.String("model", client.Model()),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("max_iterations", cfg.Workflow.MaxIterations))
	return a, nil
}

// Close stops the bus before the publisher and the store it feeds.
func (a *app) Close() {
	a.bus.Stop()
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		store, err := storage.NewRedisStore(storage.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: 2,
			IdleTimeout:  5 * time.Minute,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis storage: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := storage.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

// newReasoner returns nil for the rule-only provider.
func newReasoner(ctx context.Context, cfg config.ReasoningConfig, logger *zap.Logger) (*reasoning.Client, error) {
	var (
		backend reasoning.Backend
		err     error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		backend, err = reasoning.NewGeminiBackend(ctx, cfg.APIKey, cfg.Model, cfg.Temperature)
	case config.ProviderOpenAI:
		backend, err = reasoning.NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Provider, err)
	}
	return reasoning.NewClient(backend,
		reasoning.WithMaxAttempts(cfg.MaxAttempts),
		reasoning.WithBackoff(cfg.BaseDelay, cfg.MaxDelay),
		reasoning.WithTimeout(cfg.Timeout),
		reasoning.WithLogger(logger)), nil
}
