package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	kafkautils "github.com/nimeshabuddhika/fraud-router/pkg/kafka"
	middleware "github.com/nimeshabuddhika/fraud-router/pkg/middlewares"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/configs"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/handlers"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/ingestion"
	"go.uber.org/zap"
)

// App is the long-running worker: the HTTP trigger plus the optional Kafka loop.
type App struct {
	Server *http.Server

	logger   *zap.Logger
	cfg      *configs.Config
	pipeline *Pipeline
	consumer *ingestion.KafkaBatchConsumer
}

// NewApp wires dependencies and builds the Gin engine. Call Run to serve.
func NewApp(ctx context.Context, logger *zap.Logger, cfg *configs.Config) (*App, error) {
	if cfg.KafkaConsumerEnabled {
		if err := kafkautils.InitKafkaTopics(ctx, logger, topicConfig(cfg)); err != nil {
			return nil, err
		}
	}

	pipeline, err := NewPipeline(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{logger: logger, cfg: cfg, pipeline: pipeline}

	httpBatches, err := ingestion.NewConsumer(ingestion.ConsumerConfig{
		Logger:         logger,
		Orchestrator:   pipeline.Orchestrator,
		MaxConcurrency: cfg.MaxConcurrentMessages,
		Source:         "http",
	})
	if err != nil {
		pipeline.Close()
		return nil, err
	}

	if cfg.KafkaConsumerEnabled {
		kafkaBatches, err := ingestion.NewConsumer(ingestion.ConsumerConfig{
			Logger:         logger,
			Orchestrator:   pipeline.Orchestrator,
			MaxConcurrency: cfg.MaxConcurrentMessages,
			Source:         "kafka",
		})
		if err != nil {
			pipeline.Close()
			return nil, err
		}
		dlqDest := dispatch.Destination{Scheme: dispatch.SchemeKafka, Name: cfg.KafkaDLQTopic, Raw: "kafka://" + cfg.KafkaDLQTopic}
		a.consumer, err = ingestion.NewKafkaBatchConsumer(ingestion.KafkaBatchConfig{
			Logger:  logger,
			Config:  cfg,
			Handler: kafkaBatches,
			DLQ:     dispatch.NewKafkaSink(dlqDest, pipeline.Producer),
		})
		if err != nil {
			pipeline.Close()
			return nil, err
		}
	}

	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           NewRouter(logger, httpBatches, cfg.BatchSize),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// NewRouter builds the gin engine for the batch trigger, health and metrics.
func NewRouter(logger *zap.Logger, batches ingestion.BatchHandler, maxBatchSize int) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	handlers.NewBatchHandler(logger, batches, maxBatchSize).RegisterRoutes(api)
	handlers.NewBaseHandler(logger).RegisterRoutes(r)
	return r
}

// Run serves until ctx is cancelled, then drains the Kafka loop and the HTTP server
// within ShutdownTimeout and releases the clients.
func (a *App) Run(ctx context.Context) error {
	stopConsumer := func() {}
	if a.consumer != nil {
		closer, err := a.consumer.Start(ctx)
		if err != nil {
			a.pipeline.Close()
			return err
		}
		stopConsumer = closer
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("fraud_worker_started", zap.String("port", a.cfg.Port), zap.Bool("kafka_consumer", a.consumer != nil))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting_down")
	case err, ok := <-serveErr:
		if ok {
			runErr = err
			a.logger.Error("server_error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http_shutdown_error", zap.Error(err))
	}
	stopConsumer()
	a.pipeline.Close()
	return runErr
}

func topicConfig(cfg *configs.Config) kafkautils.KafkaConfig {
	topics := []kafkautils.TopicConfig{
		{
			Topic:             cfg.KafkaTransactionTopic,
			NumPartitions:     cfg.KafkaPartition,
			ReplicationFactor: 1,
		},
		{
			Topic:             cfg.KafkaDLQTopic,
			NumPartitions:     1,
			ReplicationFactor: 1,
			Config: map[string]string{
				"cleanup.policy": "delete",
				"retention.ms":   fmt.Sprintf("%d", cfg.KafkaDLQRetention.Milliseconds()),
			},
		},
	}
	for _, dest := range []dispatch.Destination{cfg.AlertDest, cfg.CleanDest} {
		if dest.Scheme == dispatch.SchemeKafka {
			topics = append(topics, kafkautils.TopicConfig{Topic: dest.Name, NumPartitions: cfg.KafkaPartition, ReplicationFactor: 1})
		}
	}
	return kafkautils.KafkaConfig{BootstrapServers: cfg.KafkaBrokers, Topics: topics}
}
