package app

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/cache"
	"github.com/nimeshabuddhika/fraud-router/pkg/utils"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/configs"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/evaluation"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/workflow"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const producerFlushTimeoutMs = 5000

// Pipeline is the evaluate -> dispatch stack shared by the HTTP trigger and the Kafka loop.
type Pipeline struct {
	Engine       *evaluation.Engine
	Orchestrator workflow.Orchestrator
	Producer     *kafka.Producer
	Redis        *redis.Client

	closers []func()
}

// Close releases the transport clients in reverse creation order.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// EngineOptions selects the rules that are not safe for every caller.
type EngineOptions struct {
	// SkipVelocity leaves out the velocity rule, which increments shared counters.
	SkipVelocity bool
}

// BuildEngine registers the amount threshold rule first, then the optional rules in a fixed order.
func BuildEngine(logger *zap.Logger, cfg *configs.Config, counter redis.Cmdable, opts EngineOptions) (*evaluation.Engine, error) {
	rules := []evaluation.Rule{evaluation.NewAmountThresholdRule(cfg.Threshold)}
	if len(cfg.MerchantDenylist) > 0 {
		rules = append(rules, evaluation.NewMerchantDenylistRule(cfg.MerchantDenylist))
	}
	if len(cfg.UserDenylist) > 0 {
		rules = append(rules, evaluation.NewUserDenylistRule(cfg.UserDenylist))
	}
	if cfg.VelocityLimit > 0 && !opts.SkipVelocity {
		if counter == nil {
			return nil, pkg.NewAppError(pkg.ErrConfigCode, "velocity rule requires a redis client", nil)
		}
		rules = append(rules, evaluation.NewVelocityRule(evaluation.NewRedisCounter(counter), int64(cfg.VelocityLimit), cfg.VelocityWindow))
	}
	rules = append(rules, cfg.CustomRules...)

	engine := evaluation.NewEngine(evaluation.EngineConfig{
		Logger:        logger,
		Rules:         rules,
		FailurePolicy: cfg.FailurePolicy,
	})
	logger.Info("rules_registered",
		zap.Strings("rules", engine.Rules()),
		zap.String("failure_policy", string(cfg.FailurePolicy)),
		zap.String("amount_threshold", cfg.Threshold.String()))
	return engine, nil
}

// NewPipeline connects only the clients the configured channels and rules need.
func NewPipeline(ctx context.Context, logger *zap.Logger, cfg *configs.Config) (*Pipeline, error) {
	p := &Pipeline{}
	fail := func(err error) (*Pipeline, error) {
		p.Close()
		return nil, err
	}

	if cfg.RedisRequired() {
		client, closer, err := cache.New(ctx, logger, redisConfig(cfg))
		if err != nil {
			return fail(pkg.NewAppError(pkg.ErrConfigCode, "failed to connect to redis", err))
		}
		p.Redis = client
		p.closers = append(p.closers, closer)
	}
	if cfg.KafkaRequired() || cfg.KafkaConsumerEnabled {
		producer, err := NewProducer(logger, cfg.KafkaBrokers)
		if err != nil {
			return fail(err)
		}
		p.Producer = producer
		p.closers = append(p.closers, func() {
			producer.Flush(producerFlushTimeoutMs)
			producer.Close()
		})
	}

	deps := dispatch.SinkDeps{}
	if p.Producer != nil {
		deps.KafkaProducer = p.Producer
	}
	if p.Redis != nil {
		deps.Redis = p.Redis
	}
	if cfg.HTTPRequired() {
		deps.HTTPClient = utils.NewHTTPClient(utils.WithClientTimeout(cfg.DispatchTimeout))
	}
	alertSink, err := dispatch.NewSink(cfg.AlertDest, deps)
	if err != nil {
		return fail(err)
	}
	cleanSink, err := dispatch.NewSink(cfg.CleanDest, deps)
	if err != nil {
		return fail(err)
	}

	var limiter *rate.Limiter
	if cfg.DispatchRateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRateLimitPerSec), cfg.DispatchBurst)
	}
	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Logger:          logger,
		AlertSink:       alertSink,
		CleanSink:       cleanSink,
		Limiter:         limiter,
		MaxThrottleWait: cfg.DispatchMaxThrottleWait,
	})
	if err != nil {
		return fail(err)
	}

	var counter redis.Cmdable
	if p.Redis != nil {
		counter = p.Redis
	}
	if p.Engine, err = BuildEngine(logger, cfg, counter, EngineOptions{}); err != nil {
		return fail(err)
	}

	p.Orchestrator, err = workflow.NewOrchestrator(workflow.OrchestratorConfig{
		Logger:         logger,
		Evaluator:      p.Engine,
		Dispatcher:     dispatcher,
		MaxAttempts:    cfg.DispatchMaxAttempts,
		BaseBackoff:    cfg.DispatchBaseBackoff,
		MaxBackoff:     cfg.DispatchMaxBackoff,
		AttemptTimeout: cfg.DispatchTimeout,
		Tracer:         otel.Tracer("fraud-worker/workflow"),
		OnTransition: func(txnID string, from, to pkg.WorkflowState) {
			logger.Debug("workflow_transition",
				zap.String(pkg.TransactionId, txnID),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
		},
	})
	if err != nil {
		return fail(err)
	}

	logger.Info("pipeline_ready",
		zap.String("alert_destination", cfg.AlertDest.String()),
		zap.String("clean_destination", cfg.CleanDest.String()),
		zap.Int("dispatch_max_attempts", cfg.DispatchMaxAttempts))
	return p, nil
}

func redisConfig(cfg *configs.Config) cache.Config {
	return cache.Config{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
		PoolSize: cfg.RedisPoolSize,
	}
}

// NewProducer creates an idempotent producer. Per-publish delivery reports go to
// the caller's channel; anything else on the events channel is logged.
func NewProducer(logger *zap.Logger, brokers string) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers, // Kafka broker(s)
		"acks":               "all",   // Wait for all replicas
		"enable.idempotence": "true",  // Ensure messages are not sent twice
	})
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("failed to create kafka producer for %s", brokers), err)
	}
	logger.Info("kafka_producer_created", zap.String("brokers", brokers))
	go handleProducerEvents(logger, p)
	return p, nil
}

func handleProducerEvents(logger *zap.Logger, p *kafka.Producer) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logger.Error("kafka_publish_failed", zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			logger.Error("kafka_producer_error", zap.Bool("fatal", ev.IsFatal()), zap.Error(ev))
		}
	}
}
