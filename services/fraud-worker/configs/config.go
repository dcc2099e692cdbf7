package configs

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/utils"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/evaluation"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for fraud-worker.
type Config struct {
	Port                  string        `mapstructure:"PORT" validate:"required"`
	KafkaConsumerEnabled  bool          `mapstructure:"KAFKA_CONSUMER_ENABLED"`
	KafkaBrokers          string        `mapstructure:"KAFKA_BROKERS" validate:"required_if=KafkaConsumerEnabled true"`
	KafkaPartition        int           `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	KafkaTransactionTopic string        `mapstructure:"KAFKA_TRANSACTION_TOPIC" validate:"required"`
	KafkaConsumerGroup    string        `mapstructure:"KAFKA_CONSUMER_GROUP" validate:"required"`
	KafkaDLQTopic         string        `mapstructure:"KAFKA_DLQ_TOPIC" validate:"required"`
	KafkaDLQRetention     time.Duration `mapstructure:"KAFKA_DLQ_RETENTION" validate:"required"`

	AlertDestination     string   `mapstructure:"ALERT_DESTINATION" validate:"required"`
	CleanDestination     string   `mapstructure:"CLEAN_DESTINATION" validate:"required"`
	FraudAmountThreshold string   `mapstructure:"FRAUD_AMOUNT_THRESHOLD" validate:"required,numeric"`
	RuleFailurePolicy    string   `mapstructure:"RULE_FAILURE_POLICY" validate:"oneof=open closed"`
	RulesFile            string   `mapstructure:"RULES_FILE"`
	MerchantDenylist     []string `mapstructure:"MERCHANT_DENYLIST"`
	UserDenylist         []string `mapstructure:"USER_DENYLIST"`

	VelocityLimit  int           `mapstructure:"VELOCITY_LIMIT" validate:"min=0"`
	VelocityWindow time.Duration `mapstructure:"VELOCITY_WINDOW" validate:"required_unless=VelocityLimit 0"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	RedisUsername  string        `mapstructure:"REDIS_USERNAME"`
	RedisPassword  string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int           `mapstructure:"REDIS_DB" validate:"min=0"`
	RedisTLS       bool          `mapstructure:"REDIS_TLS"`
	RedisPoolSize  int           `mapstructure:"REDIS_POOL_SIZE" validate:"min=1"`

	DispatchMaxAttempts     int           `mapstructure:"DISPATCH_MAX_ATTEMPTS" validate:"min=1,max=10"`
	DispatchBaseBackoff     time.Duration `mapstructure:"DISPATCH_BASE_BACKOFF" validate:"required"`
	DispatchMaxBackoff      time.Duration `mapstructure:"DISPATCH_MAX_BACKOFF" validate:"required,gtefield=DispatchBaseBackoff"`
	DispatchTimeout         time.Duration `mapstructure:"DISPATCH_TIMEOUT" validate:"required"`
	DispatchRateLimitPerSec int           `mapstructure:"DISPATCH_RATE_LIMIT_PER_SEC" validate:"min=0"` // 0 disables the throttle
	DispatchBurst           int           `mapstructure:"DISPATCH_BURST" validate:"min=1"`
	DispatchMaxThrottleWait time.Duration `mapstructure:"DISPATCH_MAX_THROTTLE_WAIT" validate:"required"` // Throttle wait guard: fail fast instead of queueing longer than this
	MaxConcurrentMessages   int           `mapstructure:"MAX_CONCURRENT_MESSAGES" validate:"min=1"`
	BatchSize               int           `mapstructure:"BATCH_SIZE" validate:"min=1,max=1000"`
	BatchWait               time.Duration `mapstructure:"BATCH_WAIT" validate:"required"`
	ShutdownTimeout         time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`
	JaegerEndpoint          string        `mapstructure:"JAEGER_ENDPOINT" validate:"omitempty,url"`
	ServiceName             string        `mapstructure:"SERVICE_NAME" validate:"required"`
	ExposeErrorDetails      bool          `mapstructure:"EXPOSE_ERROR_DETAILS"`

	// Resolved by Load after validation.
	Threshold     decimal.Decimal          `mapstructure:"-"`
	FailurePolicy evaluation.FailurePolicy `mapstructure:"-"`
	AlertDest     dispatch.Destination     `mapstructure:"-"`
	CleanDest     dispatch.Destination     `mapstructure:"-"`
	// CustomRules are compiled from RulesFile once, here.
	CustomRules []evaluation.Rule `mapstructure:"-"`
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("KAFKA_CONSUMER_ENABLED", "true")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_TRANSACTION_TOPIC", "transactions")
	viper.SetDefault("KAFKA_CONSUMER_GROUP", "fraud-worker")
	viper.SetDefault("KAFKA_DLQ_TOPIC", "transactions-dlq")
	viper.SetDefault("KAFKA_DLQ_RETENTION", "168h")
	viper.SetDefault("FRAUD_AMOUNT_THRESHOLD", evaluation.DefaultAmountThreshold.String())
	viper.SetDefault("RULE_FAILURE_POLICY", string(evaluation.FailOpen))
	viper.SetDefault("VELOCITY_LIMIT", "0")
	viper.SetDefault("VELOCITY_WINDOW", "1m")
	viper.SetDefault("REDIS_DB", "0")
	viper.SetDefault("REDIS_POOL_SIZE", "10")
	viper.SetDefault("DISPATCH_MAX_ATTEMPTS", "3")
	viper.SetDefault("DISPATCH_BASE_BACKOFF", "200ms")
	viper.SetDefault("DISPATCH_MAX_BACKOFF", "2s")
	viper.SetDefault("DISPATCH_TIMEOUT", "5s")
	viper.SetDefault("DISPATCH_RATE_LIMIT_PER_SEC", "0")
	viper.SetDefault("DISPATCH_BURST", "1")
	viper.SetDefault("DISPATCH_MAX_THROTTLE_WAIT", "1s")
	viper.SetDefault("MAX_CONCURRENT_MESSAGES", "16")
	viper.SetDefault("BATCH_SIZE", "10")
	viper.SetDefault("BATCH_WAIT", "1s")
	viper.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	viper.SetDefault("SERVICE_NAME", "fraud-worker")
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()
	setDefaults()

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/fraud-worker/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "failed to read configuration", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	if err := cfg.resolve(); err != nil {
		logger.Error("invalid_config", zap.Error(err))
		return nil, err
	}
	return &cfg, nil
}

// resolve performs the checks struct tags cannot express and fills the typed fields.
func (c *Config) resolve() error {
	threshold, err := decimal.NewFromString(c.FraudAmountThreshold)
	if err != nil || threshold.IsNegative() {
		return pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("FRAUD_AMOUNT_THRESHOLD must be a non-negative number, got %q", c.FraudAmountThreshold), err)
	}
	c.Threshold = threshold

	if c.FailurePolicy, err = evaluation.ParseFailurePolicy(c.RuleFailurePolicy); err != nil {
		return err
	}
	if c.AlertDest, c.CleanDest, err = dispatch.ResolveDestinations(c.AlertDestination, c.CleanDestination); err != nil {
		return err
	}
	if c.RedisRequired() && c.RedisAddr == "" {
		return pkg.NewAppError(pkg.ErrConfigCode, "REDIS_ADDR is required by the velocity rule or a redis destination", nil)
	}
	if c.KafkaRequired() && c.KafkaBrokers == "" {
		return pkg.NewAppError(pkg.ErrConfigCode, "KAFKA_BROKERS is required by a kafka destination", nil)
	}
	if c.RulesFile != "" {
		if c.CustomRules, err = evaluation.LoadRuleFile(c.RulesFile); err != nil {
			return err
		}
	}
	return nil
}

// RedisRequired reports whether any configured component talks to Redis.
func (c *Config) RedisRequired() bool {
	return c.VelocityLimit > 0 || c.AlertDest.Scheme == dispatch.SchemeRedis || c.CleanDest.Scheme == dispatch.SchemeRedis
}

// KafkaRequired reports whether a kafka producer is needed for the channels.
func (c *Config) KafkaRequired() bool {
	return c.AlertDest.Scheme == dispatch.SchemeKafka || c.CleanDest.Scheme == dispatch.SchemeKafka
}

// HTTPRequired reports whether a channel posts to a webhook.
func (c *Config) HTTPRequired() bool {
	return c.AlertDest.IsHTTP()
}
