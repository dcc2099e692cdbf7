package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/configs"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/evaluation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func baseConfig() *configs.Config {
	return &configs.Config{
		KafkaBrokers:          "localhost:9092",
		KafkaPartition:        4,
		KafkaTransactionTopic: "transactions",
		KafkaDLQTopic:         "transactions-dlq",
		KafkaDLQRetention:     24 * time.Hour,
		Threshold:             evaluation.DefaultAmountThreshold,
		FailurePolicy:         evaluation.FailOpen,
		AlertDest:             dispatch.Destination{Scheme: dispatch.SchemeKafka, Name: "fraud-alerts", Raw: "kafka://fraud-alerts"},
		CleanDest:             dispatch.Destination{Scheme: dispatch.SchemeRedis, Name: "clean", Raw: "redis://clean"},
	}
}

func mustParse(t *testing.T, body string) views.Transaction {
	t.Helper()
	txn, err := views.ParseTransaction([]byte(body))
	require.NoError(t, err)
	return txn
}

func TestBuildEngine_RegistersConfiguredRules(t *testing.T) {
	cfg := baseConfig()
	cfg.MerchantDenylist = []string{"shady-mart"}
	cfg.UserDenylist = []string{"u-banned"}
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules:\n  - name: casino\n    expression: merchant == \"casino\"\n"), 0o600))
	cfg.RulesFile = rulesPath
	custom, err := evaluation.LoadRuleFile(rulesPath)
	require.NoError(t, err)
	cfg.CustomRules = custom

	engine, err := BuildEngine(zap.NewNop(), cfg, nil, EngineOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"amount_threshold", "merchant_denylist", "user_denylist", "cel:casino"}, engine.Rules())

	res := engine.Evaluate(context.Background(), mustParse(t, `{"transactionId":"t1","amount":5,"userId":"u1","merchant":"casino"}`))
	assert.True(t, res.IsFraud)
	assert.Equal(t, []string{"cel:casino"}, res.FiredRules)
}

func TestRedisConfig_CarriesConnectionSettings(t *testing.T) {
	cfg := baseConfig()
	cfg.RedisAddr = "redis.internal:6380"
	cfg.RedisUsername = "worker"
	cfg.RedisPassword = "s3cret"
	cfg.RedisDB = 2
	cfg.RedisTLS = true
	cfg.RedisPoolSize = 32

	rc := redisConfig(cfg)
	assert.Equal(t, "redis.internal:6380", rc.Addr)
	assert.Equal(t, "worker", rc.Username)
	assert.Equal(t, "s3cret", rc.Password)
	assert.Equal(t, 2, rc.DB)
	assert.True(t, rc.UseTLS)
	assert.Equal(t, 32, rc.PoolSize)
}

func TestBuildEngine_VelocityNeedsRedis(t *testing.T) {
	cfg := baseConfig()
	cfg.VelocityLimit = 3
	cfg.VelocityWindow = time.Minute

	_, err := BuildEngine(zap.NewNop(), cfg, nil, EngineOptions{})
	require.Error(t, err)

	engine, err := BuildEngine(zap.NewNop(), cfg, nil, EngineOptions{SkipVelocity: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"amount_threshold"}, engine.Rules())
}

func TestBuildEngine_CustomThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.Threshold = decimal.NewFromInt(100)

	engine, err := BuildEngine(zap.NewNop(), cfg, nil, EngineOptions{})
	require.NoError(t, err)

	assert.True(t, engine.Evaluate(context.Background(), mustParse(t, `{"transactionId":"t1","amount":100.01}`)).IsFraud)
	assert.False(t, engine.Evaluate(context.Background(), mustParse(t, `{"transactionId":"t2","amount":100}`)).IsFraud)
}

func TestTopicConfig_IncludesKafkaChannels(t *testing.T) {
	cfg := baseConfig()

	tc := topicConfig(cfg)

	names := make([]string, 0, len(tc.Topics))
	for _, topic := range tc.Topics {
		names = append(names, topic.Topic)
	}
	assert.Equal(t, []string{"transactions", "transactions-dlq", "fraud-alerts"}, names)
	assert.Equal(t, "86400000", tc.Topics[1].Config["retention.ms"])
	assert.Equal(t, "localhost:9092", tc.BootstrapServers)
}
