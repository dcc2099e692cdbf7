package configs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/evaluation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("APP_KAFKA_BROKERS", "localhost:9092")
	t.Setenv("APP_ALERT_DESTINATION", "kafka://fraud-alerts")
	t.Setenv("APP_CLEAN_DESTINATION", "kafka://clean-transactions")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Threshold.Equal(evaluation.DefaultAmountThreshold))
	assert.Equal(t, evaluation.FailOpen, cfg.FailurePolicy)
	assert.Equal(t, 3, cfg.DispatchMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.DispatchBaseBackoff)
	assert.Equal(t, 2*time.Second, cfg.DispatchMaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, dispatch.SchemeKafka, cfg.AlertDest.Scheme)
	assert.Equal(t, "clean-transactions", cfg.CleanDest.Name)
	assert.True(t, cfg.KafkaRequired())
	assert.False(t, cfg.RedisRequired())
	assert.Equal(t, 10, cfg.RedisPoolSize)
	assert.Empty(t, cfg.CustomRules)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ALERT_DESTINATION", "https://hooks.example.com/fraud")
	t.Setenv("APP_CLEAN_DESTINATION", "redis://clean")
	t.Setenv("APP_REDIS_ADDR", "localhost:6379")
	t.Setenv("APP_REDIS_DB", "3")
	t.Setenv("APP_REDIS_TLS", "true")
	t.Setenv("APP_FRAUD_AMOUNT_THRESHOLD", "2500.50")
	t.Setenv("APP_RULE_FAILURE_POLICY", "closed")
	t.Setenv("APP_MERCHANT_DENYLIST", "shady-mart,fraud-co")
	t.Setenv("APP_DISPATCH_MAX_ATTEMPTS", "5")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "2500.5", cfg.Threshold.String())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, evaluation.FailClosed, cfg.FailurePolicy)
	assert.Equal(t, []string{"shady-mart", "fraud-co"}, cfg.MerchantDenylist)
	assert.Equal(t, 5, cfg.DispatchMaxAttempts)
	assert.True(t, cfg.HTTPRequired())
	assert.True(t, cfg.RedisRequired())
}

func TestLoad_RejectsArnDestination(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_CLEAN_DESTINATION", "arn:aws:sqs:us-east-1:123456789012:clean")

	_, err := Load(zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkg.ErrArnDestination))
	assert.Equal(t, pkg.ErrConfigCode.Code, pkg.CodeOf(err).Code)
}

func TestLoad_RejectsWrongSchemeForChannel(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ALERT_DESTINATION", "redis://alerts")
	t.Setenv("APP_REDIS_ADDR", "localhost:6379")

	_, err := Load(zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, pkg.ErrConfigCode.Code, pkg.CodeOf(err).Code)
}

func TestLoad_RedisDestinationNeedsAddress(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_CLEAN_DESTINATION", "redis://clean")

	_, err := Load(zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestLoad_StructValidationFailure(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_DISPATCH_MAX_ATTEMPTS", "0")
	t.Setenv("APP_RULE_FAILURE_POLICY", "sometimes")

	_, err := Load(zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "RULE_FAILURE_POLICY")
}

func TestLoad_RulesFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: late_night_gift_cards
    expression: merchant == "gift-cards" && amount > 500.0
`), 0o600))
	t.Setenv("APP_RULES_FILE", path)

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	require.Len(t, cfg.CustomRules, 1)
	assert.Equal(t, "cel:late_night_gift_cards", cfg.CustomRules[0].Name())

	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: broken
    expression: amount >
`), 0o600))
	_, err = Load(zap.NewNop())
	require.Error(t, err)
}
