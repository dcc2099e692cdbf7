package dispatch

import (
	"errors"
	"testing"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	cases := []struct {
		raw    string
		scheme Scheme
		name   string
	}{
		{"kafka://fraud-alerts", SchemeKafka, "fraud-alerts"},
		{"  redis://clean-transactions ", SchemeRedis, "clean-transactions"},
		{"KAFKA://clean.txns_v2", SchemeKafka, "clean.txns_v2"},
		{"https://hooks.example.com/fraud?team=risk", SchemeHTTPS, "https://hooks.example.com/fraud?team=risk"},
	}
	for _, tc := range cases {
		dest, err := ParseDestination(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.scheme, dest.Scheme)
		assert.Equal(t, tc.name, dest.Name)
	}
}

func TestParseDestination_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"sns arn":        "arn:aws:sns:us-east-1:123456789012:FraudAlertsTopic",
		"sqs arn":        "arn:aws:sqs:us-east-1:123456789012:CleanTransactionsQueue",
		"no scheme":      "fraud-alerts",
		"unknown scheme": "amqp://broker/alerts",
		"empty topic":    "kafka://",
		"bad topic":      "kafka://fraud alerts",
		"no host":        "https:///path",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDestination(raw)
			require.Error(t, err)
			assert.Equal(t, pkg.ErrConfigCode, pkg.CodeOf(err))
		})
	}
}

func TestParseDestination_ArnIsNamed(t *testing.T) {
	_, err := ParseDestination("arn:aws:sqs:us-east-1:123456789012:CleanTransactionsQueue")
	assert.True(t, errors.Is(err, pkg.ErrArnDestination))

	_, err = ParseDestination("")
	assert.True(t, errors.Is(err, pkg.ErrMissingDestination))
}

func TestValidateFor(t *testing.T) {
	redisDest, err := ParseDestination("redis://clean")
	require.NoError(t, err)
	webhook, err := ParseDestination("https://hooks.example.com/fraud")
	require.NoError(t, err)
	topic, err := ParseDestination("kafka://any")
	require.NoError(t, err)

	assert.NoError(t, redisDest.ValidateFor(ChannelClean))
	assert.Error(t, redisDest.ValidateFor(ChannelAlert))
	assert.NoError(t, webhook.ValidateFor(ChannelAlert))
	assert.Error(t, webhook.ValidateFor(ChannelClean))
	assert.NoError(t, topic.ValidateFor(ChannelAlert))
	assert.NoError(t, topic.ValidateFor(ChannelClean))
	assert.Error(t, topic.ValidateFor(Channel("review")))
}

func TestResolveDestinations(t *testing.T) {
	alert, clean, err := ResolveDestinations("kafka://fraud-alerts", "redis://clean-transactions")
	require.NoError(t, err)
	assert.Equal(t, SchemeKafka, alert.Scheme)
	assert.Equal(t, SchemeRedis, clean.Scheme)

	_, _, err = ResolveDestinations("kafka://shared", "kafka://shared")
	assert.Error(t, err)

	_, _, err = ResolveDestinations("redis://alerts", "redis://clean")
	assert.Error(t, err, "alert channel must not accept a redis stream")

	_, _, err = ResolveDestinations("kafka://alerts", "")
	assert.True(t, errors.Is(err, pkg.ErrMissingDestination))
}
