package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenylistRules(t *testing.T) {
	merchants := NewMerchantDenylistRule([]string{" Casino-Royale ", "", "darkshop"})
	users := NewUserDenylistRule([]string{"u-banned"})
	assert.Len(t, merchants.entries, 2)

	fired, err := merchants.Evaluate(context.Background(), views.Transaction{Merchant: "casino-royale"})
	require.NoError(t, err)
	assert.True(t, fired)

	fired, _ = merchants.Evaluate(context.Background(), views.Transaction{Merchant: "grocer"})
	assert.False(t, fired)

	fired, _ = merchants.Evaluate(context.Background(), views.Transaction{})
	assert.False(t, fired)

	fired, _ = users.Evaluate(context.Background(), views.Transaction{UserID: "U-BANNED"})
	assert.True(t, fired)
}

type memCounter struct {
	counts map[string]int64
	keys   []string
	err    error
}

func (m *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	m.keys = append(m.keys, key)
	return m.counts[key], nil
}

func TestVelocityRule(t *testing.T) {
	counter := &memCounter{counts: map[string]int64{}}
	rule := NewVelocityRule(counter, 2, time.Minute)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rule.now = func() time.Time { return now }

	txn := views.Transaction{UserID: "u1"}
	for i := 0; i < 2; i++ {
		fired, err := rule.Evaluate(context.Background(), txn)
		require.NoError(t, err)
		assert.False(t, fired)
	}
	fired, err := rule.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	assert.True(t, fired)

	// A new window starts a new count.
	now = now.Add(time.Minute)
	fired, _ = rule.Evaluate(context.Background(), txn)
	assert.False(t, fired)
	assert.NotEqual(t, counter.keys[0], counter.keys[3])

	fired, _ = rule.Evaluate(context.Background(), views.Transaction{})
	assert.False(t, fired, "transactions without a user are not counted")
	assert.Len(t, counter.keys, 4)
}

func TestVelocityRule_CounterError(t *testing.T) {
	rule := NewVelocityRule(&memCounter{err: errors.New("connection refused")}, 1, time.Minute)

	_, err := rule.Evaluate(context.Background(), views.Transaction{UserID: "u1"})
	assert.Error(t, err)
}

func TestCELRule(t *testing.T) {
	rule, err := NewCELRule("casino_high_value", `merchant == "casino" && amount > 2500.0`)
	require.NoError(t, err)
	assert.Equal(t, "cel:casino_high_value", rule.Name())

	fired, err := rule.Evaluate(context.Background(), parse(t, `{"transactionId":"T1","amount":3000,"merchant":"casino"}`))
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = rule.Evaluate(context.Background(), parse(t, `{"transactionId":"T2","amount":3000,"merchant":"grocer"}`))
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestCELRule_Payload(t *testing.T) {
	rule, err := NewCELRule("sanctioned_country", `has(payload.country) && payload.country in ["KP", "IR"]`)
	require.NoError(t, err)

	fired, err := rule.Evaluate(context.Background(), parse(t, `{"transactionId":"T1","amount":10,"country":"KP"}`))
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = rule.Evaluate(context.Background(), parse(t, `{"transactionId":"T2","amount":10}`))
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestCELRule_Invalid(t *testing.T) {
	_, err := NewCELRule("syntax", `amount >`)
	assert.Error(t, err)

	_, err = NewCELRule("not_bool", `amount + 1.0`)
	assert.Error(t, err)

	_, err = NewCELRule("", `true`)
	assert.Error(t, err)
}

func TestParseRules(t *testing.T) {
	doc := []byte(`
rules:
  - name: casino_high_value
    expression: merchant == "casino" && amount > 2500.0
  - name: retired
    expression: "true"
    disabled: true
  - name: round_amounts
    expression: amount >= 5000.0 && amount == double(int(amount))
`)
	rules, err := ParseRules(doc)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "cel:casino_high_value", rules[0].Name())
	assert.Equal(t, "cel:round_amounts", rules[1].Name())

	_, err = ParseRules([]byte("rules:\n  - name: a\n    expression: \"true\"\n  - name: a\n    expression: \"false\"\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("rules: [unclosed"))
	assert.Error(t, err)
}
