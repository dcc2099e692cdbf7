package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRule struct {
	name  string
	fired bool
	err   error
	panic bool
}

func (s stubRule) Name() string { return s.name }

func (s stubRule) Evaluate(context.Context, views.Transaction) (bool, error) {
	if s.panic {
		panic("boom")
	}
	return s.fired, s.err
}

func defaultEngine() *Engine {
	return NewEngine(EngineConfig{
		Logger: zap.NewNop(),
		Rules:  []Rule{NewAmountThresholdRule(DefaultAmountThreshold)},
	})
}

func parse(t *testing.T, body string) views.Transaction {
	t.Helper()
	txn, err := views.ParseTransaction([]byte(body))
	require.NoError(t, err)
	return txn
}

func TestEngine_AmountThreshold(t *testing.T) {
	engine := defaultEngine()
	cases := map[string]bool{
		"0":        false,
		"500":      false,
		"10000":    false,
		"10000.00": false,
		"10000.01": true,
		"15000":    true,
	}
	for amount, want := range cases {
		txn := views.Transaction{TransactionID: "TXN", Amount: decimal.RequireFromString(amount)}
		res := engine.Evaluate(context.Background(), txn)
		assert.Equal(t, want, res.IsFraud, amount)
	}
}

func TestEngine_Scenarios(t *testing.T) {
	engine := defaultEngine()

	res := engine.Evaluate(context.Background(), parse(t, `{"transactionId":"TXN-1","amount":15000,"userId":"u1","merchant":"m1"}`))
	assert.True(t, res.IsFraud)
	assert.Equal(t, "TXN-1", res.TransactionID)
	assert.Equal(t, []string{"amount_threshold"}, res.FiredRules)
	assert.Equal(t, "u1", res.Transaction.UserID)

	res = engine.Evaluate(context.Background(), parse(t, `{"transactionId":"TXN-2","amount":500,"userId":"u2"}`))
	assert.False(t, res.IsFraud)
	assert.Empty(t, res.FiredRules)

	res = engine.Evaluate(context.Background(), parse(t, `{"amount":20000}`))
	assert.True(t, res.IsFraud)
	assert.Equal(t, pkg.UnknownTransactionId, res.TransactionID)

	res = engine.Evaluate(context.Background(), parse(t, `{"transactionId":"TXN-4"}`))
	assert.False(t, res.IsFraud, "missing amount is treated as zero")
}

func TestEngine_Idempotent(t *testing.T) {
	engine := defaultEngine()
	txn := parse(t, `{"transactionId":"TXN-1","amount":15000,"userId":"u1"}`)

	first := engine.Evaluate(context.Background(), txn)
	second := engine.Evaluate(context.Background(), txn)
	assert.Equal(t, first, second)
}

func TestEngine_CombinesRulesWithOr(t *testing.T) {
	engine := NewEngine(EngineConfig{Rules: []Rule{
		stubRule{name: "a"},
		stubRule{name: "b", fired: true},
		stubRule{name: "c", fired: true},
	}})

	res := engine.Evaluate(context.Background(), views.Transaction{})
	assert.True(t, res.IsFraud)
	assert.Equal(t, []string{"b", "c"}, res.FiredRules)
	assert.Equal(t, []string{"a", "b", "c"}, engine.Rules())
}

func TestEngine_FailOpen(t *testing.T) {
	engine := NewEngine(EngineConfig{
		FailurePolicy: FailOpen,
		Rules: []Rule{
			stubRule{name: "broken", err: errors.New("redis unavailable")},
			stubRule{name: "panicky", panic: true},
		},
	})

	res := engine.Evaluate(context.Background(), views.Transaction{TransactionID: "TXN-9"})
	assert.False(t, res.IsFraud)
	require.Len(t, res.RuleErrors, 2)
	assert.Equal(t, "broken", res.RuleErrors[0].Rule)
	assert.Equal(t, pkg.ErrEvaluationCode, pkg.CodeOf(res.RuleErrors[0]))
	assert.Contains(t, res.RuleErrors[1].Error(), "panicked")
}

func TestEngine_FailClosed(t *testing.T) {
	engine := NewEngine(EngineConfig{
		FailurePolicy: FailClosed,
		Rules:         []Rule{stubRule{name: "broken", err: errors.New("timeout")}},
	})

	res := engine.Evaluate(context.Background(), views.Transaction{TransactionID: "TXN-9"})
	assert.True(t, res.IsFraud)
	assert.Equal(t, []string{"broken"}, res.FiredRules)
	assert.Len(t, res.RuleErrors, 1)
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	p, err = ParseFailurePolicy(" Closed ")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)

	_, err = ParseFailurePolicy("review")
	assert.Error(t, err)
}
