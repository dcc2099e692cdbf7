package evaluation

import (
	"context"
	"fmt"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/observability"
	"go.uber.org/zap"
)

// Result is the decision for one transaction. It is never persisted.
type Result struct {
	IsFraud       bool              `json:"isFraud"`
	TransactionID string            `json:"transactionId"`
	Transaction   views.Transaction `json:"transaction"`
	FiredRules    []string          `json:"firedRules,omitempty"`
	RuleErrors    []RuleError       `json:"-"`
}

// Evaluator classifies transactions. Evaluate never fails.
type Evaluator interface {
	Evaluate(ctx context.Context, txn views.Transaction) Result
}

// EngineConfig holds the rule set and policy for the evaluation engine.
type EngineConfig struct {
	Logger        *zap.Logger
	Rules         []Rule
	FailurePolicy FailurePolicy
}

type Engine struct {
	logger *zap.Logger
	rules  []Rule
	policy FailurePolicy
}

// NewEngine builds an engine over rules. The rule slice is copied and never changed afterwards.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.FailurePolicy
	if policy == "" {
		policy = FailOpen
	}
	return &Engine{
		logger: logger,
		rules:  append([]Rule(nil), cfg.Rules...),
		policy: policy,
	}
}

// Rules returns the registered rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate runs every rule so the rationale lists all of them that fired.
func (e *Engine) Evaluate(ctx context.Context, txn views.Transaction) Result {
	res := Result{TransactionID: txn.ID(), Transaction: txn}

	for _, rule := range e.rules {
		fired, err := runRule(ctx, rule, txn)
		if err != nil {
			ruleErr := RuleError{Rule: rule.Name(), Err: pkg.NewAppError(pkg.ErrEvaluationCode, "rule evaluation failed", err)}
			res.RuleErrors = append(res.RuleErrors, ruleErr)
			observability.RuleErrors.WithLabelValues(rule.Name()).Inc()
			e.logger.Error("rule_evaluation_failed",
				zap.String(pkg.TransactionId, res.TransactionID),
				zap.String("rule", rule.Name()),
				zap.String("failure_policy", string(e.policy)),
				zap.Error(err))
			fired = e.policy == FailClosed
		}
		if fired {
			res.IsFraud = true
			res.FiredRules = append(res.FiredRules, rule.Name())
			observability.RuleFired.WithLabelValues(rule.Name()).Inc()
		}
	}

	if res.IsFraud {
		observability.Evaluations.WithLabelValues("fraud").Inc()
		e.logger.Warn("fraud_detected",
			zap.String(pkg.TransactionId, res.TransactionID),
			zap.String("amount", txn.Amount.String()),
			zap.Strings("rules", res.FiredRules))
	} else {
		observability.Evaluations.WithLabelValues("clean").Inc()
		e.logger.Info("clean_transaction",
			zap.String(pkg.TransactionId, res.TransactionID),
			zap.String("amount", txn.Amount.String()))
	}
	return res
}

// runRule converts a panicking plugin into an error so evaluation stays total.
func runRule(ctx context.Context, rule Rule, txn views.Transaction) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fired, err = false, fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Evaluate(ctx, txn)
}
