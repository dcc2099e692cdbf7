package evaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
)

// Rule is a single fraud predicate. Rules are combined by logical OR.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, txn views.Transaction) (bool, error)
}

// FailurePolicy decides how a rule error affects the decision.
type FailurePolicy string

const (
	// FailOpen ignores the failing rule so processing is never blocked.
	FailOpen FailurePolicy = "open"
	// FailClosed counts the failing rule as fired, sending the transaction to the alert channel for review.
	FailClosed FailurePolicy = "closed"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("unknown rule failure policy %q", s), nil)
	}
}

// RuleError is an evaluation error absorbed by the failure policy.
type RuleError struct {
	Rule string
	Err  error
}

func (e RuleError) Error() string { return fmt.Sprintf("rule %s: %v", e.Rule, e.Err) }
func (e RuleError) Unwrap() error { return e.Err }
