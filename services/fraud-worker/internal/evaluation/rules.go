package evaluation

import (
	"context"
	"strings"

	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/shopspring/decimal"
)

// DefaultAmountThreshold is the amount above which a transaction is flagged.
var DefaultAmountThreshold = decimal.NewFromInt(10000)

// AmountThresholdRule flags transactions strictly above Threshold. A missing amount is zero.
type AmountThresholdRule struct {
	Threshold decimal.Decimal
}

func NewAmountThresholdRule(threshold decimal.Decimal) AmountThresholdRule {
	return AmountThresholdRule{Threshold: threshold}
}

func (r AmountThresholdRule) Name() string { return "amount_threshold" }

func (r AmountThresholdRule) Evaluate(_ context.Context, txn views.Transaction) (bool, error) {
	return txn.Amount.GreaterThan(r.Threshold), nil
}

// DenylistRule flags transactions whose selected field is in a fixed set. Matching is case-insensitive.
type DenylistRule struct {
	name    string
	field   func(views.Transaction) string
	entries map[string]struct{}
}

func newDenylistRule(name string, field func(views.Transaction) string, entries []string) DenylistRule {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			set[e] = struct{}{}
		}
	}
	return DenylistRule{name: name, field: field, entries: set}
}

func NewMerchantDenylistRule(merchants []string) DenylistRule {
	return newDenylistRule("merchant_denylist", func(t views.Transaction) string { return t.Merchant }, merchants)
}

func NewUserDenylistRule(users []string) DenylistRule {
	return newDenylistRule("user_denylist", func(t views.Transaction) string { return t.UserID }, users)
}

func (r DenylistRule) Name() string { return r.name }

func (r DenylistRule) Evaluate(_ context.Context, txn views.Transaction) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(r.field(txn)))
	if v == "" {
		return false, nil
	}
	_, ok := r.entries[v]
	return ok, nil
}
