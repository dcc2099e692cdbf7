package evaluation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
)

// CELRule evaluates a boolean CEL expression. Available variables:
// transactionId, userId, merchant (string), amount (double) and payload,
// the full original message as a map.
type CELRule struct {
	name    string
	program cel.Program
}

var celEnv = mustCELEnv()

func mustCELEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("transactionId", cel.StringType),
		cel.Variable("userId", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(err)
	}
	return env
}

// NewCELRule compiles expression. Compile and type errors are configuration errors.
func NewCELRule(name, expression string) (*CELRule, error) {
	if name == "" {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "cel rule has no name", nil)
	}
	ast, iss := celEnv.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("cel rule %s does not compile", name), iss.Err())
	}
	// dyn is accepted for payload lookups; the result is checked at evaluation time.
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, pkg.NewAppError(pkg.ErrConfigCode,
			fmt.Sprintf("cel rule %s must return bool, got %s", name, out), nil)
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("cel rule %s cannot be planned", name), err)
	}
	return &CELRule{name: name, program: prg}, nil
}

func (r *CELRule) Name() string { return "cel:" + r.name }

func (r *CELRule) Evaluate(_ context.Context, txn views.Transaction) (bool, error) {
	payload, err := payloadOf(txn)
	if err != nil {
		return false, err
	}
	amount, _ := txn.Amount.Float64()
	out, _, err := r.program.Eval(map[string]any{
		"transactionId": txn.TransactionID,
		"userId":        txn.UserID,
		"merchant":      txn.Merchant,
		"amount":        amount,
		"payload":       payload,
	})
	if err != nil {
		return false, err
	}
	fired, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel rule %s returned %T", r.name, out.Value())
	}
	return fired, nil
}

func payloadOf(txn views.Transaction) (map[string]any, error) {
	b, err := json.Marshal(txn)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
