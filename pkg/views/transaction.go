package views

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/shopspring/decimal"
)

// Amounts outside these bounds are rejected before any arithmetic touches them.
const (
	maxAmountDigits   = 38
	maxAmountExponent = 18
	maxAmountScale    = 18
)

var (
	errNotAnObject     = errors.New("transaction body must be a JSON object")
	errAmountPrecision = errors.New("amount exceeds supported precision")
)

var validate = newValidator()

// Transaction is a single financial event as received on the inbound queue.
// The original payload is kept so that fields this service does not know about
// still reach the downstream channels untouched.
type Transaction struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount" validate:"gte=0"`
	UserID        string          `json:"userId"`
	Merchant      string          `json:"merchant,omitempty"`

	raw json.RawMessage
}

// ParseTransaction decodes and validates a queue message body.
// Any failure is reported as a parse error scoped to this one message.
func ParseTransaction(body []byte) (Transaction, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Transaction{}, pkg.NewAppError(pkg.ErrParseCode, "malformed transaction", errNotAnObject)
	}

	var txn Transaction
	if err := json.Unmarshal(trimmed, &txn); err != nil {
		return Transaction{}, pkg.NewAppError(pkg.ErrParseCode, "malformed transaction", err)
	}
	if !amountInBounds(txn.Amount) {
		return Transaction{}, pkg.NewAppError(pkg.ErrParseCode, "invalid transaction", errAmountPrecision)
	}
	if err := validate.Struct(&txn); err != nil {
		return Transaction{}, pkg.NewAppError(pkg.ErrParseCode, "invalid transaction", err)
	}
	txn.raw = append(json.RawMessage(nil), trimmed...)
	return txn, nil
}

// ID returns the transaction id, or the "unknown" sentinel when the payload had none.
func (t Transaction) ID() string {
	if t.TransactionID == "" {
		return pkg.UnknownTransactionId
	}
	return t.TransactionID
}

// MarshalJSON emits the original payload when one exists so unknown fields pass through.
func (t Transaction) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	out := map[string]any{
		"transactionId": t.TransactionID,
		"amount":        json.Number(t.Amount.String()),
		"userId":        t.UserID,
	}
	if t.Merchant != "" {
		out["merchant"] = t.Merchant
	}
	return json.Marshal(out)
}

// PrettyJSON renders the transaction as two-space indented JSON.
func (t Transaction) PrettyJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

func amountInBounds(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxAmountExponent || exp < -maxAmountScale {
		return false
	}
	return d.NumDigits() <= maxAmountDigits
}

// newValidator compares decimals by sign only, so gte=0 never expands the coefficient.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.Sign()
		}
		return nil
	}, decimal.Decimal{})
	return v
}
