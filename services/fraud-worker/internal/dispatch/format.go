package dispatch

import (
	"fmt"
	"strings"

	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/shopspring/decimal"
)

// Envelope is one publish: a subject line (empty for clean records) and a body.
type Envelope struct {
	TransactionID string
	Subject       string
	Body          []byte
}

// FormatAlert builds the human-readable fraud notification for txn.
func FormatAlert(txn views.Transaction, reasons []string) (Envelope, error) {
	pretty, err := txn.PrettyJSON()
	if err != nil {
		return Envelope{}, err
	}

	id := txn.ID()
	userID := orUnknown(txn.UserID)
	merchant := orUnknown(txn.Merchant)

	flagged := "This transaction has been flagged as potentially fraudulent."
	if len(reasons) > 0 {
		flagged = fmt.Sprintf("This transaction has been flagged as potentially fraudulent by: %s.", strings.Join(reasons, ", "))
	}

	var b strings.Builder
	b.WriteString("FRAUD ALERT\n\n")
	fmt.Fprintf(&b, "Transaction ID: %s\n", id)
	fmt.Fprintf(&b, "User ID: %s\n", userID)
	fmt.Fprintf(&b, "Amount: %s\n", FormatCurrency(txn.Amount))
	fmt.Fprintf(&b, "Merchant: %s\n\n", merchant)
	b.WriteString(flagged)
	b.WriteString("\n\nFull transaction details:\n")
	b.Write(pretty)
	b.WriteString("\n")

	return Envelope{
		TransactionID: id,
		Subject:       fmt.Sprintf("Fraud Alert: Transaction %s", id),
		Body:          []byte(b.String()),
	}, nil
}

// FormatClean builds the clean-store record: the indented transaction JSON and nothing else.
func FormatClean(txn views.Transaction) (Envelope, error) {
	pretty, err := txn.PrettyJSON()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{TransactionID: txn.ID(), Body: pretty}, nil
}

// FormatCurrency renders amount as dollars with thousands separators, e.g. $15,000.00.
func FormatCurrency(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%s$%s.%s", sign, grouped.String(), frac)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
