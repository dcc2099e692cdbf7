package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/fraud-router/pkg"
)

type webhookPayload struct {
	TransactionID string `json:"transactionId"`
	Subject       string `json:"subject,omitempty"`
	Message       string `json:"message"`
}

// WebhookSink posts notifications to an HTTP endpoint.
type WebhookSink struct {
	dest   Destination
	client *http.Client
}

func NewWebhookSink(dest Destination, client *http.Client) *WebhookSink {
	return &WebhookSink{dest: dest, client: client}
}

func (w *WebhookSink) Destination() Destination { return w.dest }

// Publish POSTs env as JSON. The delivery id is the X-Message-Id response header
// when the receiver sets one, otherwise a generated uuid.
func (w *WebhookSink) Publish(ctx context.Context, env Envelope) (string, error) {
	payload, err := json.Marshal(webhookPayload{
		TransactionID: env.TransactionID,
		Subject:       env.Subject,
		Message:       string(env.Body),
	})
	if err != nil {
		return "", permanent("failed to encode webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.dest.Name, bytes.NewReader(payload))
	if err != nil {
		return "", permanent("failed to build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", transient("webhook request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if id := resp.Header.Get(pkg.HeaderMessageId); id != "" {
			return id, nil
		}
		return uuid.NewString(), nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return "", transient(fmt.Sprintf("webhook returned %d", resp.StatusCode), nil)
	default:
		return "", permanent(fmt.Sprintf("webhook returned %d", resp.StatusCode), nil)
	}
}
