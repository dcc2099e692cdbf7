package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nimeshabuddhika/fraud-router/pkg"
)

// Sink publishes envelopes to a single destination. Implementations perform
// exactly one network publish per call and must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, env Envelope) (deliveryID string, err error)
	Destination() Destination
}

// SinkDeps holds the shared transport clients sinks are built from.
// Only the clients required by the configured destinations need to be set.
type SinkDeps struct {
	KafkaProducer KafkaProducer
	Redis         StreamAdder
	HTTPClient    *http.Client
}

// NewSink builds the sink for dest from the shared clients in deps.
func NewSink(dest Destination, deps SinkDeps) (Sink, error) {
	switch dest.Scheme {
	case SchemeKafka:
		if deps.KafkaProducer == nil {
			return nil, missingClient(dest, "kafka producer")
		}
		return NewKafkaSink(dest, deps.KafkaProducer), nil
	case SchemeRedis:
		if deps.Redis == nil {
			return nil, missingClient(dest, "redis client")
		}
		return NewRedisStreamSink(dest, deps.Redis), nil
	case SchemeHTTP, SchemeHTTPS:
		if deps.HTTPClient == nil {
			return nil, missingClient(dest, "http client")
		}
		return NewWebhookSink(dest, deps.HTTPClient), nil
	default:
		return nil, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("no sink for destination %q", dest.Raw), nil)
	}
}

func missingClient(dest Destination, client string) error {
	return pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("destination %q requires a %s", dest.Raw, client), nil)
}

func transient(msg string, cause error) error {
	return pkg.NewAppError(pkg.ErrTransientDispatchCode, msg, cause)
}

func permanent(msg string, cause error) error {
	return pkg.NewAppError(pkg.ErrPermanentDispatchCode, msg, cause)
}
