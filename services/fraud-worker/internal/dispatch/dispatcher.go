package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dispatcher sends a decision-tagged transaction to the channel picked by the workflow.
type Dispatcher interface {
	// Send performs one publish to channel and returns the channel's delivery id.
	// reasons are the rules that flagged the transaction and only appear in alerts.
	Send(ctx context.Context, channel Channel, txn views.Transaction, reasons ...string) (string, error)
}

// DispatcherConfig holds dependencies for the outbound dispatcher.
type DispatcherConfig struct {
	Logger    *zap.Logger
	AlertSink Sink
	CleanSink Sink
	// Limiter throttles publishes across both channels; nil means unlimited.
	Limiter *rate.Limiter
	// MaxThrottleWait fails a publish fast when a token is further away than this.
	MaxThrottleWait time.Duration
}

type dispatcher struct {
	logger          *zap.Logger
	sinks           map[Channel]Sink
	limiter         *rate.Limiter
	maxThrottleWait time.Duration
}

// NewDispatcher validates that every channel has a sink of an accepted kind.
func NewDispatcher(cfg DispatcherConfig) (Dispatcher, error) {
	if cfg.AlertSink == nil || cfg.CleanSink == nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "dispatcher requires alert and clean sinks", nil)
	}
	if err := cfg.AlertSink.Destination().ValidateFor(ChannelAlert); err != nil {
		return nil, err
	}
	if err := cfg.CleanSink.Destination().ValidateFor(ChannelClean); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dispatcher{
		logger:          logger,
		sinks:           map[Channel]Sink{ChannelAlert: cfg.AlertSink, ChannelClean: cfg.CleanSink},
		limiter:         cfg.Limiter,
		maxThrottleWait: cfg.MaxThrottleWait,
	}, nil
}

func (d *dispatcher) Send(ctx context.Context, channel Channel, txn views.Transaction, reasons ...string) (string, error) {
	sink, ok := d.sinks[channel]
	if !ok {
		return "", permanent(fmt.Sprintf("unknown channel %q", channel), nil)
	}

	var (
		env Envelope
		err error
	)
	if channel == ChannelAlert {
		env, err = FormatAlert(txn, reasons)
	} else {
		env, err = FormatClean(txn)
	}
	if err != nil {
		return "", permanent("failed to format message", err)
	}

	if err := d.throttle(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	deliveryID, err := sink.Publish(ctx, env)
	observability.PublishLatency.WithLabelValues(channel.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.PublishFailures.WithLabelValues(channel.String(), pkg.CodeOf(err).Code).Inc()
		d.logger.Warn("publish_failed",
			zap.String(pkg.TransactionId, env.TransactionID),
			zap.String(pkg.Channel, channel.String()),
			zap.String("destination", sink.Destination().String()),
			zap.Error(err))
		return "", err
	}

	d.logger.Info("publish_succeeded",
		zap.String(pkg.TransactionId, env.TransactionID),
		zap.String(pkg.Channel, channel.String()),
		zap.String("delivery_id", deliveryID))
	return deliveryID, nil
}

// throttle waits for a limiter token unless the wait would exceed maxThrottleWait.
func (d *dispatcher) throttle(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	r := d.limiter.Reserve()
	if !r.OK() {
		return transient("dispatch throttled", pkg.ErrThrottled)
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if d.maxThrottleWait > 0 && delay > d.maxThrottleWait {
		r.Cancel()
		return transient(fmt.Sprintf("dispatch throttled for %s", delay), pkg.ErrThrottled)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return transient("dispatch throttled", errors.Join(pkg.ErrThrottled, ctx.Err()))
	}
}
