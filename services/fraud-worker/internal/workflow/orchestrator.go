package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/evaluation"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultAttemptTimeout = 5 * time.Second
)

// Outcome is the terminal result of a delivered transaction.
type Outcome struct {
	Channel       dispatch.Channel `json:"channel"`
	DeliveryID    string           `json:"deliveryId"`
	TransactionID string           `json:"transactionId"`
	ExecutionID   string           `json:"executionId"`
	Attempts      int              `json:"attempts"`
	FiredRules    []string         `json:"firedRules,omitempty"`
}

// WorkflowError reports a transaction that reached the Failed state.
// Evaluation had completed; only delivery did not.
type WorkflowError struct {
	TransactionID string
	ExecutionID   string
	State         pkg.WorkflowState
	Channel       dispatch.Channel
	Attempts      int
	Err           error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("transaction %s: %s dispatch failed after %d attempt(s): %v", e.TransactionID, e.Channel, e.Attempts, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// Orchestrator runs the evaluate -> branch -> dispatch workflow for one transaction.
type Orchestrator interface {
	Run(ctx context.Context, txn views.Transaction) (Outcome, error)
}

// OrchestratorConfig holds dependencies and the retry policy.
type OrchestratorConfig struct {
	Logger     *zap.Logger
	Evaluator  evaluation.Evaluator
	Dispatcher dispatch.Dispatcher
	// MaxAttempts bounds dispatch attempts, the first included.
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	Tracer         trace.Tracer
	OnTransition   TransitionFunc
}

type orchestrator struct {
	OrchestratorConfig
}

// NewOrchestrator fills unset retry settings with defaults.
func NewOrchestrator(cfg OrchestratorConfig) (Orchestrator, error) {
	if cfg.Evaluator == nil || cfg.Dispatcher == nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "orchestrator requires an evaluator and a dispatcher", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.BaseBackoff)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("fraud-worker/workflow")
	}
	return &orchestrator{OrchestratorConfig: cfg}, nil
}

// Run evaluates txn and delivers it to exactly one channel, or returns a *WorkflowError.
// Dispatch is detached from ctx cancellation so a shutdown never abandons a publish
// midway; it still ends at the attempt bound.
func (o *orchestrator) Run(ctx context.Context, txn views.Transaction) (Outcome, error) {
	start := time.Now()
	execID := uuid.NewString()
	txnID := txn.ID()
	logger := o.Logger.With(zap.String(pkg.TransactionId, txnID), zap.String(pkg.ExecutionId, execID))

	ctx, span := o.Tracer.Start(ctx, "workflow.Run", trace.WithAttributes(
		attribute.String(pkg.TransactionId, txnID),
		attribute.String(pkg.ExecutionId, execID),
	))
	defer span.End()

	sm := newStateMachine(txnID, func(id string, from, to pkg.WorkflowState) {
		span.AddEvent(string(to))
		if o.OnTransition != nil {
			o.OnTransition(id, from, to)
		}
	})

	res := o.Evaluator.Evaluate(ctx, txn)
	sm.step(logger, pkg.WorkflowStateEvaluated)

	channel := dispatch.ChannelClean
	if res.IsFraud {
		channel = dispatch.ChannelAlert
	}
	span.SetAttributes(attribute.String(pkg.Channel, channel.String()), attribute.Bool("is_fraud", res.IsFraud))
	logger.Info("workflow_evaluated", zap.Bool("is_fraud", res.IsFraud), zap.String(pkg.Channel, channel.String()))

	sm.step(logger, pkg.WorkflowStateDispatching)
	dispatchCtx := context.WithoutCancel(ctx)
	attempts := 0
	operation := func() (string, error) {
		attempts++
		if attempts > 1 {
			sm.step(logger, pkg.WorkflowStateDispatching)
			observability.DispatchRetries.WithLabelValues(channel.String()).Inc()
		}
		attemptCtx, cancel := context.WithTimeout(dispatchCtx, o.AttemptTimeout)
		defer cancel()

		deliveryID, err := o.Dispatcher.Send(attemptCtx, channel, txn, res.FiredRules...)
		if err != nil && !pkg.IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return deliveryID, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("dispatch_retry_scheduled",
			zap.String(pkg.Channel, channel.String()),
			zap.Int(pkg.Attempt, attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	deliveryID, err := backoff.RetryNotifyWithData(operation, o.retryPolicy(), notify)
	if err != nil {
		sm.step(logger, pkg.WorkflowStateFailed)
		observability.WorkflowLatency.WithLabelValues(string(pkg.WorkflowStateFailed)).Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		logger.Error("workflow_failed",
			zap.String(pkg.Channel, channel.String()),
			zap.Int(pkg.Attempt, attempts),
			zap.Bool("retryable", pkg.IsRetryable(err)),
			zap.Error(err))
		return Outcome{}, &WorkflowError{
			TransactionID: txnID,
			ExecutionID:   execID,
			State:         pkg.WorkflowStateFailed,
			Channel:       channel,
			Attempts:      attempts,
			Err:           err,
		}
	}

	sm.step(logger, pkg.WorkflowStateDelivered)
	observability.WorkflowLatency.WithLabelValues(string(pkg.WorkflowStateDelivered)).Observe(time.Since(start).Seconds())
	logger.Info("workflow_delivered",
		zap.String(pkg.Channel, channel.String()),
		zap.String("delivery_id", deliveryID),
		zap.Int(pkg.Attempt, attempts))
	return Outcome{
		Channel:       channel,
		DeliveryID:    deliveryID,
		TransactionID: txnID,
		ExecutionID:   execID,
		Attempts:      attempts,
		FiredRules:    res.FiredRules,
	}, nil
}

// retryPolicy doubles the delay from BaseBackoff up to MaxBackoff, MaxAttempts in total.
func (o *orchestrator) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.125
	b.MaxInterval = o.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(o.MaxAttempts-1))
}
