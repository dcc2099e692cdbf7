package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/views"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/observability"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/workflow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxConcurrentMessages = 16

// Message is one inbound queue record.
type Message struct {
	ID   string
	Body []byte
}

type FailureKind string

const (
	FailureParse     FailureKind = "parse"
	FailureDispatch  FailureKind = "dispatch"
	FailureCancelled FailureKind = "cancelled"
	FailureInternal  FailureKind = "internal"
)

// MessageFailure describes one message that did not reach a channel.
type MessageFailure struct {
	MessageID     string      `json:"messageId"`
	TransactionID string      `json:"transactionId,omitempty"`
	Kind          FailureKind `json:"kind"`
	Code          string      `json:"code"`
	Error         string      `json:"error"`

	err error
}

// Err returns the underlying error.
func (f MessageFailure) Err() error { return f.err }

// BatchResult summarizes a batch. Failed > 0 is a partial failure, never a batch error.
type BatchResult struct {
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Failures  []MessageFailure `json:"failures"`
}

// BatchHandler processes a batch of queue messages.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []Message) BatchResult
}

// ConsumerConfig holds dependencies for the batch consumer.
type ConsumerConfig struct {
	Logger       *zap.Logger
	Orchestrator workflow.Orchestrator
	// MaxConcurrency bounds the number of messages in flight.
	MaxConcurrency int
	// Source labels the received-messages metric, e.g. kafka or http.
	Source string
	// OnFailure is called once per failed message, from the worker goroutine.
	OnFailure func(msg Message, failure MessageFailure)
}

type consumer struct {
	ConsumerConfig
}

func NewConsumer(cfg ConsumerConfig) (BatchHandler, error) {
	if cfg.Orchestrator == nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "consumer requires an orchestrator", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrentMessages
	}
	if cfg.Source == "" {
		cfg.Source = "unknown"
	}
	return &consumer{ConsumerConfig: cfg}, nil
}

// HandleBatch runs every message through the workflow independently. One message
// failing never affects the others. Once ctx is cancelled no new message starts
// and the remaining ones are reported as cancelled.
func (c *consumer) HandleBatch(ctx context.Context, msgs []Message) BatchResult {
	observability.MessagesReceived.WithLabelValues(c.Source).Add(float64(len(msgs)))

	failures := make([]*MessageFailure, len(msgs))
	g := new(errgroup.Group)
	g.SetLimit(c.MaxConcurrency)
	for i, msg := range msgs {
		if ctx.Err() != nil {
			failures[i] = cancelledFailure(msg, ctx.Err())
			continue
		}
		i, msg := i, msg
		g.Go(func() error {
			if ctx.Err() != nil {
				failures[i] = cancelledFailure(msg, ctx.Err())
				return nil
			}
			failures[i] = c.handleMessage(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Failures: []MessageFailure{}}
	for i, f := range failures {
		if f == nil {
			result.Processed++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, *f)
		observability.MessagesFailed.WithLabelValues(string(f.Kind)).Inc()
		if c.OnFailure != nil {
			c.OnFailure(msgs[i], *f)
		}
	}

	c.Logger.Info("batch_completed",
		zap.String("source", c.Source),
		zap.Int("size", len(msgs)),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result
}

// handleMessage returns nil when the transaction was delivered to a channel.
func (c *consumer) handleMessage(ctx context.Context, msg Message) (failure *MessageFailure) {
	observability.InflightMessages.Inc()
	defer observability.InflightMessages.Dec()

	defer func() {
		if r := recover(); r != nil {
			err := pkg.NewAppError(pkg.ErrServerCode, "message handler panicked", fmt.Errorf("%v", r))
			c.Logger.Error("message_panicked", zap.String(pkg.MessageId, msg.ID), zap.Any("panic", r))
			failure = newFailure(msg, "", FailureInternal, err)
		}
	}()

	txn, err := views.ParseTransaction(msg.Body)
	if err != nil {
		c.Logger.Warn("message_parse_failed", zap.String(pkg.MessageId, msg.ID), zap.Error(err))
		return newFailure(msg, "", FailureParse, err)
	}

	outcome, err := c.Orchestrator.Run(ctx, txn)
	if err != nil {
		kind := FailureDispatch
		var wfErr *workflow.WorkflowError
		if !errors.As(err, &wfErr) {
			kind = FailureInternal
		}
		return newFailure(msg, txn.ID(), kind, err)
	}
	observability.MessagesProcessed.WithLabelValues(outcome.Channel.String()).Inc()
	return nil
}

func newFailure(msg Message, txnID string, kind FailureKind, err error) *MessageFailure {
	return &MessageFailure{
		MessageID:     msg.ID,
		TransactionID: txnID,
		Kind:          kind,
		Code:          pkg.CodeOf(err).Code,
		Error:         err.Error(),
		err:           err,
	}
}

func cancelledFailure(msg Message, cause error) *MessageFailure {
	return newFailure(msg, "", FailureCancelled, pkg.NewAppError(pkg.ErrCancelledCode, "message not started before shutdown", cause))
}
