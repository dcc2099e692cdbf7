package ingestion

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	kafkautils "github.com/nimeshabuddhika/fraud-router/pkg/kafka"
	"github.com/nimeshabuddhika/fraud-router/pkg/utils"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/configs"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/dispatch"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/observability"
	"go.uber.org/zap"
)

const (
	dlqPublishTimeout = 10 * time.Second
	dlqMaxRetries     = 3
	dlqRetryBase      = 200 * time.Millisecond
	dlqRetryMax       = 2 * time.Second
	readBackoffBase   = 100 * time.Millisecond
	readBackoffMax    = 5 * time.Second
)

// MessageReader is the subset of *kafka.Consumer the poll loop uses.
type MessageReader interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

// KafkaBatchConfig holds configuration and dependencies for the Kafka batch consumer.
type KafkaBatchConfig struct {
	Logger  *zap.Logger
	Config  *configs.Config
	Handler BatchHandler
	// DLQ receives every message that failed for a reason other than shutdown.
	DLQ dispatch.Sink
	// Reader defaults to a kafka.Consumer built from Config.
	Reader MessageReader
}

// KafkaBatchConsumer polls the transactions topic and feeds fixed-size batches to the handler.
type KafkaBatchConsumer struct {
	KafkaBatchConfig
	commits      *kafkautils.CommitManager
	dlqRetryBase time.Duration
}

// NewKafkaBatchConsumer wires the consumer. Offsets are committed manually once a
// message is either delivered or parked in the DLQ.
func NewKafkaBatchConsumer(cfg KafkaBatchConfig) (*KafkaBatchConsumer, error) {
	if cfg.Handler == nil || cfg.DLQ == nil || cfg.Config == nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "kafka batch consumer requires config, handler and dlq", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Reader == nil {
		kafkaConsumer, err := kafka.NewConsumer(&kafka.ConfigMap{
			"bootstrap.servers":  cfg.Config.KafkaBrokers,
			"group.id":           cfg.Config.KafkaConsumerGroup,
			"auto.offset.reset":  "earliest", // Start reading from the earliest offset if no prior offset
			"enable.auto.commit": false,      // Offsets go through the commit manager
		})
		if err != nil {
			return nil, pkg.NewAppError(pkg.ErrConfigCode, "failed to create kafka consumer", err)
		}
		cfg.Reader = kafkaConsumer
	}
	return &KafkaBatchConsumer{
		KafkaBatchConfig: cfg,
		commits:          kafkautils.NewCommitManager(cfg.Reader, cfg.Logger),
		dlqRetryBase:     dlqRetryBase,
	}, nil
}

// Start subscribes and runs the poll loop until ctx is cancelled or the returned
// closer is called. The closer waits for the current batch before closing the reader.
func (k *KafkaBatchConsumer) Start(ctx context.Context) (func(), error) {
	err := k.Reader.SubscribeTopics([]string{k.Config.KafkaTransactionTopic}, k.onRebalance)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "failed to subscribe to transactions topic", err)
	}
	k.Logger.Info("listening_to_kafka_topic",
		zap.String("topic", k.Config.KafkaTransactionTopic),
		zap.String("group", k.Config.KafkaConsumerGroup),
		zap.Int("batch_size", k.Config.BatchSize),
		zap.Duration("batch_wait", k.Config.BatchWait))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.run(runCtx)
	}()

	return func() {
		cancel()
		<-done
		if err := k.Reader.Close(); err != nil {
			k.Logger.Error("failed_to_close_kafka_consumer", zap.Error(err))
			return
		}
		k.Logger.Info("kafka_consumer_closed")
	}, nil
}

func (k *KafkaBatchConsumer) onRebalance(_ *kafka.Consumer, ev kafka.Event) error {
	if revoked, ok := ev.(kafka.RevokedPartitions); ok {
		k.Logger.Info("partitions_revoked", zap.Int("count", len(revoked.Partitions)))
		k.commits.Reset()
	}
	return nil
}

func (k *KafkaBatchConsumer) run(ctx context.Context) {
	for ctx.Err() == nil {
		batch := k.collect(ctx)
		if len(batch) > 0 {
			k.process(ctx, batch)
		}
	}
}

// collect polls until BatchSize messages arrived, BatchWait elapsed or ctx ended.
func (k *KafkaBatchConsumer) collect(ctx context.Context) []*kafka.Message {
	batch := make([]*kafka.Message, 0, k.Config.BatchSize)
	deadline := time.Now().Add(k.Config.BatchWait)
	readErrors := 0
	for len(batch) < k.Config.BatchSize && ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := k.Reader.ReadMessage(remaining)
		if err != nil {
			if kafkautils.IsTimeout(err) {
				break
			}
			readErrors++
			wait := utils.CalculateExponentialBackoffWithJitter(readErrors, readBackoffBase, readBackoffMax)
			k.Logger.Error("failed_to_read_kafka_message", zap.Int(pkg.Attempt, readErrors), zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		readErrors = 0
		k.commits.Track(msg)
		batch = append(batch, msg)
	}
	return batch
}

// process hands the batch to the handler, parks failures in the DLQ and acks
// everything that reached a terminal place. Messages cancelled by shutdown are
// left uncommitted so they are redelivered.
func (k *KafkaBatchConsumer) process(ctx context.Context, batch []*kafka.Message) {
	msgs := make([]Message, len(batch))
	byID := make(map[string]*kafka.Message, len(batch))
	for i, km := range batch {
		id := kafkautils.MessageID(km)
		msgs[i] = Message{ID: id, Body: km.Value}
		byID[id] = km
	}

	result := k.Handler.HandleBatch(ctx, msgs)

	failed := make(map[string]struct{}, len(result.Failures))
	for _, f := range result.Failures {
		failed[f.MessageID] = struct{}{}
		km, ok := byID[f.MessageID]
		if !ok || f.Kind == FailureCancelled {
			continue
		}
		if err := k.sendToDLQ(ctx, km, f); err != nil {
			k.reportStall(km, f)
			continue
		}
		k.commits.Ack(f.TransactionID, km)
	}
	for _, m := range msgs {
		if _, ok := failed[m.ID]; ok {
			continue
		}
		k.commits.Ack("", byID[m.ID])
	}
}

// sendToDLQ publishes the failed message with context. It must succeed before the
// offset is committed, otherwise the message would be lost.
func (k *KafkaBatchConsumer) sendToDLQ(ctx context.Context, km *kafka.Message, f MessageFailure) error {
	payload := map[string]any{
		"transaction":   dlqBody(km.Value),
		"messageId":     f.MessageID,
		"transactionId": f.TransactionID,
		"failureReason": string(f.Kind),
		"code":          f.Code,
		"error":         f.Error,
		"failedAt":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		k.Logger.Error("failed_to_marshal_dlq_payload", zap.String(pkg.MessageId, f.MessageID), zap.Error(err))
		return err
	}

	key := f.TransactionID
	if key == "" {
		key = string(km.Key)
	}
	env := dispatch.Envelope{TransactionID: key, Body: b}
	detached := context.WithoutCancel(ctx)
	publish := func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(detached, dlqPublishTimeout)
		defer cancel()
		return k.DLQ.Publish(attemptCtx, env)
	}
	notify := func(err error, wait time.Duration) {
		k.Logger.Warn("dlq_publish_retry",
			zap.String(pkg.MessageId, f.MessageID),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}
	deliveryID, err := backoff.RetryNotifyWithData(publish, k.dlqRetryPolicy(), notify)
	if err != nil {
		k.Logger.Error("failed_to_publish_dlq",
			zap.String(pkg.MessageId, f.MessageID),
			zap.String(pkg.TransactionId, f.TransactionID),
			zap.Error(err))
		return err
	}
	observability.DLQPublished.WithLabelValues(string(f.Kind)).Inc()
	k.Logger.Info("sent_to_dlq",
		zap.String(pkg.MessageId, f.MessageID),
		zap.String(pkg.TransactionId, f.TransactionID),
		zap.String("reason", string(f.Kind)),
		zap.String("delivery_id", deliveryID))
	return nil
}

func (k *KafkaBatchConsumer) dlqRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = k.dlqRetryBase
	b.MaxInterval = max(dlqRetryMax, k.dlqRetryBase)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, dlqMaxRetries)
}

// reportStall makes a pinned partition visible. Its offsets stay uncommitted from
// the unparked message on until that message is redelivered after a restart or rebalance.
func (k *KafkaBatchConsumer) reportStall(km *kafka.Message, f MessageFailure) {
	observability.DLQPublishFailures.Inc()
	topic := ""
	if km.TopicPartition.Topic != nil {
		topic = *km.TopicPartition.Topic
	}
	floor, _ := k.commits.Floor(km)
	observability.CommitStalls.WithLabelValues(topic).Inc()
	k.Logger.Error("offset_commit_stalled",
		zap.String(pkg.MessageId, f.MessageID),
		zap.String("topic", topic),
		zap.Int32("partition", km.TopicPartition.Partition),
		zap.Int64("pinned_offset", int64(km.TopicPartition.Offset)),
		zap.Int64("floor_offset", floor))
}

// dlqBody keeps a JSON body as is and quotes anything else.
func dlqBody(value []byte) any {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	return string(value)
}
