package dispatch

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const subjectHeader = "subject"

// KafkaProducer is the subset of *kafka.Producer used by KafkaSink.
type KafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// KafkaSink publishes to a topic and waits for the broker's delivery report.
type KafkaSink struct {
	dest     Destination
	producer KafkaProducer
}

func NewKafkaSink(dest Destination, producer KafkaProducer) *KafkaSink {
	return &KafkaSink{dest: dest, producer: producer}
}

func (k *KafkaSink) Destination() Destination { return k.dest }

// Publish produces env keyed by transaction id. The delivery id is topic/partition@offset.
func (k *KafkaSink) Publish(ctx context.Context, env Envelope) (string, error) {
	topic := k.dest.Name
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(env.TransactionID),
		Value:          env.Body,
	}
	if env.Subject != "" {
		msg.Headers = []kafka.Header{{Key: subjectHeader, Value: []byte(env.Subject)}}
	}

	// Buffered so the producer never blocks on a caller that has given up.
	deliveryChan := make(chan kafka.Event, 1)
	if err := k.producer.Produce(msg, deliveryChan); err != nil {
		return "", classifyKafkaError("kafka produce failed", err)
	}

	select {
	case <-ctx.Done():
		return "", transient("kafka delivery report not received", ctx.Err())
	case ev := <-deliveryChan:
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				return "", classifyKafkaError("kafka delivery failed", e.TopicPartition.Error)
			}
			return fmt.Sprintf("%s/%d@%d", topic, e.TopicPartition.Partition, int64(e.TopicPartition.Offset)), nil
		case kafka.Error:
			return "", classifyKafkaError("kafka delivery failed", e)
		default:
			return "", transient(fmt.Sprintf("unexpected kafka event %T", ev), nil)
		}
	}
}

// classifyKafkaError treats topic and payload problems as permanent, everything else as transient.
func classifyKafkaError(msg string, err error) error {
	kerr, ok := err.(kafka.Error)
	if !ok {
		return transient(msg, err)
	}
	switch kerr.Code() {
	case kafka.ErrUnknownTopic,
		kafka.ErrUnknownTopicOrPart,
		kafka.ErrTopicAuthorizationFailed,
		kafka.ErrTopicException,
		kafka.ErrMsgSizeTooLarge,
		kafka.ErrInvalidArg:
		return permanent(msg, err)
	}
	if kerr.IsFatal() {
		return permanent(msg, err)
	}
	return transient(msg, err)
}
