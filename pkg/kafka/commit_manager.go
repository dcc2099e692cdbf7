package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// OffsetCommitter is the subset of *kafka.Consumer the commit manager needs.
type OffsetCommitter interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
}

type tp struct {
	topic     string
	partition int32
}

// CommitManager commits the highest contiguous handled offset per partition.
// An offset that is tracked but never acked holds back every later offset of
// its partition, so it is redelivered after a restart or rebalance.
type CommitManager struct {
	mu        sync.Mutex
	next      map[tp]int64              // lowest offset not yet handled
	done      map[tp]map[int64]struct{} // handled offsets above next
	committer OffsetCommitter
	log       *zap.Logger
}

func NewCommitManager(c OffsetCommitter, l *zap.Logger) *CommitManager {
	return &CommitManager{
		next:      make(map[tp]int64),
		done:      make(map[tp]map[int64]struct{}),
		committer: c,
		log:       l,
	}
}

func keyOf(msg *kafka.Message) tp {
	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	return tp{topic: topic, partition: msg.TopicPartition.Partition}
}

// Track registers a polled message. The first offset seen on a partition
// becomes its commit floor.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(msg)
	off := int64(msg.TopicPartition.Offset)
	if cur, ok := m.next[key]; !ok || off < cur {
		m.next[key] = off
	}
}

// Ack marks msg handled and commits when the contiguous prefix advanced.
// It reports whether a commit was issued and succeeded.
func (m *CommitManager) Ack(transactionID string, msg *kafka.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(msg)
	off := int64(msg.TopicPartition.Offset)
	if _, ok := m.next[key]; !ok {
		m.next[key] = off
	}
	if off < m.next[key] {
		return false
	}
	if m.done[key] == nil {
		m.done[key] = map[int64]struct{}{}
	}
	m.done[key][off] = struct{}{}

	start := m.next[key]
	next := start
	for {
		if _, ok := m.done[key][next]; !ok {
			break
		}
		delete(m.done[key], next)
		next++
	}
	if next == start {
		return false
	}

	// Kafka expects the offset of the next message to consume.
	toCommit := kafka.TopicPartition{Topic: &key.topic, Partition: key.partition, Offset: kafka.Offset(next)}
	if _, err := m.committer.CommitOffsets([]kafka.TopicPartition{toCommit}); err != nil {
		m.log.Error("offset_commit_failed",
			zap.String("transaction_id", transactionID),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("attempted_offset", next), zap.Error(err))
		// keep the handled offsets so the next ack retries the commit
		for o := start; o < next; o++ {
			m.done[key][o] = struct{}{}
		}
		return false
	}
	m.next[key] = next
	m.log.Debug("offset_committed",
		zap.String("transaction_id", transactionID),
		zap.String("topic", key.topic),
		zap.Int32("partition", key.partition),
		zap.Int64("offset", next))
	return true
}

// Floor returns the lowest offset of msg's partition that is not yet handled.
// Nothing above it is committed until it is acked.
func (m *CommitManager) Floor(msg *kafka.Message) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, ok := m.next[keyOf(msg)]
	return off, ok
}

// Reset drops all partition state. Call it when partitions are revoked.
func (m *CommitManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = make(map[tp]int64)
	m.done = make(map[tp]map[int64]struct{})
}
