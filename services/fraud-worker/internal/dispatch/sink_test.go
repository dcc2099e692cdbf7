package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	produceErr  error
	deliveryErr error
	silent      bool
	produced    []*kafka.Message
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.produced = append(f.produced, msg)
	if f.silent {
		return nil
	}
	deliveryChan <- &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     msg.TopicPartition.Topic,
			Partition: 2,
			Offset:    41,
			Error:     f.deliveryErr,
		},
	}
	return nil
}

func mustDestination(t *testing.T, raw string) Destination {
	t.Helper()
	dest, err := ParseDestination(raw)
	require.NoError(t, err)
	return dest
}

func TestKafkaSink_Publish(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafkaSink(mustDestination(t, "kafka://fraud-alerts"), producer)

	id, err := sink.Publish(context.Background(), Envelope{TransactionID: "TXN-1", Subject: "Fraud Alert: Transaction TXN-1", Body: []byte("body")})
	require.NoError(t, err)
	assert.Equal(t, "fraud-alerts/2@41", id)

	require.Len(t, producer.produced, 1)
	msg := producer.produced[0]
	assert.Equal(t, "fraud-alerts", *msg.TopicPartition.Topic)
	assert.Equal(t, []byte("TXN-1"), msg.Key)
	assert.Equal(t, []byte("body"), msg.Value)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "Fraud Alert: Transaction TXN-1", string(msg.Headers[0].Value))
}

func TestKafkaSink_ErrorClassification(t *testing.T) {
	dest := mustDestination(t, "kafka://clean")

	_, err := NewKafkaSink(dest, &fakeProducer{produceErr: kafka.NewError(kafka.ErrQueueFull, "queue full", false)}).
		Publish(context.Background(), Envelope{TransactionID: "t"})
	assert.True(t, pkg.IsRetryable(err))

	_, err = NewKafkaSink(dest, &fakeProducer{deliveryErr: kafka.NewError(kafka.ErrUnknownTopicOrPart, "unknown topic", false)}).
		Publish(context.Background(), Envelope{TransactionID: "t"})
	require.Error(t, err)
	assert.Equal(t, pkg.ErrPermanentDispatchCode, pkg.CodeOf(err))

	_, err = NewKafkaSink(dest, &fakeProducer{deliveryErr: kafka.NewError(kafka.ErrMsgTimedOut, "timed out", false)}).
		Publish(context.Background(), Envelope{TransactionID: "t"})
	assert.True(t, pkg.IsRetryable(err))
}

func TestKafkaSink_DeliveryTimeout(t *testing.T) {
	sink := NewKafkaSink(mustDestination(t, "kafka://clean"), &fakeProducer{silent: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sink.Publish(ctx, Envelope{TransactionID: "t"})
	require.Error(t, err)
	assert.True(t, pkg.IsRetryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type fakeStream struct {
	id   string
	err  error
	args []*redis.XAddArgs
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult(f.id, f.err)
}

type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestRedisStreamSink_Publish(t *testing.T) {
	stream := &fakeStream{id: "1718000000000-0"}
	sink := NewRedisStreamSink(mustDestination(t, "redis://clean-transactions"), stream)

	id, err := sink.Publish(context.Background(), Envelope{TransactionID: "TXN-2", Body: []byte("{}")})
	require.NoError(t, err)
	assert.Equal(t, "1718000000000-0", id)

	require.Len(t, stream.args, 1)
	assert.Equal(t, "clean-transactions", stream.args[0].Stream)
	values := stream.args[0].Values.(map[string]interface{})
	assert.Equal(t, "TXN-2", values["transactionId"])
	assert.Equal(t, "{}", values["body"])
	assert.NotContains(t, values, "subject")
}

func TestRedisStreamSink_ErrorClassification(t *testing.T) {
	dest := mustDestination(t, "redis://clean")

	_, err := NewRedisStreamSink(dest, &fakeStream{err: errors.New("dial tcp: connection refused")}).
		Publish(context.Background(), Envelope{})
	assert.True(t, pkg.IsRetryable(err))

	_, err = NewRedisStreamSink(dest, &fakeStream{err: replyError("LOADING Redis is loading the dataset in memory")}).
		Publish(context.Background(), Envelope{})
	assert.True(t, pkg.IsRetryable(err))

	_, err = NewRedisStreamSink(dest, &fakeStream{err: replyError("WRONGTYPE Operation against a key holding the wrong kind of value")}).
		Publish(context.Background(), Envelope{})
	require.Error(t, err)
	assert.Equal(t, pkg.ErrPermanentDispatchCode, pkg.CodeOf(err))
}

func TestWebhookSink_Publish(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set(pkg.HeaderMessageId, "msg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(mustDestination(t, srv.URL+"/fraud"), srv.Client())
	id, err := sink.Publish(context.Background(), Envelope{TransactionID: "TXN-1", Subject: "Fraud Alert: Transaction TXN-1", Body: []byte("report")})
	require.NoError(t, err)

	assert.Equal(t, "msg-123", id)
	assert.Equal(t, "TXN-1", got.TransactionID)
	assert.Equal(t, "Fraud Alert: Transaction TXN-1", got.Subject)
	assert.Equal(t, "report", got.Message)
}

func TestWebhookSink_StatusClassification(t *testing.T) {
	cases := map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusRequestTimeout:      true,
		http.StatusBadGateway:          true,
		http.StatusInternalServerError: true,
		http.StatusNotFound:            false,
		http.StatusUnauthorized:        false,
	}
	for status, retryable := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		sink := NewWebhookSink(mustDestination(t, srv.URL), srv.Client())
		_, err := sink.Publish(context.Background(), Envelope{TransactionID: "t"})
		srv.Close()

		require.Error(t, err, status)
		assert.Equal(t, retryable, pkg.IsRetryable(err), status)
	}
}

func TestWebhookSink_GeneratesDeliveryID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id, err := NewWebhookSink(mustDestination(t, srv.URL), srv.Client()).Publish(context.Background(), Envelope{TransactionID: "t"})
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestNewSink(t *testing.T) {
	deps := SinkDeps{KafkaProducer: &fakeProducer{}, Redis: &fakeStream{}, HTTPClient: http.DefaultClient}

	sink, err := NewSink(mustDestination(t, "kafka://alerts"), deps)
	require.NoError(t, err)
	assert.IsType(t, &KafkaSink{}, sink)

	sink, err = NewSink(mustDestination(t, "redis://clean"), deps)
	require.NoError(t, err)
	assert.IsType(t, &RedisStreamSink{}, sink)

	sink, err = NewSink(mustDestination(t, "https://hooks.example.com"), deps)
	require.NoError(t, err)
	assert.IsType(t, &WebhookSink{}, sink)

	_, err = NewSink(mustDestination(t, "redis://clean"), SinkDeps{})
	require.Error(t, err)
	assert.Equal(t, pkg.ErrConfigCode, pkg.CodeOf(err))
}
