package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConsumer serves one message channel per partition and a shared error channel
type mockConsumer struct {
	partitions map[int32]chan *sarama.ConsumerMessage
	errors     chan *sarama.ConsumerError
	consumed   atomic.Int64
}

func newMockConsumer(partitions ...int32) *mockConsumer {
	mc := &mockConsumer{
		partitions: make(map[int32]chan *sarama.ConsumerMessage),
		errors:     make(chan *sarama.ConsumerError, 1),
	}
	for _, p := range partitions {
		mc.partitions[p] = make(chan *sarama.ConsumerMessage, 2)
	}
	return mc
}

func (m *mockConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	ch, ok := m.partitions[partition]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	m.consumed.Add(1)
	return &mockPartitionConsumer{
		messages: ch,
		errors:   m.errors,
	}, nil
}

func (m *mockConsumer) Topics() ([]string, error) {
	return []string{}, nil
}

func (m *mockConsumer) Partitions(topic string) ([]int32, error) {
	ps := make([]int32, 0, len(m.partitions))
	for p := range m.partitions {
		ps = append(ps, p)
	}
	return ps, nil
}

func (m *mockConsumer) HighWaterMarks() map[string]map[int32]int64 {
	return nil
}

func (m *mockConsumer) Close() error {
	return nil
}

func (m *mockConsumer) Pause(topicPartitions map[string][]int32) {}

func (m *mockConsumer) Resume(topicPartitions map[string][]int32) {}

func (m *mockConsumer) PauseAll() {}

func (m *mockConsumer) ResumeAll() {}

type mockPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (m *mockPartitionConsumer) AsyncClose() {}

func (m *mockPartitionConsumer) Close() error {
	return nil
}

func (m *mockPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return m.messages
}

func (m *mockPartitionConsumer) Errors() <-chan *sarama.ConsumerError {
	return m.errors
}

func (m *mockPartitionConsumer) HighWaterMarkOffset() int64 {
	return 0
}

func (m *mockPartitionConsumer) IsPaused() bool {
	return false
}

func (m *mockPartitionConsumer) Pause() {}

func (m *mockPartitionConsumer) Resume() {}

func testDoneMessage() *messaging.DoneMessage {
	return &messaging.DoneMessage{
		Event:        messaging.EventPlaced,
		Book:         "BTC-USD",
		Sequence:     42,
		OrderID:      "order-1",
		Side:         "BUY",
		Price:        "101.5",
		Quantity:     15,
		ExecutedQty:  8,
		RemainingQty: 7,
		Stored:       true,
		Trades: []messaging.Trade{
			{MakerOrderID: "maker-1", Price: "101", Quantity: 8, MakerLeft: 2},
		},
		Timestamp: 1700000000000,
	}
}

func withMockProducer(t *testing.T) *mockProducer {
	mockProd := &mockProducer{}
	old := newSyncProducer
	t.Cleanup(func() { newSyncProducer = old })
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		assert.True(t, config.Producer.Return.Successes, "sync producers need Return.Successes")
		return mockProd, nil
	}
	return mockProd
}

func TestDoneMessageCodec(t *testing.T) {
	want := testDoneMessage()

	data, err := EncodeDoneMessage(want)
	require.NoError(t, err)

	got, err := DecodeDoneMessage(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DecodeDoneMessage([]byte{0xff, 0x01})
	assert.Error(t, err)
}

func TestQueueMessageSender_SendDoneMessage(t *testing.T) {
	mockProd := withMockProducer(t)

	sender, err := NewQueueMessageSender(Config{Brokers: []string{"localhost:9092"}, Topic: "tickbook-done"})
	require.NoError(t, err)
	defer sender.Close()

	done := testDoneMessage()
	require.NoError(t, sender.SendDoneMessage(context.Background(), done))

	sent := mockProd.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "tickbook-done", sent[0].Topic)
	assert.Equal(t, sarama.StringEncoder("BTC-USD"), sent[0].Key)

	decoded, err := DecodeDoneMessage(sent[0].Value.(sarama.ByteEncoder))
	require.NoError(t, err)
	assert.Equal(t, done, decoded)
}

func TestQueueMessageSender_CanceledContext(t *testing.T) {
	mockProd := withMockProducer(t)
	sender, err := NewQueueMessageSender(Config{Topic: "t"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sender.SendDoneMessage(ctx, testDoneMessage()), context.Canceled)
	assert.Empty(t, mockProd.messages())
}

func TestQueueMessageConsumer_ConsumeDoneMessages(t *testing.T) {
	expected := testDoneMessage()

	mc := newMockConsumer(0)
	consumer := &QueueMessageConsumer{
		consumer: mc,
		topic:    "tickbook-done",
		done:     make(chan struct{}),
	}

	received := make(chan *messaging.DoneMessage, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- consumer.ConsumeDoneMessages(context.Background(), func(_ *sarama.ConsumerMessage, msg *messaging.DoneMessage) error {
			received <- msg
			return nil
		})
	}()

	data, err := EncodeDoneMessage(expected)
	require.NoError(t, err)
	mc.partitions[0] <- &sarama.ConsumerMessage{Value: []byte("garbage")}
	mc.partitions[0] <- &sarama.ConsumerMessage{Value: data}

	select {
	case msg := <-received:
		assert.Equal(t, expected, msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	require.NoError(t, consumer.Close())
	require.NoError(t, consumer.Close())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after Close")
	}
}

func TestQueueMessageConsumer_ReadsEveryPartition(t *testing.T) {
	mc := newMockConsumer(0, 1, 2)
	consumer := &QueueMessageConsumer{
		consumer: mc,
		topic:    "tickbook-done",
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan int32, 3)
	errc := make(chan error, 1)
	go func() {
		errc <- consumer.ConsumeDoneMessages(ctx, func(m *sarama.ConsumerMessage, msg *messaging.DoneMessage) error {
			assert.Equal(t, m.Partition, int32(msg.Sequence))
			received <- m.Partition
			return nil
		})
	}()

	for _, p := range []int32{2, 0, 1} {
		done := testDoneMessage()
		done.Sequence = uint64(p)
		data, err := EncodeDoneMessage(done)
		require.NoError(t, err)
		mc.partitions[p] <- &sarama.ConsumerMessage{Partition: p, Value: data}
	}

	seen := map[int32]bool{}
	for len(seen) < 3 {
		select {
		case p := <-received:
			seen[p] = true
		case <-time.After(time.Second):
			t.Fatalf("only saw partitions %v", seen)
		}
	}
	assert.Equal(t, int64(3), mc.consumed.Load())

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestQueueMessageConsumer_NoPartitions(t *testing.T) {
	consumer := &QueueMessageConsumer{consumer: newMockConsumer(), topic: "missing", done: make(chan struct{})}
	err := consumer.ConsumeDoneMessages(context.Background(), func(*sarama.ConsumerMessage, *messaging.DoneMessage) error {
		return nil
	})
	assert.Error(t, err)
}

type countingSender struct {
	sent   atomic.Int64
	closed atomic.Int64
	fail   atomic.Bool
}

func (s *countingSender) SendDoneMessage(ctx context.Context, done *messaging.DoneMessage) error {
	if s.fail.Load() {
		return errors.New("send failed")
	}
	s.sent.Add(1)
	return nil
}

func (s *countingSender) Close() error {
	s.closed.Add(1)
	return nil
}

func TestSenderPool(t *testing.T) {
	var created atomic.Int64
	shared := &countingSender{}
	pool, err := NewSenderPool(2, func() (messaging.MessageSender, error) {
		created.Add(1)
		return shared, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), created.Load())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.SendDoneMessage(ctx, testDoneMessage()))
	}
	assert.Equal(t, int64(10), shared.sent.Load())
	assert.Equal(t, int64(2), created.Load(), "healthy senders are reused")

	shared.fail.Store(true)
	assert.Error(t, pool.SendDoneMessage(ctx, testDoneMessage()))
	shared.fail.Store(false)

	require.NoError(t, pool.SendDoneMessage(ctx, testDoneMessage()))
	require.NoError(t, pool.SendDoneMessage(ctx, testDoneMessage()))
	assert.Equal(t, int64(3), created.Load(), "a failed sender is replaced")

	require.NoError(t, pool.Close())
}

func TestSenderPool_GetHonorsContext(t *testing.T) {
	pool, err := NewSenderPool(1, func() (messaging.MessageSender, error) {
		return &countingSender{}, nil
	})
	require.NoError(t, err)

	s, err := pool.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Put(s)
	_, err = pool.Get(context.Background())
	assert.NoError(t, err)
}
