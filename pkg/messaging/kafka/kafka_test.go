package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/erain9/tickbook/pkg/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type scriptedReader struct {
	msgs []kafka.Message
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) Close() error { return nil }

func TestNewKafkaMessageSender_Validation(t *testing.T) {
	_, err := NewKafkaMessageSender(nil, "topic", 0)
	assert.Error(t, err)
	_, err = NewKafkaMessageSender([]string{"localhost:9092"}, "", 0)
	assert.Error(t, err)

	s, err := NewKafkaMessageSender([]string{"localhost:9092"}, "topic", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, s.timeout)
}

func TestKafkaMessageSender_SendDoneMessage(t *testing.T) {
	w := &recordingWriter{}
	s := &KafkaMessageSender{writer: w, topic: "done", timeout: time.Second}

	done := &messaging.DoneMessage{Event: messaging.EventPlaced, Book: "BOOK", Sequence: 3, OrderID: "o1", Timestamp: 1700000000000}
	require.NoError(t, s.SendDoneMessage(context.Background(), done))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("BOOK"), w.msgs[0].Key)

	var decoded messaging.DoneMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, *done, decoded)

	w.err = errors.New("leader not available")
	assert.Error(t, s.SendDoneMessage(context.Background(), done))

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestDoneReader_Run(t *testing.T) {
	good, err := json.Marshal(messaging.DoneMessage{Event: messaging.EventCanceled, OrderID: "o9"})
	require.NoError(t, err)

	r := &DoneReader{
		reader: &scriptedReader{msgs: []kafka.Message{{Value: []byte("{")}, {Value: good}}},
		logger: zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []*messaging.DoneMessage
	err = r.Run(ctx, func(_ kafka.Message, d *messaging.DoneMessage) error {
		got = append(got, d)
		cancel()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o9", got[0].OrderID)
}

func TestDoneReader_HandlerErrorStops(t *testing.T) {
	good, _ := json.Marshal(messaging.DoneMessage{OrderID: "o1"})
	r := &DoneReader{reader: &scriptedReader{msgs: []kafka.Message{{Value: good}, {Value: good}}}, logger: zerolog.Nop()}

	stop := errors.New("stop")
	calls := 0
	err := r.Run(context.Background(), func(kafka.Message, *messaging.DoneMessage) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReaderConfigAlwaysJoinsGroup(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ReaderConfig
		group  string
		offset int64
	}{
		{"named group", ReaderConfig{Brokers: []string{"b"}, Topic: "t", GroupID: "tail"}, "tail", kafka.LastOffset},
		{"named group from beginning", ReaderConfig{Brokers: []string{"b"}, Topic: "t", GroupID: "tail", FromBeginning: true}, "tail", kafka.FirstOffset},
		{"fresh group", ReaderConfig{Brokers: []string{"b"}, Topic: "t"}, "", kafka.LastOffset},
		{"fresh group from beginning", ReaderConfig{Brokers: []string{"b"}, Topic: "t", FromBeginning: true}, "", kafka.FirstOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := readerConfig(tt.cfg)
			require.NotEmpty(t, rc.GroupID)
			if tt.group != "" {
				assert.Equal(t, tt.group, rc.GroupID)
			} else {
				assert.True(t, strings.HasPrefix(rc.GroupID, "tickbook-reader-"), rc.GroupID)
			}
			assert.Equal(t, tt.offset, rc.StartOffset)
			assert.Zero(t, rc.Partition)
			require.NoError(t, rc.Validate())
		})
	}

	a, b := readerConfig(ReaderConfig{Topic: "t"}), readerConfig(ReaderConfig{Topic: "t"})
	assert.NotEqual(t, a.GroupID, b.GroupID)
}

func TestKafkaRoundTrip(t *testing.T) {
	addr := testutil.KafkaAddr()
	testutil.SkipIfKafkaUnavailable(t, addr)

	topic := testutil.KafkaTestTopic
	s, err := NewKafkaMessageSender([]string{addr}, topic, 5*time.Second)
	require.NoError(t, err)
	defer s.Close()

	r, err := NewDoneReader(ReaderConfig{Brokers: []string{addr}, Topic: topic, FromBeginning: true}, zerolog.Nop())
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	id := time.Now().Format(time.RFC3339Nano)
	require.NoError(t, s.SendDoneMessage(ctx, &messaging.DoneMessage{Event: messaging.EventPlaced, Book: "it", OrderID: id}))

	found := false
	_ = r.Run(ctx, func(_ kafka.Message, d *messaging.DoneMessage) error {
		if d.OrderID == id {
			found = true
			cancel()
		}
		return nil
	})
	assert.True(t, found)
}
