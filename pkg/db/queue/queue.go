package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxRetry = 5
)

// Config selects the brokers and topic of the sarama driver
type Config struct {
	Brokers  []string
	Topic    string
	MaxRetry int
}

// replaced in tests
var (
	newSyncProducer = sarama.NewSyncProducer
	newConsumer     = sarama.NewConsumer
)

func saramaConfig(cfg Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = cfg.MaxRetry
	if sc.Producer.Retry.Max == 0 {
		sc.Producer.Retry.Max = defaultMaxRetry
	}
	sc.Consumer.Return.Errors = true
	return sc
}

// QueueMessageSender implements the MessageSender interface
// for sending messages to Kafka through sarama
type QueueMessageSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewQueueMessageSender connects a synchronous producer to cfg.Brokers
func NewQueueMessageSender(cfg Config) (*QueueMessageSender, error) {
	producer, err := newSyncProducer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &QueueMessageSender{producer: producer, topic: cfg.Topic}, nil
}

// SendDoneMessage sends the DoneMessage to the Kafka queue, keyed by book so
// that one book's events stay on one partition in order
func (q *QueueMessageSender) SendDoneMessage(ctx context.Context, done *messaging.DoneMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageBytes, err := EncodeDoneMessage(done)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(done.Book),
		Value: sarama.ByteEncoder(messageBytes),
	}

	if _, _, err := q.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (q *QueueMessageSender) Close() error {
	return q.producer.Close()
}

var _ messaging.MessageSender = (*QueueMessageSender)(nil)

// QueueMessageConsumer reads DoneMessages from every partition of a topic
type QueueMessageConsumer struct {
	consumer  sarama.Consumer
	topic     string
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueMessageConsumer connects a consumer to cfg.Brokers
func NewQueueMessageConsumer(cfg Config) (*QueueMessageConsumer, error) {
	consumer, err := newConsumer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return &QueueMessageConsumer{
		consumer: consumer,
		topic:    cfg.Topic,
		done:     make(chan struct{}),
	}, nil
}

// ConsumeDoneMessages decodes every message written to any partition of the
// topic from the newest offset on and hands it to handler until ctx is done
// or Close is called. Messages keep their order within a partition, which
// holds all events of one book. Undecodable messages are logged and skipped;
// a handler error stops consumption.
func (c *QueueMessageConsumer) ConsumeDoneMessages(ctx context.Context, handler func(*sarama.ConsumerMessage, *messaging.DoneMessage) error) error {
	partitions, err := c.consumer.Partitions(c.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions of %s: %w", c.topic, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %s has no partitions", c.topic)
	}

	msgs := make(chan *sarama.ConsumerMessage)
	errs := make(chan *sarama.ConsumerError)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for _, p := range partitions {
		pc, err := c.consumer.ConsumePartition(c.topic, p, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", p, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pc.Close()
			forwardPartition(pc, msgs, errs, stop)
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-drained:
			return nil
		case msg := <-msgs:
			done, err := DecodeDoneMessage(msg.Value)
			if err != nil {
				log.Warn().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("Skipping undecodable message")
				continue
			}
			if err := handler(msg, done); err != nil {
				return err
			}
		case cerr := <-errs:
			if cerr != nil && !errors.Is(cerr.Err, sarama.ErrClosedClient) {
				log.Error().Err(cerr.Err).Int32("partition", cerr.Partition).Msg("Kafka consumer error")
			}
		}
	}
}

// forwardPartition copies one partition's messages and errors into the shared
// channels until both of its channels close or stop is closed
func forwardPartition(pc sarama.PartitionConsumer, msgs chan<- *sarama.ConsumerMessage, errs chan<- *sarama.ConsumerError, stop <-chan struct{}) {
	in, inErr := pc.Messages(), pc.Errors()
	for in != nil || inErr != nil {
		select {
		case <-stop:
			return
		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			select {
			case msgs <- msg:
			case <-stop:
				return
			}
		case cerr, ok := <-inErr:
			if !ok {
				inErr = nil
				continue
			}
			select {
			case errs <- cerr:
			case <-stop:
				return
			}
		}
	}
}

// Close stops ConsumeDoneMessages and closes the consumer
func (c *QueueMessageConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.consumer.Close()
	})
	return err
}
