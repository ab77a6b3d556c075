package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReaderConfig selects where a DoneReader starts
type ReaderConfig struct {
	Brokers []string
	Topic   string
	// GroupID names the consumer group. Empty joins a fresh group so the
	// reader is assigned every partition of the topic.
	GroupID string
	// FromBeginning starts a group without committed offsets at the oldest
	// message instead of the newest
	FromBeginning bool
}

// DoneReader decodes DoneMessages written by KafkaMessageSender
type DoneReader struct {
	reader messageReader
	logger zerolog.Logger
}

// NewDoneReader creates a reader on cfg.Topic
func NewDoneReader(cfg ReaderConfig, logger zerolog.Logger) (*DoneReader, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka reader needs brokers and a topic")
	}

	return &DoneReader{reader: kafka.NewReader(readerConfig(cfg)), logger: logger}, nil
}

// readerConfig always sets a group. A kafka-go reader without one reads a
// single partition, while senders spread books across partitions by key.
func readerConfig(cfg ReaderConfig) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	}
	if rc.GroupID == "" {
		rc.GroupID = "tickbook-reader-" + uuid.NewString()
	}
	if cfg.FromBeginning {
		rc.StartOffset = kafka.FirstOffset
	}
	return rc
}

// Run reads until ctx is canceled, handing every decoded message to handler.
// Undecodable messages are logged and skipped; a handler error stops Run.
func (r *DoneReader) Run(ctx context.Context, handler func(kafka.Message, *messaging.DoneMessage) error) error {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var done messaging.DoneMessage
		if err := json.Unmarshal(m.Value, &done); err != nil {
			r.logger.Warn().
				Err(err).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("Skipping undecodable message")
			continue
		}

		if err := handler(m, &done); err != nil {
			return err
		}
	}
}

// Close closes the underlying reader
func (r *DoneReader) Close() error {
	return r.reader.Close()
}
