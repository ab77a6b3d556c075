package queue

import (
	"context"
	"fmt"

	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/rs/zerolog/log"
)

// SenderPool shares a fixed set of senders between concurrent publishers.
// A sender that fails is closed and replaced on the next Get.
type SenderPool struct {
	senders chan messaging.MessageSender
	factory func() (messaging.MessageSender, error)
}

// NewSenderPool pre-populates size senders from factory
func NewSenderPool(size int, factory func() (messaging.MessageSender, error)) (*SenderPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("sender pool size must be positive, got %d", size)
	}
	p := &SenderPool{
		senders: make(chan messaging.MessageSender, size),
		factory: factory,
	}
	for i := 0; i < size; i++ {
		sender, err := factory()
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create sender: %w", err)
		}
		p.senders <- sender
	}
	return p, nil
}

// Get takes a sender, waiting for one to be returned if all are busy
func (p *SenderPool) Get(ctx context.Context) (messaging.MessageSender, error) {
	select {
	case sender := <-p.senders:
		if sender == nil {
			return p.factory()
		}
		return sender, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a sender to the pool
func (p *SenderPool) Put(sender messaging.MessageSender) {
	select {
	case p.senders <- sender:
	default:
		log.Warn().Msg("Sender pool is full, closing sender")
		if sender != nil {
			_ = sender.Close()
		}
	}
}

// SendDoneMessage sends a message using a pooled sender
func (p *SenderPool) SendDoneMessage(ctx context.Context, msg *messaging.DoneMessage) error {
	sender, err := p.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get message sender from pool: %w", err)
	}

	if err := sender.SendDoneMessage(ctx, msg); err != nil {
		// the connection may be broken, leave a hole the next Get refills
		_ = sender.Close()
		p.Put(nil)
		return err
	}
	p.Put(sender)
	return nil
}

// Close closes every idle sender
func (p *SenderPool) Close() error {
	var firstErr error
	for {
		select {
		case sender := <-p.senders:
			if sender == nil {
				continue
			}
			if err := sender.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}

var _ messaging.MessageSender = (*SenderPool)(nil)
