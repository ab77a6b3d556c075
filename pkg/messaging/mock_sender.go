package messaging

import (
	"context"
	"sync"
)

// MockMessageSender records every message it is given, for tests.
type MockMessageSender struct {
	mu       sync.Mutex
	messages []*DoneMessage
	closed   bool
}

// NewMockMessageSender creates a new MockMessageSender.
func NewMockMessageSender() *MockMessageSender {
	return &MockMessageSender{}
}

// SendDoneMessage stores the message.
func (m *MockMessageSender) SendDoneMessage(_ context.Context, done *DoneMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, done)
	return nil
}

// Messages returns a copy of everything sent so far.
func (m *MockMessageSender) Messages() []*DoneMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*DoneMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Closed reports whether Close was called.
func (m *MockMessageSender) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the sender closed.
func (m *MockMessageSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockMessageSender implements MessageSender
var _ MessageSender = (*MockMessageSender)(nil)
