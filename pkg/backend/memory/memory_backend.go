package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/erain9/tickbook/pkg/core"
)

// ErrClosed is returned when storing into a closed backend
var ErrClosed = errors.New("memory backend closed")

// MemoryBackend keeps the latest quote of a book in process memory
type MemoryBackend struct {
	sync.RWMutex
	quote   core.Quote
	stored  bool
	updates uint64
	closed  bool
}

// NewMemoryBackend creates a new instance of MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// StoreQuote replaces the stored quote
func (b *MemoryBackend) StoreQuote(_ context.Context, q core.Quote) error {
	b.Lock()
	defer b.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.quote = q
	b.stored = true
	b.updates++
	return nil
}

// GetQuote returns the last stored quote
func (b *MemoryBackend) GetQuote(_ context.Context) (core.Quote, error) {
	b.RLock()
	defer b.RUnlock()

	if !b.stored {
		return core.Quote{}, core.ErrNoQuote
	}
	return b.quote, nil
}

// Updates returns how many quotes have been stored
func (b *MemoryBackend) Updates() uint64 {
	b.RLock()
	defer b.RUnlock()
	return b.updates
}

// Close marks the backend closed. Stored data stays readable.
func (b *MemoryBackend) Close() error {
	b.Lock()
	defer b.Unlock()
	b.closed = true
	return nil
}

var _ core.QuoteBackend = (*MemoryBackend)(nil)
