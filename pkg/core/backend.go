package core

import (
	"context"
	"errors"
)

// ErrNoQuote is returned by a QuoteBackend that has not stored a quote yet
var ErrNoQuote = errors.New("no quote stored")

// QuoteBackend persists the top of book of one book so that readers outside
// the matching goroutine can observe it. Implementations must be safe for
// concurrent use.
type QuoteBackend interface {
	// StoreQuote replaces the stored quote
	StoreQuote(ctx context.Context, q Quote) error
	// GetQuote returns the last stored quote or ErrNoQuote
	GetQuote(ctx context.Context) (Quote, error)
	// Close releases the backend
	Close() error
}
