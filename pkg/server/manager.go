package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/erain9/tickbook/pkg/logging"
)

var (
	// ErrOrderBookExists is returned when trying to create an order book that already exists
	ErrOrderBookExists = errors.New("order book with this name already exists")

	// ErrOrderBookNotFound is returned when trying to access a non-existent order book
	ErrOrderBookNotFound = errors.New("order book not found")
)

// OrderBookManager manages multiple named book servers
type OrderBookManager struct {
	mu    sync.RWMutex
	books map[string]*BookServer
}

// NewOrderBookManager creates a new OrderBookManager
func NewOrderBookManager() *OrderBookManager {
	return &OrderBookManager{
		books: make(map[string]*BookServer),
	}
}

// CreateOrderBook starts a book server for cfg.Name
func (m *OrderBookManager) CreateOrderBook(ctx context.Context, cfg Config) (*BookServer, error) {
	logger := logging.FromContext(ctx).With().Str("order_book", cfg.Name).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.books[cfg.Name]; exists {
		logger.Error().Msg("Order book already exists")
		return nil, ErrOrderBookExists
	}

	if cfg.Logger == nil {
		cfg.Logger = &logger
	}
	book, err := NewBookServer(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create order book")
		return nil, err
	}
	m.books[cfg.Name] = book

	logger.Info().Str("grid", cfg.Grid.String()).Msg("Created new order book")
	return book, nil
}

// GetOrderBook retrieves a book server by name
func (m *OrderBookManager) GetOrderBook(ctx context.Context, name string) (*BookServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, exists := m.books[name]
	if !exists {
		logging.FromContext(ctx).Debug().Str("order_book", name).Msg("Order book not found")
		return nil, ErrOrderBookNotFound
	}
	return book, nil
}

// DeleteOrderBook stops and removes a book server
func (m *OrderBookManager) DeleteOrderBook(ctx context.Context, name string) error {
	logger := logging.FromContext(ctx).With().Str("order_book", name).Logger()

	m.mu.Lock()
	book, exists := m.books[name]
	delete(m.books, name)
	m.mu.Unlock()

	if !exists {
		logger.Debug().Msg("Order book not found")
		return ErrOrderBookNotFound
	}

	if err := book.Close(); err != nil {
		logger.Error().Err(err).Msg("Order book stopped with error")
		return err
	}
	logger.Info().Msg("Deleted order book")
	return nil
}

// ListOrderBooks returns information about all order books sorted by name.
// Books that have stopped are skipped.
func (m *OrderBookManager) ListOrderBooks(ctx context.Context) []Info {
	m.mu.RLock()
	books := make([]*BookServer, 0, len(m.books))
	for _, b := range m.books {
		books = append(books, b)
	}
	m.mu.RUnlock()

	result := make([]Info, 0, len(books))
	for _, b := range books {
		info, err := b.Info(ctx)
		if err != nil {
			continue
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	logging.FromContext(ctx).Debug().Int("count", len(result)).Msg("Listed order books")
	return result
}

// Close stops every book server
func (m *OrderBookManager) Close() error {
	m.mu.Lock()
	books := m.books
	m.books = make(map[string]*BookServer)
	m.mu.Unlock()

	var errs []error
	for _, b := range books {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
