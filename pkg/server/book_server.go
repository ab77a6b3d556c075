// Package server runs order books behind a single-writer goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/logging"
	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/erain9/tickbook/pkg/otel"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrServerClosed is returned for requests to a stopped BookServer
var ErrServerClosed = errors.New("book server closed")

const (
	defaultQueueSize      = 1024
	defaultPublishBuffer  = 4096
	defaultPublishTimeout = 5 * time.Second
)

// Config configures a BookServer
type Config struct {
	Name string
	Grid core.PriceGrid
	// QueueSize bounds pending requests; zero means 1024
	QueueSize int
	// PublishBuffer bounds unpublished events; zero means 4096. A full
	// buffer blocks matching until the publisher catches up.
	PublishBuffer  int
	PublishTimeout time.Duration
	// Paranoid runs a full invariant check after every mutation and stops
	// the server on the first violation
	Paranoid bool
	// Sender receives one DoneMessage per accepted placement and per
	// cancellation, in processing order. Optional.
	Sender messaging.MessageSender
	// Quotes receives the top of book whenever it changes. Optional.
	Quotes core.QuoteBackend
	// IDGenerator overrides the order id generator of the book
	IDGenerator func() string
	Logger      *zerolog.Logger
}

// Info describes a running book
type Info struct {
	Name       string     `json:"name"`
	Grid       string     `json:"grid"`
	CreatedAt  time.Time  `json:"createdAt"`
	OrderCount int        `json:"orderCount"`
	Sequence   uint64     `json:"sequence"`
	Quote      core.Quote `json:"quote"`
}

// BookServer owns one OrderBook and applies requests to it one at a time on
// its own goroutine, so callers on any goroutine see a serialized history.
type BookServer struct {
	name      string
	grid      core.PriceGrid
	book      *core.OrderBook
	createdAt time.Time
	paranoid  bool
	logger    zerolog.Logger
	metrics   *otel.OrderBookMetrics

	requests chan func()
	quit     chan struct{}
	stopped  chan struct{}

	sender         messaging.MessageSender
	events         chan *messaging.DoneMessage
	publishTimeout time.Duration
	publisherDone  chan struct{}

	quotes     core.QuoteBackend
	quoteCh    chan core.Quote
	quoterDone chan struct{}

	// owned by the actor goroutine
	seq       uint64
	lastQuote core.Quote
	fatal     error

	closeOnce sync.Once
}

// NewBookServer creates a book over cfg.Grid and starts serving it
func NewBookServer(cfg Config) (*BookServer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("book name must not be empty")
	}
	if cfg.Grid.Size() == 0 {
		return nil, fmt.Errorf("%w: book %s has no price levels", core.ErrInvalidGrid, cfg.Name)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PublishBuffer <= 0 {
		cfg.PublishBuffer = defaultPublishBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	var opts []core.Option
	if cfg.IDGenerator != nil {
		opts = append(opts, core.WithIDGenerator(cfg.IDGenerator))
	}
	book := core.NewOrderBook(cfg.Grid, opts...)

	s := &BookServer{
		name:           cfg.Name,
		grid:           cfg.Grid,
		book:           book,
		createdAt:      time.Now(),
		paranoid:       cfg.Paranoid,
		logger:         logger.With().Str("order_book", cfg.Name).Logger(),
		metrics:        otel.GetOrderBookMetrics(),
		requests:       make(chan func(), cfg.QueueSize),
		quit:           make(chan struct{}),
		stopped:        make(chan struct{}),
		sender:         cfg.Sender,
		publishTimeout: cfg.PublishTimeout,
		quotes:         cfg.Quotes,
		lastQuote:      book.Quote(),
	}

	if s.sender != nil {
		s.events = make(chan *messaging.DoneMessage, cfg.PublishBuffer)
		s.publisherDone = make(chan struct{})
		go s.publish()
	}
	if s.quotes != nil {
		s.quoteCh = make(chan core.Quote, 1)
		s.quoterDone = make(chan struct{})
		s.quoteCh <- s.lastQuote
		go s.storeQuotes()
	}
	go s.run()

	s.logger.Info().Str("grid", cfg.Grid.String()).Bool("paranoid", cfg.Paranoid).Msg("Book server started")
	return s, nil
}

// Name returns the book name
func (s *BookServer) Name() string { return s.name }

// Grid returns the price grid of the book
func (s *BookServer) Grid() core.PriceGrid { return s.grid }

func (s *BookServer) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.requests:
			req()
			if s.fatal != nil {
				return
			}
		case <-s.quit:
			for {
				select {
				case req := <-s.requests:
					req()
					if s.fatal != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the actor goroutine and waits for it. If ctx ends after the
// request was queued the request still runs; only the reply is abandoned.
func (s *BookServer) do(ctx context.Context, fn func(book *core.OrderBook)) error {
	finished := make(chan struct{})
	req := func() {
		fn(s.book)
		close(finished)
	}

	select {
	case s.requests <- req:
	case <-s.stopped:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.stopped:
		select {
		case <-finished:
			return nil
		default:
			return s.closedErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BookServer) closedErr() error {
	if s.fatal != nil {
		return fmt.Errorf("%w: %v", ErrServerClosed, s.fatal)
	}
	return ErrServerClosed
}

// Done is closed once the actor has stopped, either by Close or after an
// invariant violation in paranoid mode
func (s *BookServer) Done() <-chan struct{} { return s.stopped }

// Err returns the invariant violation that stopped the server, if any
func (s *BookServer) Err() error {
	select {
	case <-s.stopped:
		return s.fatal
	default:
		return nil
	}
}

// PlaceOrder submits a limit order. The returned Done has Order cleared
// since the resting order keeps changing on the actor; use GetOrder.
func (s *BookServer) PlaceOrder(ctx context.Context, price fpdecimal.Decimal, quantity int64, side core.Side) (*core.Done, error) {
	logger := logging.FromContext(ctx).With().Str("order_book", s.name).Logger()
	ctx = logger.WithContext(ctx)

	var (
		done *core.Done
		err  error
	)
	if derr := s.do(ctx, func(book *core.OrderBook) {
		done, err = book.PlaceOrder(ctx, price, quantity, side)
		if err != nil {
			return
		}
		s.afterPlace(ctx, done)
	}); derr != nil {
		return nil, derr
	}

	if err != nil {
		logger.Warn().
			Err(err).
			Str("side", side.String()).
			Str("price", price.String()).
			Int64("quantity", quantity).
			Msg("Order rejected")
		s.metrics.RecordRejected(ctx, s.name, rejectReason(err))
		return nil, err
	}

	out := *done
	out.Order = nil
	return &out, nil
}

func (s *BookServer) afterPlace(ctx context.Context, done *core.Done) {
	filled := 0
	for _, t := range done.Trades {
		if t.MakerLeft == 0 {
			filled++
		}
	}
	s.metrics.RecordPlaced(ctx, s.name, done.Side.String(), len(done.Trades), done.Processed, done.Stored)
	s.metrics.RecordFilledMakers(ctx, s.name, filled)

	s.emit(done.ToMessagingDoneMessage())
	s.afterMutation(ctx)
}

// CancelOrder removes a resting order and returns its final state
func (s *BookServer) CancelOrder(ctx context.Context, orderID string) (core.Order, error) {
	logger := logging.FromContext(ctx).With().Str("order_book", s.name).Logger()
	ctx = logger.WithContext(ctx)

	var (
		order core.Order
		err   error
	)
	if derr := s.do(ctx, func(book *core.OrderBook) {
		var o *core.Order
		o, err = book.CancelOrder(ctx, orderID)
		s.metrics.RecordCanceled(ctx, s.name, err == nil)
		if err != nil {
			return
		}
		order = *o
		s.emit(core.CanceledMessage(o))
		s.afterMutation(ctx)
	}); derr != nil {
		return core.Order{}, derr
	}
	return order, err
}

// Volume returns the ledger volume at the tick of price
func (s *BookServer) Volume(ctx context.Context, price fpdecimal.Decimal, side core.Side) (int64, error) {
	var v int64
	err := s.do(ctx, func(book *core.OrderBook) {
		v = book.GetVolumeAtPrice(price, side)
	})
	return v, err
}

// Quote returns the current top of book
func (s *BookServer) Quote(ctx context.Context) (core.Quote, error) {
	var q core.Quote
	err := s.do(ctx, func(book *core.OrderBook) {
		q = book.Quote()
	})
	return q, err
}

// Depth returns up to n levels of side, best first
func (s *BookServer) Depth(ctx context.Context, side core.Side, n int) ([]core.LevelDepth, error) {
	var d []core.LevelDepth
	err := s.do(ctx, func(book *core.OrderBook) {
		d = book.Depth(side, n)
	})
	return d, err
}

// GetOrder returns a copy of a resting order
func (s *BookServer) GetOrder(ctx context.Context, orderID string) (core.Order, bool, error) {
	var (
		order core.Order
		found bool
	)
	err := s.do(ctx, func(book *core.OrderBook) {
		if o := book.GetOrder(orderID); o != nil {
			order, found = *o, true
		}
	})
	return order, found, err
}

// Info returns a summary of the book
func (s *BookServer) Info(ctx context.Context) (Info, error) {
	var info Info
	err := s.do(ctx, func(book *core.OrderBook) {
		info = Info{
			Name:       s.name,
			Grid:       s.grid.String(),
			CreatedAt:  s.createdAt,
			OrderCount: book.Len(),
			Sequence:   s.seq,
			Quote:      book.Quote(),
		}
	})
	return info, err
}

// Check runs the full invariant check on the actor
func (s *BookServer) Check(ctx context.Context) error {
	var cerr error
	if err := s.do(ctx, func(book *core.OrderBook) {
		cerr = book.CheckInvariants()
	}); err != nil {
		return err
	}
	return cerr
}

// String renders the book on the actor
func (s *BookServer) String() string {
	var out string
	if err := s.do(context.Background(), func(book *core.OrderBook) {
		out = book.String()
	}); err != nil {
		return err.Error()
	}
	return out
}

func (s *BookServer) afterMutation(ctx context.Context) {
	if q := s.book.Quote(); q != s.lastQuote {
		s.lastQuote = q
		s.pushQuote(q)
	}

	if s.paranoid {
		if err := s.book.CheckInvariants(); err != nil {
			logging.FromContext(ctx).Error().Err(err).Msg("Invariant violation, stopping book server")
			s.fatal = err
		}
	}
}

func (s *BookServer) emit(msg *messaging.DoneMessage) {
	s.seq++
	if s.events == nil {
		return
	}
	msg.Book = s.name
	msg.Sequence = s.seq
	msg.Timestamp = time.Now().UnixMilli()
	s.events <- msg
}

// pushQuote replaces any quote the storer has not picked up yet
func (s *BookServer) pushQuote(q core.Quote) {
	if s.quoteCh == nil {
		return
	}
	select {
	case s.quoteCh <- q:
	default:
		select {
		case <-s.quoteCh:
		default:
		}
		s.quoteCh <- q
	}
}

func (s *BookServer) publish() {
	defer close(s.publisherDone)
	for msg := range s.events {
		ctx, span := otel.StartOrderSpan(context.Background(), otel.SpanPublishDone,
			attribute.String(otel.AttributeBook, msg.Book),
			attribute.String(otel.AttributeOrderID, msg.OrderID),
			attribute.String(otel.AttributeOrderStatus, msg.Event),
		)
		ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		if err := s.sender.SendDoneMessage(ctx, msg); err != nil {
			s.logger.Error().
				Err(err).
				Uint64("sequence", msg.Sequence).
				Str("order_id", msg.OrderID).
				Msg("Failed to publish done message")
		}
		cancel()
		span.End()
	}
}

func (s *BookServer) storeQuotes() {
	defer close(s.quoterDone)
	for q := range s.quoteCh {
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		if err := s.quotes.StoreQuote(ctx, q); err != nil {
			s.logger.Error().Err(err).Msg("Failed to store quote")
		}
		cancel()
	}
}

// Close stops accepting requests, runs the ones already queued, and waits
// until every event has been handed to the sender. The sender and the quote
// backend stay open; they belong to the caller.
func (s *BookServer) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.stopped
		if s.events != nil {
			close(s.events)
			<-s.publisherDone
		}
		if s.quoteCh != nil {
			close(s.quoteCh)
			<-s.quoterDone
		}
		s.logger.Info().Uint64("sequence", s.seq).Msg("Book server stopped")
	})
	return s.Err()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrPriceOutOfRange):
		return "price_out_of_range"
	case errors.Is(err, core.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, core.ErrInvalidSide):
		return "invalid_side"
	default:
		return "other"
	}
}
