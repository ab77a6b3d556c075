package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client from options
func NewClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

const (
	fieldBidIndex = "bid_index"
	fieldBidPrice = "bid_price"
	fieldBidSize  = "bid_size"
	fieldAskIndex = "ask_index"
	fieldAskPrice = "ask_price"
	fieldAskSize  = "ask_size"
)

// RedisBackend stores the top of book in a Redis hash at <prefix>:quote and
// publishes every update as JSON on <prefix>:quotes
type RedisBackend struct {
	client   *redis.Client
	quoteKey string
	channel  string
	logger   *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend
func NewRedisBackend(client *redis.Client, prefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:   client,
		quoteKey: fmt.Sprintf("%s:quote", prefix),
		channel:  fmt.Sprintf("%s:quotes", prefix),
		logger:   logger,
	}
}

// QuoteKey returns the hash key holding the quote
func (b *RedisBackend) QuoteKey() string { return b.quoteKey }

// Channel returns the pub/sub channel quotes are published on
func (b *RedisBackend) Channel() string { return b.channel }

// StoreQuote writes the quote hash and publishes it in one pipeline
func (b *RedisBackend) StoreQuote(ctx context.Context, q core.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.quoteKey, map[string]interface{}{
			fieldBidIndex: q.BidIndex,
			fieldBidPrice: q.BidPrice.String(),
			fieldBidSize:  q.BidSize,
			fieldAskIndex: q.AskIndex,
			fieldAskPrice: q.AskPrice.String(),
			fieldAskSize:  q.AskSize,
		})
		pipe.Publish(ctx, b.channel, payload)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to store quote",
			zap.String("key", b.quoteKey),
			zap.Error(err))
		return err
	}
	return nil
}

// GetQuote reads the quote hash back
func (b *RedisBackend) GetQuote(ctx context.Context) (core.Quote, error) {
	fields, err := b.client.HGetAll(ctx, b.quoteKey).Result()
	if err != nil {
		return core.Quote{}, err
	}
	if len(fields) == 0 {
		return core.Quote{}, core.ErrNoQuote
	}

	q, err := parseQuote(fields)
	if err != nil {
		b.logger.Error("failed to parse quote",
			zap.String("key", b.quoteKey),
			zap.Error(err))
		return core.Quote{}, err
	}
	return q, nil
}

// Subscribe returns a subscription to quote updates. The caller closes it.
func (b *RedisBackend) Subscribe(ctx context.Context) *redis.PubSub {
	return b.client.Subscribe(ctx, b.channel)
}

// Close closes the underlying client
func (b *RedisBackend) Close() error {
	// Sync reports EINVAL for terminals on some platforms, nothing to act on
	_ = b.logger.Sync()
	return b.client.Close()
}

func parseQuote(fields map[string]string) (core.Quote, error) {
	var (
		q   core.Quote
		err error
	)
	parseInt := func(name string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			err = fmt.Errorf("field %s: %w", name, err)
		}
		return v
	}
	parseDecimal := func(name string) fpdecimal.Decimal {
		if err != nil {
			return fpdecimal.Zero
		}
		var v fpdecimal.Decimal
		v, err = fpdecimal.FromString(fields[name])
		if err != nil {
			err = fmt.Errorf("field %s: %w", name, err)
		}
		return v
	}

	q.BidIndex = int(parseInt(fieldBidIndex))
	q.BidPrice = parseDecimal(fieldBidPrice)
	q.BidSize = parseInt(fieldBidSize)
	q.AskIndex = int(parseInt(fieldAskIndex))
	q.AskPrice = parseDecimal(fieldAskPrice)
	q.AskSize = parseInt(fieldAskSize)
	return q, err
}

var _ core.QuoteBackend = (*RedisBackend)(nil)
