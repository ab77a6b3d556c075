package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erain9/tickbook/config"
	"github.com/erain9/tickbook/pkg/backend/memory"
	redisbackend "github.com/erain9/tickbook/pkg/backend/redis"
	"github.com/erain9/tickbook/pkg/core"
	"github.com/erain9/tickbook/pkg/db/queue"
	"github.com/erain9/tickbook/pkg/logging"
	"github.com/erain9/tickbook/pkg/marketmaker"
	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/erain9/tickbook/pkg/messaging/kafka"
	"github.com/erain9/tickbook/pkg/otel"
	"github.com/erain9/tickbook/pkg/server"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

// sarama producers are synchronous, so a few are pooled
const saramaPoolSize = 4

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	if cfg.PrintConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
		Output: os.Stdout,
	})
	if cfg.File != "" {
		logger.Info().Str("file", cfg.File).Msg("Loaded configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Otel.Enabled {
		cleanup, err := otel.Init(otel.Config{
			ServiceVersion:   cfg.Otel.ServiceVersion,
			Endpoint:         cfg.Otel.Endpoint,
			CollectorEnabled: true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer cleanup()

		if err := otel.StartRuntimeMetrics(15 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("Failed to start runtime metrics")
		}
	}

	grid, err := cfg.Grid()
	if err != nil {
		return err
	}

	sender, err := newSender(cfg)
	if err != nil {
		return err
	}
	if sender != nil {
		defer sender.Close()
	}

	quotes, err := newQuoteBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer quotes.Close()

	manager := server.NewOrderBookManager()
	defer manager.Close()

	book, err := manager.CreateOrderBook(ctx, server.Config{
		Name:          cfg.Book.Name,
		Grid:          grid,
		QueueSize:     cfg.Book.QueueSize,
		PublishBuffer: cfg.Book.PublishBuffer,
		Paranoid:      cfg.Server.Paranoid,
		Sender:        sender,
		Quotes:        quotes,
	})
	if err != nil {
		return fmt.Errorf("failed to create order book: %w", err)
	}

	if cfg.MarketMaker.Enabled {
		mm, err := startMarketMaker(ctx, &cfg.MarketMaker, book, logger)
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mm.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("Market maker shutdown error")
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           newStatusHandler(manager, cfg.Book.Name, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.HTTPAddr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received signal, shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
	case <-book.Done():
		logger.Error().Err(book.Err()).Msg("Order book stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("Server shutdown complete")
	return book.Err()
}

// newSender picks the done message publisher named by kafka.driver. A nil
// sender disables publishing.
func newSender(cfg *config.Config) (messaging.MessageSender, error) {
	switch cfg.Kafka.Driver {
	case config.DriverKafkaGo:
		return kafka.NewKafkaMessageSender(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Timeout)
	case config.DriverSarama:
		qcfg := queue.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}
		return queue.NewSenderPool(saramaPoolSize, func() (messaging.MessageSender, error) {
			return queue.NewQueueMessageSender(qcfg)
		})
	case config.DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown kafka driver %q", cfg.Kafka.Driver)
	}
}

func newQuoteBackend(ctx context.Context, cfg *config.Config) (core.QuoteBackend, error) {
	if !cfg.Redis.Enabled {
		return memory.NewMemoryBackend(), nil
	}

	client := redisbackend.NewClient(redisbackend.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		client.Close()
		return nil, err
	}
	return redisbackend.NewRedisBackend(client, cfg.Redis.Prefix, zl), nil
}

func startMarketMaker(ctx context.Context, cfg *marketmaker.Config, book *server.BookServer, logger zerolog.Logger) (*marketmaker.MarketMaker, error) {
	fetcher, err := marketmaker.NewPriceFetcherFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create price fetcher: %w", err)
	}
	strategy := marketmaker.NewLayeredSymmetricQuoting(cfg, book.Grid(), logger)
	mm := marketmaker.NewMarketMaker(cfg, logger, book, fetcher, strategy)
	mm.Start(ctx)
	return mm, nil
}
