package testutil

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

const (
	// DefaultRedisAddr is used when TICKBOOK_TEST_REDIS_ADDR is unset
	DefaultRedisAddr = "localhost:6379"
	// DefaultKafkaAddr is used when TICKBOOK_TEST_KAFKA_ADDR is unset
	DefaultKafkaAddr = "localhost:9092"
	// KafkaTestTopic is the topic integration tests publish to
	KafkaTestTopic = "tickbook-test"
)

// RedisAddr returns the Redis address integration tests should use
func RedisAddr() string {
	if addr := os.Getenv("TICKBOOK_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return DefaultRedisAddr
}

// KafkaAddr returns the Kafka broker address integration tests should use
func KafkaAddr() string {
	if addr := os.Getenv("TICKBOOK_TEST_KAFKA_ADDR"); addr != "" {
		return addr
	}
	return DefaultKafkaAddr
}

// RedisClient returns a client for redisAddr, skipping the test if Redis does
// not answer a PING. The client is closed when the test ends.
func RedisClient(t testing.TB, redisAddr string) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping test: Redis not available at %s - %v", redisAddr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// SkipIfRedisUnavailable skips the test if Redis is unavailable on the specified address
func SkipIfRedisUnavailable(t testing.TB, redisAddr string) {
	t.Helper()
	RedisClient(t, redisAddr)
}

// SkipIfKafkaUnavailable skips the test if Kafka is unavailable on the specified address
func SkipIfKafkaUnavailable(t testing.TB, kafkaAddr string) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", kafkaAddr, 2*time.Second)
	if err != nil {
		t.Skipf("Skipping test: Kafka not available at %s - %v", kafkaAddr, err)
		return
	}
	_ = conn.Close()

	// the port may belong to something else, make sure a broker answers
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{kafkaAddr},
		Topic:       KafkaTestTopic,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	defer reader.Close()

	_, err = reader.FetchMessage(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && err.Error() != "EOF" {
		t.Skipf("Skipping test: Kafka at %s is not responding correctly - %v", kafkaAddr, err)
	}
}

// SkipIfDependenciesUnavailable skips the test if either Redis or Kafka is unavailable
func SkipIfDependenciesUnavailable(t testing.TB, redisAddr, kafkaAddr string) {
	t.Helper()
	SkipIfRedisUnavailable(t, redisAddr)
	SkipIfKafkaUnavailable(t, kafkaAddr)
}
