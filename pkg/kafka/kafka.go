// Package kafka builds the sarama clients the API and render worker share.
// Both binaries start alongside the broker in compose, so construction
// blocks until the broker answers a metadata request.
package kafka

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

const (
	readyAttempts = 12
	readyInterval = 5 * time.Second
	dialTimeout   = 2 * time.Second
)

// splitBrokers accepts a single address or a comma-separated list.
func splitBrokers(broker string) []string {
	parts := strings.Split(broker, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func awaitBroker(brokers []string) error {
	probe := sarama.NewConfig()
	probe.Net.DialTimeout = dialTimeout

	var lastErr error
	for attempt := 1; attempt <= readyAttempts; attempt++ {
		client, err := sarama.NewClient(brokers, probe)
		if err == nil {
			client.Close()
			return nil
		}
		lastErr = err
		slog.Info("Kafka not ready yet, retrying", "attempt", attempt, "brokers", brokers)
		time.Sleep(readyInterval)
	}
	return fmt.Errorf("kafka unreachable after %d attempts: %w", readyAttempts, lastErr)
}

// NewProducer returns a synchronous producer for render-job dispatch. The
// gate refunds the consumed credit when a send fails, so sends must report
// success only after the broker acknowledges the write.
func NewProducer(broker string, retryMax int, retryBackoff time.Duration) (sarama.SyncProducer, error) {
	brokers := splitBrokers(broker)
	if err := awaitBroker(brokers); err != nil {
		return nil, err
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "reelforge-api"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = retryMax
	cfg.Producer.Retry.Backoff = retryBackoff

	return sarama.NewSyncProducer(brokers, cfg)
}

// NewConsumer returns the render worker's consumer group. Offsets start at
// the oldest message so jobs queued while the worker was down still render.
func NewConsumer(broker, group string) (sarama.ConsumerGroup, error) {
	brokers := splitBrokers(broker)
	if err := awaitBroker(brokers); err != nil {
		return nil, err
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "reelforge-worker"
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	return sarama.NewConsumerGroup(brokers, group, cfg)
}
