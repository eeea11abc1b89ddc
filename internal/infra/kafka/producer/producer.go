package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/photoprep/internal/config"
	"github.com/aliskhannn/photoprep/internal/model"
)

// Producer publishes pipeline events to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Key returns the partition key of e: all events of one file in one run share it,
// which keeps them ordered.
func Key(e model.Event) []byte {
	return []byte(e.RunID.String() + "/" + e.Filename)
}

// Publish serializes the Event to JSON and sends it to Kafka using the producer.
func (p *Producer) Publish(ctx context.Context, e model.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, Key(e), data); err != nil {
		return fmt.Errorf("failed to send event to %s: %w", p.Topic(), err)
	}

	return nil
}

// Topic returns the topic events are published to.
func (p *Producer) Topic() string {
	return p.cfg.Topic
}

// Close releases the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.Client.Close()
}
