package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// EventHandler receives decoded screener events
type EventHandler func(ctx context.Context, event models.ScreenerEvent) error

// messageReader is the subset of kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Config() kafka.ReaderConfig
}

// Consumer reads screener events published by any instance
type Consumer struct {
	reader  messageReader
	handler EventHandler
}

// NewConsumer creates a Kafka consumer for screener events
func NewConsumer(brokers []string, topic, groupID string, handler EventHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
	}
}

// Start consumes messages until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().Str("topic", c.reader.Config().Topic).Msg("starting kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("kafka consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				log.Warn().Err(err).Msg("error reading message")
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				log.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).
					Msg("error processing message")
			}
		}
	}
}

// processMessage decodes a single message and hands it to the handler
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.ScreenerEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal screener event: %w", err)
	}

	switch event.EventType {
	case models.EventRunCompleted:
		if event.Report == nil {
			return fmt.Errorf("run event %s carries no report", event.RunID)
		}
	case models.EventCandidatesUpdated:
	default:
		log.Debug().Str("event_type", event.EventType).Msg("ignoring event type")
		return nil
	}

	log.Debug().Str("event_type", event.EventType).Str("run_id", event.RunID).Str("key", string(msg.Key)).
		Msg("received screener event")
	return c.handler(ctx, event)
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
