package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/drawdown-screener/internal/models"
)

// messageWriter is the subset of kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles publishing screener events to Kafka
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
		now:    time.Now,
	}
}

// PublishRunCompleted publishes the final report of a run
func (p *Producer) PublishRunCompleted(ctx context.Context, report *models.RunReport) error {
	event := models.ScreenerEvent{
		EventType: models.EventRunCompleted,
		RunID:     report.ID,
		RunDate:   models.DateKey(report.RunDate),
		Report:    report,
		Timestamp: p.now().UTC(),
	}
	return p.publish(ctx, report.ID, event)
}

// PublishCandidatesUpdated publishes the new Top-N list for a run date
func (p *Producer) PublishCandidatesUpdated(ctx context.Context, runID string, runDate time.Time, candidates []models.RankedCandidate) error {
	event := models.ScreenerEvent{
		EventType:  models.EventCandidatesUpdated,
		RunID:      runID,
		RunDate:    models.DateKey(runDate),
		Candidates: candidates,
		Timestamp:  p.now().UTC(),
	}
	return p.publish(ctx, event.RunDate, event)
}

func (p *Producer) publish(ctx context.Context, key string, event models.ScreenerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
