// Package events публикует доменные события в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

const (
	TypeModelRetrained   = "model.retrained"
	TypePredictionsScore = "predictions.scored"
)

type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New возвращает Kafka-публикатор, либо Nop если брокеры не заданы
func New(cfg config.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		slog.Info("Kafka brokers not configured, domain events disabled")
		return Nop{}
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	slog.Info("Kafka publisher configured", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewKafkaPublisher(w)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Nop отбрасывает события
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// PublishAsync отправляет событие в фоне; ошибка только логируется
func PublishAsync(p Publisher, e Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Publish(ctx, e); err != nil {
			slog.Warn("Failed to publish event", "type", e.Type, "error", err)
		}
	}()
}
