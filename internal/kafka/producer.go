package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-railway/internal/logger"
)

// Publisher is what the transaction managers publish reservation events through.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	log    *logger.Logger
}

// NewProducer writes to any topic; the topic is chosen per message. Messages with
// the same key (the PNR) land on the same partition and stay ordered.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer, log: log}
}

func newProducerWithWriter(w messageWriter, log *logger.Logger) *Producer {
	return &Producer{writer: w, log: log}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		p.log.Error("KAFKA", fmt.Sprintf("Failed to publish to %s for %s: %v", topic, key, err))
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.log.LogKafka("PUBLISHED", topic, key)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in for Kafka when it is disabled and only logs the event.
type LogPublisher struct {
	Log *logger.Logger
}

func (p LogPublisher) Publish(_ context.Context, topic, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.Log.Debug("KAFKA", fmt.Sprintf("[DISABLED] %s %s %s", topic, key, string(msgBytes)))
	return nil
}
