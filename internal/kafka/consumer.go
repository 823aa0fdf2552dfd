package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"

	"ms-railway/internal/logger"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader messageReader
	topic  string
	log    *logger.Logger
}

// NewConsumer creates a consumer group reader for topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, topic: topic, log: log}
}

func newConsumerWithReader(r messageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{reader: r, topic: topic, log: log}
}

// Start reads until ctx is cancelled. A message is committed once the handler
// returns, even on error, so one bad payload cannot wedge the partition.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, msg kafka.Message) error) error {
	c.log.LogKafka("CONSUMER_STARTED", c.topic, "waiting for messages")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.log.LogKafka("CONSUMER_STOPPED", c.topic, "context done")
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error reading from %s: %v", c.topic, err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Handler failed for %s offset %d: %v", c.topic, msg.Offset, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("KAFKA", fmt.Sprintf("Commit failed for %s offset %d: %v", c.topic, msg.Offset, err))
		}
	}
}

// JSONHandler decodes each message into T before calling fn.
func JSONHandler[T any](fn func(ctx context.Context, v T) error) func(context.Context, kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var v T
		if err := json.Unmarshal(msg.Value, &v); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		return fn(ctx, v)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
