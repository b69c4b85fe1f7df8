package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/pkg/config"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer that routes by key hash so every record of a
// symbol lands on one partition. The topic is set per message.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Zstd,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
}

type KafkaPublisher struct {
	writer KafkaWriter
	logger *zap.Logger

	// CloseTimeout bounds the final flush in Close.
	CloseTimeout time.Duration

	mu      sync.Mutex
	pending []kafka.Message
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(writer KafkaWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger, CloseTimeout: DefaultCloseTimeout}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key []byte, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", topic, err)
	}

	p.mu.Lock()
	p.pending = append(p.pending, kafka.Message{Topic: topic, Key: key, Value: payload})
	p.mu.Unlock()
	return nil
}

// Flush writes everything buffered since the last flush and waits for acks.
// The buffer is dropped on failure; retrying is the caller's decision.
func (p *KafkaPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	msgs := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %d messages: %w", len(msgs), err)
	}
	p.logger.Debug("Flushed", zap.Int("messages", len(msgs)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	ctx, cancel := closeContext(p.CloseTimeout)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		p.logger.Warn("Dropping unflushed records on close", zap.Error(err))
	}
	return p.writer.Close()
}
