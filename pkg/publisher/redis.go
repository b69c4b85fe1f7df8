package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

type StreamClient interface {
	Pipeline() redis.Pipeliner
	Close() error
}

// RedisStreamPublisher appends each record to a stream named after the topic.
// Entries carry the partition key so consumers can shard the same way Kafka does.
type RedisStreamPublisher struct {
	client StreamClient
	maxLen int64 // 0 keeps the stream untrimmed

	// CloseTimeout bounds the final flush in Close.
	CloseTimeout time.Duration

	mu   sync.Mutex
	pipe redis.Pipeliner
}

var _ Publisher = (*RedisStreamPublisher)(nil)

func NewRedisStreamPublisher(client StreamClient, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, maxLen: maxLen, CloseTimeout: DefaultCloseTimeout}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, topic string, key []byte, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipe == nil {
		p.pipe = p.client.Pipeline()
	}
	p.pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]interface{}{"key": string(key), "payload": string(payload)},
	})
	return nil
}

func (p *RedisStreamPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	pipe := p.pipe
	p.pipe = nil
	p.mu.Unlock()

	if pipe == nil {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (p *RedisStreamPublisher) Close() error {
	ctx, cancel := closeContext(p.CloseTimeout)
	defer cancel()
	_ = p.Flush(ctx)
	return p.client.Close()
}
