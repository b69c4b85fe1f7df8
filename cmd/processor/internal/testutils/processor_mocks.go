package testutils

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/simfeed/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// DeadlineExceeded ends the consume loop the same way a stopped test would
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

type MockPipeline struct {
	redis.Pipeliner // Embed interface to satisfy missing methods like ACLCat, etc.

	ExecCount    int
	RecordedCmds []string
	Values       map[string]string
	Mu           *sync.Mutex
}

func (m *MockPipeline) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RecordedCmds = append(m.RecordedCmds, "SET "+key)
	if b, ok := value.([]byte); ok {
		m.Values[key] = string(b)
	}
	return redis.NewStatusCmd(ctx)
}

func (m *MockPipeline) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RecordedCmds = append(m.RecordedCmds, "PUBLISH "+channel)
	return redis.NewIntCmd(ctx)
}

func (m *MockPipeline) Exec(ctx context.Context) ([]redis.Cmder, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.ExecCount++
	return nil, nil
}

// MockRedisClient hands out one shared pipeline spy so every worker records
// into the same place.
type MockRedisClient struct {
	PipelineSpy *MockPipeline
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{PipelineSpy: &MockPipeline{Values: map[string]string{}, Mu: &sync.Mutex{}}}
}

func (m *MockRedisClient) Pipeline() redis.Pipeliner {
	return m.PipelineSpy
}

func (m *MockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusCmd(ctx)
}

func (m *MockRedisClient) Close() error { return nil }

// TradeMessage encodes a trade the way the generator publishes it.
func TradeMessage(symbol string, seq, src uint64, px float64) kafka.Message {
	tr := models.Trade{
		Venue: "sim", Symbol: symbol, Channel: models.ChannelTrades, Seq: seq,
		Px: models.NewFixed(px), Qty: models.NewFixed(0.5), Aggressor: models.SideBuy,
		TradeID: models.TradeID(symbol, seq), SrcConnID: src,
	}
	val, _ := json.Marshal(tr)
	return kafka.Message{Topic: "trades", Key: models.PartitionKey("sim", symbol), Value: val}
}

// QuoteMessage encodes a quote around px with the given half spread.
func QuoteMessage(symbol string, seq, src uint64, px, half float64) kafka.Message {
	q := models.Quote{
		Venue: "sim", Symbol: symbol, Channel: models.ChannelQuotes, Seq: seq,
		BidPx: models.NewFixed(px - half), BidQty: models.NewFixed(1),
		AskPx: models.NewFixed(px + half), AskQty: models.NewFixed(1),
		SrcConnID: src,
	}
	val, _ := json.Marshal(q)
	return kafka.Message{Topic: "quotes", Key: models.PartitionKey("sim", symbol), Value: val}
}
