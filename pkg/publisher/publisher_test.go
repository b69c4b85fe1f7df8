package publisher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/models"
	"github.com/shubham-shewale/simfeed/pkg/publisher"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
	closed  bool
	stall   bool // block until ctx is done, like a broker that stopped acking
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, msgs)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

// stubPublisher fails or blocks on Flush as configured.
type stubPublisher struct {
	flushErr   error
	block      bool
	flushCalls int
}

func (s *stubPublisher) Publish(ctx context.Context, topic string, key []byte, record any) error {
	return nil
}

func (s *stubPublisher) Flush(ctx context.Context) error {
	s.flushCalls++
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.flushErr
}

func (s *stubPublisher) Close() error { return nil }

func sampleTrade() models.Trade {
	return models.Trade{
		Venue: "sim", Symbol: "SYM1", Channel: models.ChannelTrades, Seq: 9,
		Px: models.NewFixed(10001.5), Qty: models.NewFixed(0.123456789),
		Aggressor: models.SideSell, TradeID: "SYM1-9", SrcConnID: 1,
	}
}

func TestKafkaPublisher_BuffersUntilFlush(t *testing.T) {
	w := &fakeWriter{}
	p := publisher.NewKafkaPublisher(w, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "trades", []byte("sim|SYM1"), sampleTrade()))
	require.NoError(t, p.Publish(ctx, "quotes", []byte("sim|SYM1"), models.Quote{Symbol: "SYM1"}))
	assert.Empty(t, w.batches, "nothing should reach the writer before Flush")

	require.NoError(t, p.Flush(ctx))
	require.Len(t, w.batches, 1)
	batch := w.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "trades", batch[0].Topic)
	assert.Equal(t, "quotes", batch[1].Topic)
	assert.Equal(t, "sim|SYM1", string(batch[0].Key))
	assert.Contains(t, string(batch[0].Value), `"px":10001.5`)
	assert.Contains(t, string(batch[0].Value), `"qty":0.123456789`)

	require.NoError(t, p.Flush(ctx))
	assert.Len(t, w.batches, 1, "empty flush must not write")
}

func TestKafkaPublisher_FlushErrorDropsBuffer(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := publisher.NewKafkaPublisher(w, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "trades", []byte("k"), sampleTrade()))
	require.Error(t, p.Flush(ctx))

	w.err = nil
	require.NoError(t, p.Flush(ctx))
	assert.Empty(t, w.batches)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_CloseBoundsFinalFlush(t *testing.T) {
	w := &fakeWriter{stall: true}
	p := publisher.NewKafkaPublisher(w, zap.NewNop())
	p.CloseTimeout = 50 * time.Millisecond
	require.NoError(t, p.Publish(context.Background(), "trades", []byte("sim|SYM1"), sampleTrade()))

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a stalled writer")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
}

func TestKafkaPublisher_EncodeError(t *testing.T) {
	p := publisher.NewKafkaPublisher(&fakeWriter{}, zap.NewNop())
	err := p.Publish(context.Background(), "trades", nil, make(chan int))
	assert.Error(t, err)
}

func TestRedisStreamPublisher_XAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := publisher.NewRedisStreamPublisher(rdb, 0)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "trades", []byte("sim|SYM1"), sampleTrade()))
	require.NoError(t, p.Publish(ctx, "trades", []byte("sim|SYM1"), sampleTrade()))

	n, err := rdb.XLen(ctx, "trades").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "pipeline must not execute before Flush")

	require.NoError(t, p.Flush(ctx))

	entries, err := rdb.XRange(ctx, "trades", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sim|SYM1", entries[0].Values["key"])
	assert.Contains(t, entries[0].Values["payload"], `"trade_id":"SYM1-9"`)

	require.NoError(t, p.Close())
}

func TestGuard_TimeoutBoundsFlush(t *testing.T) {
	stub := &stubPublisher{block: true}
	g := publisher.NewGuard(stub, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := g.Flush(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuard_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubPublisher{flushErr: errors.New("broker down")}
	g := publisher.NewGuard(stub, time.Second, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.Error(t, g.Flush(ctx))
	}
	assert.Equal(t, "open", g.State())

	err := g.Flush(ctx)
	assert.ErrorIs(t, err, publisher.ErrUnavailable)
	assert.Equal(t, 5, stub.flushCalls, "open breaker must not reach the transport")

	err = g.Publish(ctx, "trades", nil, sampleTrade())
	assert.ErrorIs(t, err, publisher.ErrUnavailable)
}

func TestNew_UnreachableRedisIsFatal(t *testing.T) {
	cfg := &config.Config{}
	cfg.Feed.Transport = config.TransportRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := publisher.New(ctx, cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNew_UnknownTransport(t *testing.T) {
	cfg := &config.Config{}
	cfg.Feed.Transport = "carrier-pigeon"
	_, err := publisher.New(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, publisher.ErrUnknownTransport)
}
