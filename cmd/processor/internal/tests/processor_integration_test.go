package tests

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/cmd/processor/internal/processor"
	"github.com/shubham-shewale/simfeed/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/simfeed/pkg/config"
)

func TestProcessor_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	trade := testutils.TradeMessage("SYM2", 100, 9, 10004.25)
	quote := testutils.QuoteMessage("SYM2", 100, 9, 10004.25, 0.5)

	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: []kafka.Message{trade, quote}}

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 1
	cfg.Feed.Spread = 1
	cfg.Redis.SnapshotTTL = time.Minute

	proc := processor.NewProcessor(cfg, zap.NewNop(), rdb, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	// Poll until the key appears (since processor is async)
	success := false
	for i := 0; i < 10; i++ {
		if mr.Exists("feed:SYM2:quotes") {
			success = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !success {
		t.Fatal("Processor did not write feed:SYM2:quotes to Redis")
	}

	savedTrade, _ := mr.Get("feed:SYM2:trades")
	if savedTrade != string(trade.Value) {
		t.Errorf("Redis value mismatch.\nGot:  %s\nWant: %s", savedTrade, string(trade.Value))
	}
	if ttl := mr.TTL("feed:SYM2:trades"); ttl != time.Minute {
		t.Errorf("Expected snapshot TTL of 1m, got %v", ttl)
	}

	cancel()
	<-done
}
