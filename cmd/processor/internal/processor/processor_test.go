package processor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/cmd/processor/internal/processor"
	"github.com/shubham-shewale/simfeed/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/simfeed/pkg/config"
)

func newCfg(workers int) *config.Config {
	cfg := &config.Config{}
	cfg.Processor.NumWorkers = workers
	cfg.Feed.Spread = 1
	return cfg
}

func TestProcessor_WorkerLogic(t *testing.T) {
	msgs := []kafka.Message{
		testutils.TradeMessage("SYM0", 1, 7, 10000),
		testutils.TradeMessage("SYM0", 1, 7, 10000), // duplicate, dropped
		testutils.QuoteMessage("SYM0", 1, 7, 10000, 0.5),
		testutils.TradeMessage("SYM0", 2, 7, 10001),
		testutils.TradeMessage("SYM1", 1, 7, 10002),
	}

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	proc := processor.NewProcessor(newCfg(2), zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := proc.Run(ctx); err != nil {
		t.Logf("Processor stopped: %v", err)
	}

	pipeline := mockRedis.PipelineSpy
	pipeline.Mu.Lock()
	defer pipeline.Mu.Unlock()

	if pipeline.ExecCount != 4 {
		t.Errorf("Expected 4 pipeline executions, got %d", pipeline.ExecCount)
	}

	want := map[string]bool{
		"SET feed:SYM0:trades": false,
		"SET feed:SYM0:quotes": false,
		"SET feed:SYM1:trades": false,
		"PUBLISH feed.SYM0":    false,
		"PUBLISH feed.SYM1":    false,
	}
	for _, cmd := range pipeline.RecordedCmds {
		if _, ok := want[cmd]; ok {
			want[cmd] = true
		}
	}
	for cmd, seen := range want {
		if !seen {
			t.Errorf("Missing Redis command %q", cmd)
		}
	}

	if !strings.Contains(pipeline.Values["feed:SYM0:trades"], `"seq":2`) {
		t.Errorf("Latest SYM0 trade snapshot should be seq 2, got %s", pipeline.Values["feed:SYM0:trades"])
	}
}

func TestProcessor_InvalidJSON(t *testing.T) {
	msgs := []kafka.Message{
		{Key: []byte("sim|SYM0"), Value: []byte("{broken-json")},
		{Key: []byte("sim|SYM0"), Value: []byte(`{"channel":"orders","symbol":"SYM0"}`)},
	}

	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	proc := processor.NewProcessor(newCfg(1), zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	proc.Run(ctx)

	if mockRedis.PipelineSpy.ExecCount > 0 {
		t.Error("Should not execute Redis commands for invalid records")
	}
}

func TestProcessor_StopsOnClosedReader(t *testing.T) {
	mockReader := &testutils.MockKafkaReader{Closed: true}
	proc := processor.NewProcessor(newCfg(3), zap.NewNop(), testutils.NewMockRedisClient(), mockReader)

	done := make(chan struct{})
	go func() {
		proc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return once the reader reports EOF")
	}
}
