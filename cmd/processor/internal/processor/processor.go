package processor

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/metrics"
	"github.com/shubham-shewale/simfeed/pkg/models"
)

// Processor audits the feed: it checks every record against its symbol's
// sequence state and keeps the latest trade and quote per symbol in Redis.
type Processor struct {
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	spread     models.Fixed
	ttl        time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	ttl := cfg.Redis.SnapshotTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	n := cfg.Processor.NumWorkers
	if n < 1 {
		n = 1
	}
	return &Processor{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: n,
		spread:     models.NewFixed(cfg.Feed.Spread),
		ttl:        ttl,
	}
}

// Run consumes until ctx is done or the reader is exhausted, then drains the
// workers.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	p.logger.Info("Auditor Started", zap.Int("workers", p.numWorkers))
	p.consume(ctx, workerChans)

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()
	return nil
}

func (p *Processor) consume(ctx context.Context, workerChans []chan []byte) {
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return
			}
			p.logger.Error("Kafka Read Error", zap.Error(err))
			continue
		}

		// Same key, same worker: per-symbol order survives the fan-out
		workerID := getWorkerID(m.Key, p.numWorkers)

		// Blocks until the worker has room
		select {
		case workerChans[workerID] <- m.Value:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background() // Background context prevents cancellation mid-Redis write

	tracker := NewSeqTracker(p.spread)

	for payload := range msgs {
		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		res, err := p.audit(tracker, env.Channel, payload)
		if err != nil {
			p.logger.Error("Record rejected", zap.Error(err), zap.String("channel", env.Channel))
			continue
		}
		metrics.RecordsConsumed.WithLabelValues(env.Channel).Inc()
		for _, a := range res.Anomalies {
			metrics.SequenceAnomalies.WithLabelValues(string(a)).Inc()
			p.logger.Warn("Sequence anomaly",
				zap.String("kind", string(a)),
				zap.String("symbol", env.Symbol),
				zap.String("channel", env.Channel),
				zap.Uint64("seq", env.Seq),
				zap.Uint64("last_trade", tracker.LastTrade(env.Symbol)),
			)
		}
		if !res.Accept {
			continue
		}

		pipe := p.rdb.Pipeline()
		pipe.Set(ctx, models.SnapshotKey(env.Symbol, env.Channel), payload, p.ttl)
		pipe.Publish(ctx, models.UpdateChannel(env.Symbol), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", env.Symbol))
		} else {
			p.logger.Debug("Processed", zap.String("symbol", env.Symbol), zap.Int("worker_id", id), zap.Uint64("seq", env.Seq))
		}
	}
}

var errUnknownChannel = errors.New("unknown channel")

func (p *Processor) audit(tracker *SeqTracker, channel string, payload []byte) (Result, error) {
	switch channel {
	case models.ChannelTrades:
		var tr models.Trade
		if err := json.Unmarshal(payload, &tr); err != nil {
			return Result{}, err
		}
		return tracker.ObserveTrade(tr), nil
	case models.ChannelQuotes:
		var q models.Quote
		if err := json.Unmarshal(payload, &q); err != nil {
			return Result{}, err
		}
		return tracker.ObserveQuote(q), nil
	default:
		return Result{}, errUnknownChannel
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
