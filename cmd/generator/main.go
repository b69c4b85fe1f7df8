package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/simfeed/cmd/generator/internal/generator"
	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/metrics"
	"github.com/shubham-shewale/simfeed/pkg/models"
	"github.com/shubham-shewale/simfeed/pkg/publisher"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure topics exist; an unreachable broker is a startup error
	if cfg.Feed.Transport == config.TransportKafka {
		dialer := &generator.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}
		tc := generator.NewTopicCreator(logger, dialer, generator.RealClock{}, cfg.Kafka.Partitions)
		if err := tc.Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, cfg.Kafka.QuotesTopic); err != nil {
			logger.Fatal("Broker unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
	}

	pub, err := publisher.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}

	srcConnID := cfg.Feed.SrcConnID
	if srcConnID == 0 {
		srcConnID = models.NewSrcConnID()
	}

	gen, err := generator.NewFeedGenerator(
		logger,
		pub,
		generator.OptionsFromConfig(cfg, srcConnID),
		generator.NewRealRand(time.Now().UnixNano()),
		generator.RealClock{},
	)
	if err != nil {
		logger.Fatal("Failed to create generator", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gen.Run(gctx)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Addr, logger)
	})

	runErr := g.Wait()
	logger.Info("Generator stopped", zap.Any("sequences", gen.Sequences()))

	// Flush whatever the transport still buffers
	if err := pub.Close(); err != nil {
		logger.Error("Error closing publisher", zap.Error(err))
	} else {
		logger.Info("Publisher closed cleanly")
	}

	if runErr != nil {
		logger.Fatal("Generator failed", zap.Error(runErr))
	}
}
