package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/simfeed/cmd/connector/internal/connector"
	"github.com/shubham-shewale/simfeed/pkg/config"
	"github.com/shubham-shewale/simfeed/pkg/metrics"
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

	if cfg.Feed.Transport == config.TransportKafka {
		if err := pingBrokers(ctx, cfg.Kafka.Brokers); err != nil {
			logger.Fatal("Broker unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
	}

	pub, err := publisher.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}

	conn, err := connector.NewConnector(logger, pub,
		connector.WSDialer{Dialer: ws.Dialer{Timeout: 10 * time.Second}},
		connector.OptionsFromConfig(cfg))
	if err != nil {
		logger.Fatal("Failed to create connector", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.Run(gctx)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Addr, logger)
	})

	runErr := g.Wait()
	if err := pub.Close(); err != nil {
		logger.Error("Error closing publisher", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("Connector failed", zap.Error(runErr))
	}
	logger.Info("Connector stopped")
}

// pingBrokers returns nil once any broker accepts a connection.
func pingBrokers(ctx context.Context, brokers []string) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	var lastErr error
	for _, b := range brokers {
		c, err := dialer.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		c.Close()
		return nil
	}
	return lastErr
}
