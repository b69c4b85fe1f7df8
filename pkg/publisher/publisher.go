// Package publisher hands feed records to a message transport. A record is
// serialized on Publish and only guaranteed to be with the transport after
// Flush returns.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/pkg/config"
)

var ErrUnknownTransport = errors.New("unknown transport")

// DefaultCloseTimeout bounds the flush a transport runs when it is closed.
const DefaultCloseTimeout = 5 * time.Second

func closeContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultCloseTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, record any) error
	Flush(ctx context.Context) error
	Close() error
}

// New builds the transport selected by cfg.Feed.Transport wrapped in a Guard.
// An unreachable Redis is reported here; Kafka reachability is checked by the
// topic bootstrap.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Guard, error) {
	var next Publisher

	switch cfg.Feed.Transport {
	case config.TransportKafka:
		kp := NewKafkaPublisher(NewKafkaWriter(cfg.Kafka), logger)
		if cfg.Feed.PublishTimeout > 0 {
			kp.CloseTimeout = cfg.Feed.PublishTimeout
		}
		next = kp
	case config.TransportRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		rp := NewRedisStreamPublisher(rdb, 0)
		if cfg.Feed.PublishTimeout > 0 {
			rp.CloseTimeout = cfg.Feed.PublishTimeout
		}
		next = rp
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Feed.Transport)
	}

	logger.Info("Publisher ready", zap.String("transport", cfg.Feed.Transport))
	return NewGuard(next, cfg.Feed.PublishTimeout, logger), nil
}
