package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/simfeed/pkg/models"
)

var _ FeedStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub
	mu     sync.Mutex
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		pubsub: client.Subscribe(context.Background()),
	}
}

// Snapshots reads feed:<sym>:trades and feed:<sym>:quotes in one MGET.
func (r *RedisStore) Snapshots(ctx context.Context, symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, 2*len(symbols))
	for _, sym := range symbols {
		keys = append(keys,
			models.SnapshotKey(sym, models.ChannelTrades),
			models.SnapshotKey(sym, models.ChannelQuotes),
		)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, payload)
		}
	}
	return snapshots, nil
}

func (r *RedisStore) SubscribeToFeed(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, models.UpdateChannel(symbol))
}

func (r *RedisStore) UnsubscribeFromFeed(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, models.UpdateChannel(symbol))
}

// RunPubSub blocks, forwarding every update to onMessage until the pubsub is closed.
func (r *RedisStore) RunPubSub(ctx context.Context, onMessage func(symbol string, payload string)) {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			symbol, found := strings.CutPrefix(msg.Channel, models.UpdateChannelPrefix)
			if !found || symbol == "" {
				continue
			}
			onMessage(symbol, msg.Payload)
		}
	}
}

func (r *RedisStore) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
