package repository

import (
	"context"
)

// FeedStore is the gateway's view of the auditor's output.
type FeedStore interface {
	// Snapshots returns the latest trade and quote records of each symbol that has any.
	Snapshots(ctx context.Context, symbols []string) ([]string, error)
	SubscribeToFeed(ctx context.Context, symbol string) error
	UnsubscribeFromFeed(ctx context.Context, symbol string) error
	RunPubSub(ctx context.Context, onMessage func(symbol string, payload string))
	Close() error
}
