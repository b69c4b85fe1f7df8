package hub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/repository"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub fans feed updates out to websocket clients. Upstream pubsub channels
// are ref-counted: a symbol is subscribed while at least one client wants it.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[ClientInterface]struct{}
	clientSubs  map[ClientInterface]map[string]struct{}
	refCount    map[string]int

	universe map[string]struct{}
	store    repository.FeedStore
	logger   *zap.Logger
}

func NewHub(ctx context.Context, store repository.FeedStore, logger *zap.Logger, symbols []string) *Hub {
	universe := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		universe[s] = struct{}{}
	}

	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]struct{}),
		clientSubs:  make(map[ClientInterface]map[string]struct{}),
		refCount:    make(map[string]int),
		universe:    universe,
		store:       store,
		logger:      logger,
	}

	go h.store.RunPubSub(ctx, h.Broadcast)
	return h
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.subscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.unsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.unsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) subscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clientSubs[client]
	var added []string
	seen := make(map[string]struct{}, len(req.Payload.Symbols))
	for _, s := range req.Payload.Symbols {
		if _, ok := h.universe[s]; !ok {
			continue
		}
		if _, dup := subs[s]; dup {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		added = append(added, s)
	}

	if len(added) == 0 {
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	if subs == nil {
		subs = make(map[string]struct{})
		h.clientSubs[client] = subs
	}
	for _, sym := range added {
		subs[sym] = struct{}{}
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]struct{})
		}
		h.subscribers[sym][client] = struct{}{}

		h.refCount[sym]++
		if h.refCount[sym] == 1 {
			if err := h.store.SubscribeToFeed(context.Background(), sym); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}

	client.SendJSON(protocol.WSResponse{
		Type: protocol.TypeAck, ID: req.ID, Status: "success",
		Message: fmt.Sprintf("Subscribed to %v", added), Symbols: added,
	})

	// Latest trade/quote per symbol, outside the lock
	go func(targets []string) {
		snapshots, err := h.store.Snapshots(context.Background(), targets)
		if err != nil {
			h.logger.Warn("Snapshot lookup failed", zap.Strings("symbols", targets), zap.Error(err))
			return
		}
		for _, snap := range snapshots {
			client.SendBytes([]byte(snap))
		}
	}(added)
}

func (h *Hub) unsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, sym := range req.Payload.Symbols {
			if _, ok := subs[sym]; ok {
				delete(subs, sym)
				h.detach(client, sym)
				removed = append(removed, sym)
			}
		}
	}

	if len(removed) == 0 {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
		return
	}
	client.SendJSON(protocol.WSResponse{
		Type: protocol.TypeAck, ID: req.ID, Status: "success",
		Message: fmt.Sprintf("Unsubscribed from %v", removed), Symbols: removed,
	})
}

func (h *Hub) unsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sym := range h.clientSubs[client] {
		h.detach(client, sym)
	}
	// keep the client registered with an empty set
	h.clientSubs[client] = make(map[string]struct{})

	client.SendJSON(protocol.WSResponse{
		Type: protocol.TypeAck, ID: req.ID, Status: "success", Message: "Unsubscribed from all symbols",
	})
}

// Unregister drops every subscription of a disconnected client.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sym := range h.clientSubs[client] {
		h.detach(client, sym)
	}
	delete(h.clientSubs, client)
	client.Close()
}

// Broadcast forwards one feed record to every client watching symbol.
func (h *Hub) Broadcast(symbol string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := []byte(payload)
	for client := range h.subscribers[symbol] {
		client.SendBytes(msg)
	}
}

// detach must be called with mu held.
func (h *Hub) detach(client ClientInterface, symbol string) {
	delete(h.subscribers[symbol], client)

	h.refCount[symbol]--
	if h.refCount[symbol] > 0 {
		return
	}
	if err := h.store.UnsubscribeFromFeed(context.Background(), symbol); err != nil {
		h.logger.Error("Failed to unsubscribe upstream", zap.String("symbol", symbol), zap.Error(err))
	}
	delete(h.refCount, symbol)
	delete(h.subscribers, symbol)
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Status: "error", Message: msg})
}
