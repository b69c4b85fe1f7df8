package testutils

import (
	"context"
	"sync"

	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/protocol"
)

// MockClient records everything the hub sends to a websocket client.
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse
	RawBytes []string
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) Last() protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return protocol.WSResponse{}
	}
	return m.Messages[len(m.Messages)-1]
}

func (m *MockClient) Raw() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return append([]string(nil), m.RawBytes...)
}

// MockFeedStore tracks upstream pubsub ref counts in memory.
type MockFeedStore struct {
	Subscribed map[string]int
	Latest     map[string][]string // symbol -> snapshot records
	Mu         sync.Mutex
}

func NewMockFeedStore() *MockFeedStore {
	return &MockFeedStore{
		Subscribed: make(map[string]int),
		Latest:     make(map[string][]string),
	}
}

func (m *MockFeedStore) Snapshots(_ context.Context, symbols []string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []string
	for _, s := range symbols {
		out = append(out, m.Latest[s]...)
	}
	return out, nil
}

func (m *MockFeedStore) SubscribeToFeed(_ context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Subscribed[symbol]++
	return nil
}

func (m *MockFeedStore) UnsubscribeFromFeed(_ context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Subscribed[symbol]--
	if m.Subscribed[symbol] <= 0 {
		delete(m.Subscribed, symbol)
	}
	return nil
}

func (m *MockFeedStore) Count(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Subscribed[symbol]
}

func (m *MockFeedStore) Active() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Subscribed)
}

func (m *MockFeedStore) RunPubSub(ctx context.Context, _ func(symbol string, payload string)) {
	<-ctx.Done()
}

func (m *MockFeedStore) Close() error { return nil }
