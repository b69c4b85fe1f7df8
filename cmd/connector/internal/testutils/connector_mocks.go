package testutils

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/segmentio/encoding/json"

	"github.com/shubham-shewale/simfeed/cmd/connector/internal/connector"
	"github.com/shubham-shewale/simfeed/pkg/models"
)

var ErrDial = errors.New("dial refused")

// MockConn replays Frames then reports EOF, or blocks until closed when
// Hold is set.
type MockConn struct {
	Frames  [][]byte
	Hold    bool
	Written [][]byte

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func NewMockConn(frames ...string) *MockConn {
	c := &MockConn{closed: make(chan struct{})}
	for _, f := range frames {
		c.Frames = append(c.Frames, []byte(f))
	}
	return c
}

func (c *MockConn) ReadText() ([]byte, error) {
	c.mu.Lock()
	if len(c.Frames) > 0 {
		f := c.Frames[0]
		c.Frames = c.Frames[1:]
		c.mu.Unlock()
		return f, nil
	}
	hold := c.Hold
	c.mu.Unlock()

	if hold {
		<-c.closed
	}
	return nil, io.EOF
}

func (c *MockConn) WriteText(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Written = append(c.Written, append([]byte(nil), b...))
	return nil
}

func (c *MockConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// MockDialer hands out Conns in order; once they run out every dial fails.
type MockDialer struct {
	Conns []*MockConn
	Dials int
	URLs  []string
	mu    sync.Mutex
}

func (d *MockDialer) Dial(_ context.Context, url string) (connector.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials++
	d.URLs = append(d.URLs, url)
	if len(d.Conns) == 0 {
		return nil, ErrDial
	}
	c := d.Conns[0]
	d.Conns = d.Conns[1:]
	return c, nil
}

func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Dials
}

// MockPublisher decodes every published record back into a Trade.
type MockPublisher struct {
	Trades     []models.Trade
	Keys       []string
	Topics     []string
	FlushCount int
	FailFlush  bool
	mu         sync.Mutex
}

func (m *MockPublisher) Publish(_ context.Context, topic string, key []byte, record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	var t models.Trade
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trades = append(m.Trades, t)
	m.Keys = append(m.Keys, string(key))
	m.Topics = append(m.Topics, topic)
	return nil
}

func (m *MockPublisher) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushCount++
	if m.FailFlush {
		return errors.New("flush failed")
	}
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) Snapshot() []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Trade(nil), m.Trades...)
}
