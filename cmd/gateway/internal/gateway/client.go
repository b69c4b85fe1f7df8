package gateway

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/simfeed/cmd/gateway/internal/protocol"
)

const (
	maxFrameSize = 512 * 1024
	sendBuffer   = 256
)

// Client owns one websocket connection. The read loop feeds commands to the
// hub; the write loop is the only writer on conn.
type Client struct {
	conn   net.Conn
	hub    *hub.Hub
	logger *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	wmu sync.Mutex // serialises frames written to conn

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger) *Client {
	return &Client{
		conn:       conn,
		hub:        h,
		logger:     logger.With(zap.String("remote", conn.RemoteAddr().String())),
		send:       make(chan []byte, sendBuffer),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *Client) ID() string { return c.conn.RemoteAddr().String() }

// Close stops the write loop, which closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Encode response", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

// SendBytes drops the message when the client is not keeping up.
func (c *Client) SendBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.logger.Debug("Slow client, message dropped")
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}
		if header.Length > maxFrameSize {
			c.logger.Warn("Frame too large", zap.Int64("size", header.Length))
			return
		}
		if !header.Fin {
			c.logger.Warn("Fragmented frames are not supported")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		case ws.OpPing:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			if err := c.write(ws.OpPong, payload); err != nil {
				return
			}
		case ws.OpText:
			c.handleText(payload)
		}
	}
}

func (c *Client) handleText(payload []byte) {
	var req protocol.WSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, Status: "error", Message: "Invalid JSON"})
		return
	}
	for i, s := range req.Payload.Symbols {
		req.Payload.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	c.hub.HandleCommand(c, req)
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.write(ws.OpClose, nil)
				return
			}
			if err := c.write(ws.OpText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(op ws.OpCode, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return wsutil.WriteServerMessage(c.conn, op, b)
}
