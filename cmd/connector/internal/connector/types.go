package connector

import (
	"bufio"
	"context"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/shubham-shewale/simfeed/pkg/publisher"
)

type Publisher = publisher.Publisher

// Conn is a client websocket that exchanges text frames.
type Conn interface {
	ReadText() ([]byte, error)
	WriteText(b []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials venues with gobwas/ws.
type WSDialer struct {
	Dialer ws.Dialer
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, br, _, err := d.Dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return newWSConn(conn, br), nil
}

type wsConn struct {
	conn net.Conn
	rw   io.ReadWriter
}

// br holds bytes the server sent right after the handshake, if any.
func newWSConn(conn net.Conn, br *bufio.Reader) *wsConn {
	c := &wsConn{conn: conn, rw: conn}
	if br != nil {
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	return c
}

// ReadText skips binary frames; control frames are answered by wsutil.
func (c *wsConn) ReadText() ([]byte, error) {
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return nil, err
		}
		if op == ws.OpText {
			return data, nil
		}
	}
}

func (c *wsConn) WriteText(b []byte) error {
	return wsutil.WriteClientText(c.conn, b)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
