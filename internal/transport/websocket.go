package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// NewWebsocket returns a transport that connects to "ws://host:port/path" addresses,
// carrying MQTT in binary WebSocket messages.
func NewWebsocket(dialTimeout time.Duration) *Stream {
	return NewStream(dialWebsocket, dialTimeout)
}

func dialWebsocket(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	d := websocket.Dialer{
		Subprotocols:     []string{"mqtt"}, // [MQTT-6.0.0-3]
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := d.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if conn.Subprotocol() != "mqtt" {
		conn.Close()
		return nil, errors.New("server did not accept websocket sub protocol 'mqtt'")
	}

	return &wsConn{Conn: conn}, nil
}

type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Write(p []byte) (int, error) {
	err := c.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			var err error
			var mt int
			if mt, c.r, err = c.NextReader(); err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage { // [MQTT-6.0.0-1]
				return 0, errors.New("not binary message")
			}
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			} else {
				continue
			}
		}
		return n, err
	}
}
