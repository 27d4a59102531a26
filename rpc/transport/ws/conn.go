package ws

import (
	"github.com/gorilla/websocket"
	"io"
	"net"
	"sync"
	"time"
)

// wsConn adapts a websocket connection to the byte stream the driver expects.
// Every Write is sent as one text frame, reads span frame boundaries so the
// stream looks like the concatenation of all received frames.
type wsConn struct {
	conn    *websocket.Conn
	reader  io.Reader // current frame, nil between frames
	writeMu sync.Mutex
}

func newConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				// Check if this is a normal close
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// end of this frame, continue with the next one
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame with a short deadline and closes the connection
// regardless of whether the frame was sent
func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	return c.conn.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// setReadLimit bounds the size of a single inbound frame
func (c *wsConn) setReadLimit(limit int) {
	if limit > 0 {
		c.conn.SetReadLimit(int64(limit))
	}
}
