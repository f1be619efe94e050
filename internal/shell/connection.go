package shell

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/geoglobe/globe/internal/dispatcher"
	"github.com/geoglobe/globe/pkg/streaming"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// connection is one shell session with a single write goroutine.
type connection struct {
	id     string
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{} // closed on shutdown

	closeOnce sync.Once
	logger    *slog.Logger
}

func newConnection(id string, conn *ws.Conn, sendBuffer int, logger *slog.Logger) *connection {
	return &connection{
		id:     id,
		conn:   conn,
		sendCh: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("session", id),
	}
}

// writeLoop drains sendCh and writes messages to the WebSocket.
// It returns on error or shutdown.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.close()
				return
			}
		}
	}
}

// readLoop decodes intent envelopes and hands them to the dispatcher until the peer
// goes away. Results and errors go back to this session only.
func (c *connection) readLoop(d *dispatcher.Dispatcher) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					c.logger.Warn("WebSocket read error", "error", err)
				}
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.logger.Debug("Malformed envelope received", "raw", string(message))
			c.sendEnvelope(streaming.TypeError, streaming.ErrorPayload{Message: "malformed envelope"})
			continue
		}

		result, err := d.Dispatch(dispatcher.Event{
			Type:      env.Type,
			Session:   c.id,
			Payload:   env.Payload,
			Timestamp: time.Now(),
		})
		if err != nil {
			c.sendEnvelope(streaming.TypeError, streaming.ErrorPayload{For: env.Type, Message: err.Error()})
			continue
		}
		if result != nil && result != "queued" {
			c.sendEnvelope(streaming.TypeView, result)
		}
	}
}

func (c *connection) sendEnvelope(msgType string, payload any) {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		c.logger.Error("failed to marshal envelope", "type", msgType, "error", err)
		return
	}
	c.send(data)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) {
	select {
	case <-c.done:
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// close sends a close frame and stops the write loop. Safe to call more than once.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
	})
}
