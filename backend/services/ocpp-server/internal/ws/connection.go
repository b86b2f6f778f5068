package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Errors returned by Connection.Send.
var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSendBufferFull   = errors.New("ws: send buffer full")
)

const (
	sendBufferSize = 16
	maxMessageSize = 1024 * 1024
)

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, stationID string, raw []byte) ([]byte, error)
}

// Connection represents active station WebSocket connection. Frames are read and processed
// one at a time; a single writer goroutine owns socket writes.
type Connection struct {
	stationID    string
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	connectedAt  time.Time
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration
	readTimeout  time.Duration
	onClose      func(*Connection)
}

// NewConnection builds connection wrapper.
func NewConnection(stationID string, ws *websocket.Conn, processor MessageProcessor, writeTimeout, readTimeout time.Duration, logger *zap.Logger, onClose func(*Connection)) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}
	if readTimeout < 0 {
		readTimeout = 0
	}
	return &Connection{
		stationID:    stationID,
		ws:           ws,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		connectedAt:  time.Now().UTC(),
		logger:       logger,
		processor:    processor,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
		onClose:      onClose,
	}
}

// StationID returns identifier.
func (c *Connection) StationID() string {
	return c.stationID
}

// ConnectedAt returns the time the upgrade completed.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Subprotocol returns the negotiated websocket subprotocol.
func (c *Connection) Subprotocol() string {
	return c.ws.Subprotocol()
}

// Start launches the write pump and runs the read pump until the connection ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// extendReadDeadline pushes the read deadline out by readTimeout. A zero readTimeout leaves
// reads without a deadline.
func (c *Connection) extendReadDeadline() error {
	if c.readTimeout == 0 {
		return nil
	}
	return c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		return c.extendReadDeadline()
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed", zap.String("station_id", c.stationID), zap.Error(err))
			return
		}
		_ = c.extendReadDeadline()

		response, err := c.processor.Process(ctx, c.stationID, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.String("station_id", c.stationID), zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.Send(response); err != nil {
				c.logger.Warn("failed to queue reply", zap.String("station_id", c.stationID), zap.Error(err))
			}
		}
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Info("connection write failed", zap.String("station_id", c.stationID), zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// Send enqueues a frame for writing. It never blocks.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("dropping outgoing message, buffer full", zap.String("station_id", c.stationID))
		return ErrSendBufferFull
	}
}

// Ping sends a ping control frame. It is safe to call concurrently with the write pump.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// Close stops the pumps and closes the socket. It is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// give the write pump a moment to send the close frame
		time.AfterFunc(100*time.Millisecond, func() { _ = c.ws.Close() })
	})
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
}
