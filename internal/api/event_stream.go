package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-messaging-bridge/internal/codec"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

var (
	errClientClosed = errors.New("event stream closed")
	errClientSlow   = errors.New("event stream client too slow, event dropped")
)

// Binder accepts the event stream's consumer. The most recent Bind wins.
type Binder interface {
	Bind(sink bridge.Sink)
	Unbind(sink bridge.Sink)
}

// EventStream upgrades GET /api/v1/events to a websocket and binds it as the
// bridge's event sink.
type EventStream struct {
	binder   Binder
	codec    codec.Codec
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventStream serves defaultCodec frames unless the client negotiates
// the "cbor" or "json" subprotocol. An empty allowedOrigins accepts any origin.
func NewEventStream(binder Binder, defaultCodec codec.Codec, allowedOrigins []string, logger *slog.Logger) *EventStream {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &EventStream{
		binder: binder,
		codec:  defaultCodec,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{codec.CBOR.Name(), codec.JSON.Name()},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		logger: logger.With("component", "EventStream"),
	}
}

func (s *EventStream) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := s.codec
	if negotiated, err := codec.ByName(conn.Subprotocol()); err == nil && conn.Subprotocol() != "" {
		c = negotiated
	}

	client := newClient(conn, c)
	s.binder.Bind(client)
	s.logger.Info("Event consumer connected", "remote", r.RemoteAddr, "codec", c.Name())

	defer func() {
		client.close()
		s.binder.Unbind(client)
		s.logger.Info("Event consumer disconnected", "remote", r.RemoteAddr)
	}()

	// Inbound frames are ignored; reading drives close detection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// client is one websocket consumer. It satisfies bridge.Sink.
type client struct {
	conn  *websocket.Conn
	codec codec.Codec

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, c codec.Codec) *client {
	cl := &client{
		conn:  conn,
		codec: c,
		send:  make(chan []byte, sendBuffer),
	}
	go cl.writePump()
	return cl
}

// Send encodes e and queues it without blocking the emitter.
func (c *client) Send(e bridge.Event) error {
	frame, err := c.codec.EncodeEvent(e)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errClientSlow
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	messageType := websocket.TextMessage
	if c.codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(messageType, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
