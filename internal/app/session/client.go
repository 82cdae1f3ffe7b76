package session

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/errs"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/logx"
)

const (
	// writeWait is the timeout for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// pongWait is the maximum time the server waits for a Pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod is the frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum allowed size (in bytes) of an inbound frame.
	maxMessageSize = 8192

	// sendQueueSize is the outbound buffer per connection. A connection whose
	// queue overflows is dropped, never retried.
	sendQueueSize = 256
)

// errSendQueueFull reports a failed non-blocking delivery to a connection.
var errSendQueueFull = errors.New("client send queue full")

// Client represents one active WebSocket connection and its associated user.
// A connection attaches to at most one room at a time, selected by the
// session date in its join-session event.
type Client struct {
	manager *Manager
	conn    *websocket.Conn
	profile Profile

	// connID is opaque and unique per transport instance.
	connID string

	// room is the currently joined room. Touched only by the readPump goroutine.
	room *Room

	// explicit records that the user sent leave-session, so the transport
	// close that follows must not be treated as a flaky disconnect.
	explicit bool

	// delivered is the highest message id this connection has received, either
	// in an initial snapshot or a broadcast. It makes attach idempotent under
	// redelivery: a rejoin never reintroduces an id the connection already saw.
	delivered atomic.Int64

	send       chan []byte
	sendMu     sync.Mutex
	sendClosed bool

	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection. The profile comes
// from the identity token validated during the handshake.
func NewClient(manager *Manager, conn *websocket.Conn, profile Profile) *Client {
	connID := uuid.NewString()

	clientLogger := logx.Logger().With().
		Int64("user_id", profile.UserID).
		Str("connection_id", connID).
		Logger()

	return &Client{
		manager: manager,
		conn:    conn,
		profile: profile,
		connID:  connID,
		send:    make(chan []byte, sendQueueSize),
		logger:  clientLogger,
	}
}

// ReadPump reads inbound events from the WebSocket connection. It handles
// heartbeats (Pong), event dispatch, and cleanup on connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		c.processInboundEvent(messageBytes)
	}
}

// cleanupOnDisconnect runs when the ReadPump terminates. A transport-level
// error is handled exactly like a leave, except presence keeps its grace
// window unless the leave was explicit.
func (c *Client) cleanupOnDisconnect() {
	if c.room != nil {
		c.room.DetachClient(c, c.explicit, true)
		c.room = nil
	} else {
		c.closeSend()
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error during cleanup")
	}
}

// processInboundEvent dispatches one raw inbound frame. Malformed events are
// dropped and logged; they never crash the room worker or disconnect the sender.
func (c *Client) processInboundEvent(messageBytes []byte) {
	var inbound struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	if err := json.Unmarshal(messageBytes, &inbound); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		return
	}

	switch inbound.Type {
	case TypeJoinSession:
		c.handleJoin(inbound.Payload)

	case TypeLeaveSession:
		c.handleLeave()

	case TypeChatMessage:
		c.handleChatMessage(inbound.Payload)

	case TypeDeleteMessage:
		c.handleDeleteMessage(inbound.Payload)

	default:
		c.logger.Warn().Str("event_type", inbound.Type).Msg("Client sent unsupported event type")
	}
}

func (c *Client) handleJoin(payloadBytes json.RawMessage) {
	var payload JoinSessionPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid join-session payload")
		return
	}

	if !IsValidDateKey(payload.SessionDate) {
		c.sendError(errs.NewError(errs.ErrSessionDateInvalid))
		return
	}

	// Identity comes from the validated token, never the payload.
	if payload.UserID != 0 && payload.UserID != c.profile.UserID {
		c.logger.Warn().Int64("claimed_user_id", payload.UserID).Msg("join-session user id does not match token identity")
		return
	}

	if payload.LastMessageID > c.delivered.Load() {
		c.delivered.Store(payload.LastMessageID)
	}

	room := c.manager.RoomFor(payload.SessionDate)

	if c.room != nil && c.room != room {
		// Same transport moving to another date: leave the old room without
		// releasing the outbound queue.
		c.room.DetachClient(c, true, false)
		c.room = nil
	}

	if !room.RegisterClient(c) {
		c.sendError(errs.NewError(errs.ErrSessionStale))
		return
	}
	c.room = room
}

func (c *Client) handleLeave() {
	if c.room == nil {
		return
	}

	c.explicit = true
	c.room.DetachClient(c, true, true)
	c.room = nil
}

func (c *Client) handleChatMessage(payloadBytes json.RawMessage) {
	var payload ChatMessagePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid chat-message payload")
		return
	}

	if c.room == nil {
		c.sendError(errs.NewError(errs.ErrSessionNotJoined))
		return
	}

	if !c.room.EnqueueSend(c, payload.Text) {
		c.sendError(errs.NewError(errs.ErrSessionStale))
	}
}

func (c *Client) handleDeleteMessage(payloadBytes json.RawMessage) {
	var payload DeleteMessagePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid delete-message payload")
		return
	}

	if c.room == nil {
		c.sendError(errs.NewError(errs.ErrSessionNotJoined))
		return
	}

	if !c.room.EnqueueDelete(c, payload.MessageID) {
		c.sendError(errs.NewError(errs.ErrSessionStale))
	}
}

// WritePump writes queued events to the WebSocket connection and keeps the
// heartbeat alive. It terminates when the send queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close message")
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}

// trySend queues data for delivery without blocking. Returns false when the
// queue is full or already closed; the caller decides whether to drop the
// connection.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend releases the outbound queue, terminating the WritePump. Safe to
// call more than once and from any goroutine.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// sendEvent marshals and queues one outbound event for this connection.
func (c *Client) sendEvent(eventType string, payload any) error {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		c.logger.Error().Err(err).Str("event", eventType).Msg("Error marshaling event")
		return err
	}

	if !c.trySend(data) {
		c.logger.Warn().Str("event", eventType).Msg("Client send queue full or closed, dropping event")
		return errSendQueueFull
	}

	return nil
}

// sendError reports a rejected operation to this connection only.
func (c *Client) sendError(customErr *errs.CustomError) {
	c.sendEvent(TypeError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}
