/*
Package session contains the live-session presence and chat subsystem.

Each calendar day has one session room, keyed by the civil date in a fixed
timezone. A room owns its chat history window, its connection registry, and its
presence state, and processes every mutation on a single goroutine so that
messages and presence transitions have a total order within a date. Rooms for
different dates are fully independent.
*/
package session

import (
	"context"
	"time"
)

// Tagged event types exchanged over the WebSocket transport.
const (
	// Client → server.
	TypeJoinSession   = "join-session"
	TypeLeaveSession  = "leave-session"
	TypeChatMessage   = "chat-message"
	TypeDeleteMessage = "delete-message"

	// Server → client.
	TypeInitialMessages = "initial-messages"
	TypeNewMessage      = "new-message"
	TypeMessageDeleted  = "message-deleted"
	TypeUserJoined      = "user-joined"
	TypeUserLeft        = "user-left"
	TypeError           = "error"
)

// Event is the outbound wire envelope.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Profile is the display identity attached to every connection before it
// reaches this subsystem. The identity provider guarantees UserID is stable.
type Profile struct {
	UserID    int64  `json:"userId"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Moderator bool   `json:"-"`
}

// ChatMessage is a single chat entry. The id is assigned by the persistence
// collaborator and is monotonically increasing per store. Sender name and
// avatar are denormalized at broadcast time. Immutable once created except for
// the soft-delete flag.
type ChatMessage struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	SessionDate  string    `json:"sessionDate"`
	Text         string    `json:"text"`
	SenderName   string    `json:"senderName"`
	SenderAvatar string    `json:"senderAvatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OnlineUserView is the wire representation of one online user. Exactly one
// entry exists per distinct user regardless of how many devices are attached.
type OnlineUserView struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// InitialMessagesPayload carries the deduplicated history snapshot sent once per attach.
type InitialMessagesPayload struct {
	Messages []ChatMessage `json:"messages"`
}

// NewMessagePayload carries a freshly persisted message.
type NewMessagePayload struct {
	Message ChatMessage `json:"message"`
}

// MessageDeletedPayload announces a moderated or author-deleted message.
type MessageDeletedPayload struct {
	MessageID int64 `json:"messageId"`
}

// PresencePayload carries the online count together with the user list it was
// derived from. Both always come from the same record set.
type PresencePayload struct {
	OnlineCount int              `json:"onlineCount"`
	OnlineUsers []OnlineUserView `json:"onlineUsers"`
}

// ErrorPayload reports a rejected operation to the offending connection only.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JoinSessionPayload is the inbound attach request. LastMessageID lets a
// reconnecting client skip history it already holds.
type JoinSessionPayload struct {
	UserID        int64  `json:"userId"`
	SessionDate   string `json:"sessionDate"`
	LastMessageID int64  `json:"lastMessageId,omitempty"`
}

// ChatMessagePayload is the inbound send request, scoped to the connection's
// currently joined session.
type ChatMessagePayload struct {
	Text string `json:"text"`
}

// DeleteMessagePayload is the inbound delete request.
type DeleteMessagePayload struct {
	MessageID int64 `json:"messageId"`
}

// MessageStore is the durable persistence collaborator. The in-memory window
// and the store must stay consistent: a message is appended to a room only
// after the store assigned its id.
type MessageStore interface {
	// InsertMessage persists m and returns the assigned monotonically increasing id.
	InsertMessage(ctx context.Context, m *ChatMessage) (int64, error)

	// SoftDeleteMessage marks the message deleted without physical removal.
	SoftDeleteMessage(ctx context.Context, id int64) error

	// RecentMessages returns up to limit non-deleted messages for the session
	// date, ordered by ascending id.
	RecentMessages(ctx context.Context, sessionDate string, limit int) ([]ChatMessage, error)
}

// Options are the operational tunables of the subsystem. The grace window and
// the message window size are configuration, not hard constants.
type Options struct {
	// Location is the fixed civil timezone that keys session dates.
	Location *time.Location

	// GraceWindow is how long a user stays counted online after their last
	// connection drops, absorbing reconnect churn.
	GraceWindow time.Duration

	// SweepInterval is how often each room force-expires presence records
	// whose grace deadline passed but whose timer never fired.
	SweepInterval time.Duration

	// WindowSize is the maximum number of messages kept in a room's live window.
	WindowSize int
}

// withDefaults fills unset options with the documented defaults.
func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.WindowSize <= 0 {
		o.WindowSize = 1000
	}
	return o
}
