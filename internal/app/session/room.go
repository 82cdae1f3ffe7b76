package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/errs"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/logx"
)

const (
	// MaxTextBytes is the maximum allowed size for chat message text.
	MaxTextBytes = 2000

	// persistTimeout bounds each call into the persistence collaborator so a
	// slow database cannot wedge the room loop indefinitely.
	persistTimeout = 5 * time.Second

	registerChannelBuffer = 64
	detachChannelBuffer   = 64
	sendChannelBuffer     = 256
	deleteChannelBuffer   = 64
	expiryChannelBuffer   = 256
)

type sendRequest struct {
	client *Client
	text   string
}

type deleteRequest struct {
	client    *Client
	messageID int64
}

type detachRequest struct {
	client *Client

	// explicit marks a leave-session, which removes presence immediately
	// instead of arming the grace timer.
	explicit bool

	// closeSend releases the client's outbound queue. Left false when the
	// client is moving to another room on the same connection.
	closeSend bool
}

// roomCleanupMsg asks the manager to drop a finished room from its map.
type roomCleanupMsg struct {
	Date string
}

// Room is the per-session-date aggregate of chat history and presence. Every
// mutation is processed one at a time, in arrival order, by the Run loop, so
// messages and presence transitions have a total order within the date. The
// registry, tracker, and log are owned by that loop and never touched from
// other goroutines.
type Room struct {
	// Date is the session date key the room serves.
	Date string

	opts  Options
	store MessageStore

	registry *ConnectionRegistry
	presence *PresenceTracker
	log      *messageLog

	register chan *Client
	detach   chan detachRequest
	sends    chan sendRequest
	deletes  chan deleteRequest

	// expiries receives user ids whose grace timer fired. The buffer may drop
	// under extreme churn; the periodic sweep catches anything missed.
	expiries chan int64

	cleanupChan chan<- roomCleanupMsg
	stopChan    chan struct{}

	// online mirrors the tracker's distinct-user count for lock-free reads
	// from the polling endpoint.
	online atomic.Int32

	// now is the room clock, replaceable in tests.
	now func() time.Time

	logger zerolog.Logger
}

// newRoom creates a room for the given date, pre-warmed with the recent
// durable history. The caller starts Run.
func newRoom(date string, opts Options, store MessageStore, cleanupChan chan<- roomCleanupMsg, warm []ChatMessage) *Room {
	roomLogger := logx.Logger().With().
		Str("session_date", date).
		Logger()

	r := &Room{
		Date:        date,
		opts:        opts,
		store:       store,
		registry:    NewConnectionRegistry(),
		log:         newMessageLog(opts.WindowSize),
		register:    make(chan *Client, registerChannelBuffer),
		detach:      make(chan detachRequest, detachChannelBuffer),
		sends:       make(chan sendRequest, sendChannelBuffer),
		deletes:     make(chan deleteRequest, deleteChannelBuffer),
		expiries:    make(chan int64, expiryChannelBuffer),
		cleanupChan: cleanupChan,
		stopChan:    make(chan struct{}),
		now:         time.Now,
		logger:      roomLogger,
	}

	r.presence = NewPresenceTracker(opts.GraceWindow, func(userID int64) {
		select {
		case r.expiries <- userID:
		default:
			// Dropped expiry notifications are recovered by the sweep.
		}
	})

	for _, m := range warm {
		r.log.append(m)
	}

	return r
}

// Stop terminates the Run loop. Safe to call more than once.
func (r *Room) Stop() {
	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
}

// stopped reports whether Stop has been called.
func (r *Room) stopped() bool {
	select {
	case <-r.stopChan:
		return true
	default:
		return false
	}
}

// Run is the room's event loop. It exits on Stop and then releases every
// attached connection and pending grace timer.
func (r *Room) Run() {
	sweepTicker := time.NewTicker(r.opts.SweepInterval)

	defer func() {
		sweepTicker.Stop()
		r.presence.StopTimers()
		r.online.Store(0)

		r.registry.each(func(c *Client) {
			c.closeSend()
		})

		// Clients queued in register but never processed are not in the
		// registry; release them too or their write pumps linger until the
		// next ping write fails.
	drainRegister:
		for {
			select {
			case c := <-r.register:
				c.closeSend()
			default:
				break drainRegister
			}
		}

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logx.Warn("Recovered from panic during manager cleanup notification (channel likely closed).")
				}
			}()

			select {
			case r.cleanupChan <- roomCleanupMsg{Date: r.Date}:
			default:
				r.logger.Warn().Msg("Manager cleanup channel blocked/full. Skipping cleanup notification.")
			}
		}()

		r.logger.Info().Msg("Room loop finished.")
	}()

	for {
		// Stop wins over queued work so a flushed room never processes
		// another mutation for its outgoing date.
		select {
		case <-r.stopChan:
			return
		default:
		}

		select {
		case c := <-r.register:
			r.handleRegister(c)

		case req := <-r.detach:
			r.handleDetach(req)

		case req := <-r.sends:
			r.handleSend(req)

		case req := <-r.deletes:
			r.handleDelete(req)

		case userID := <-r.expiries:
			r.handleExpiry(userID)

		case <-sweepTicker.C:
			r.runSweep()

		case <-r.stopChan:
			return
		}
	}
}

// RegisterClient queues an attach. Returns false when the room has been
// stopped or its register queue is saturated; the client should rejoin against
// the current date key.
func (r *Room) RegisterClient(c *Client) bool {
	select {
	case <-r.stopChan:
		return false
	default:
	}

	select {
	case r.register <- c:
		return true
	case <-r.stopChan:
		return false
	default:
		r.logger.Warn().Msg("Room register channel blocked.")
		return false
	}
}

// DetachClient queues a detach. Idempotent: detaching a connection that was
// never registered, or twice, is a no-op inside the loop.
func (r *Room) DetachClient(c *Client, explicit, closeSend bool) {
	select {
	case r.detach <- detachRequest{client: c, explicit: explicit, closeSend: closeSend}:
	case <-r.stopChan:
		// Stopped rooms release their clients on exit.
	}
}

// EnqueueSend queues a chat-message for the room. Returns false when the room
// is stopped or busy; the failure is reported to the sender only.
func (r *Room) EnqueueSend(c *Client, text string) bool {
	if r.stopped() {
		return false
	}

	select {
	case r.sends <- sendRequest{client: c, text: text}:
		return true
	case <-r.stopChan:
		return false
	default:
		r.logger.Warn().Msg("Room send channel blocked.")
		return false
	}
}

// EnqueueDelete queues a delete-message request.
func (r *Room) EnqueueDelete(c *Client, messageID int64) bool {
	if r.stopped() {
		return false
	}

	select {
	case r.deletes <- deleteRequest{client: c, messageID: messageID}:
		return true
	case <-r.stopChan:
		return false
	default:
		r.logger.Warn().Msg("Room delete channel blocked.")
		return false
	}
}

// OnlineCount returns the number of distinct users currently online. Readable
// from any goroutine; backs the polling fallback endpoint.
func (r *Room) OnlineCount() int {
	return int(r.online.Load())
}

func (r *Room) handleRegister(c *Client) {
	now := r.now()

	if !r.registry.Register(c) {
		// Same connection re-issued a join. Re-send only what it has not seen.
		r.sendSnapshots(c, now)
		return
	}

	joined := r.presence.OnConnect(c.profile, now)
	r.refreshOnline(now)

	r.logger.Info().
		Int64("user_id", c.profile.UserID).
		Str("connection_id", c.connID).
		Int("connections", r.registry.Len()).
		Msg("Connection attached.")

	r.sendSnapshots(c, now)

	if joined {
		r.broadcastPresence(TypeUserJoined, now, c)
	}
}

// sendSnapshots delivers the initial message window (deduplicated against
// whatever the connection already holds) and the current presence snapshot to
// one connection.
func (r *Room) sendSnapshots(c *Client, now time.Time) {
	since := c.delivered.Load()

	msgs := r.log.snapshotAfter(since)
	if err := c.sendEvent(TypeInitialMessages, InitialMessagesPayload{Messages: msgs}); err != nil {
		r.dropConnection(c, now)
		return
	}
	if len(msgs) > 0 && msgs[len(msgs)-1].ID > since {
		c.delivered.Store(msgs[len(msgs)-1].ID)
	}

	c.sendEvent(TypeUserJoined, r.presencePayload(now))
}

func (r *Room) handleDetach(req detachRequest) {
	userID, ok := r.registry.Unregister(req.client.connID)
	if !ok {
		// Unknown or already detached connection: a no-op, not an error.
		return
	}

	if req.closeSend {
		req.client.closeSend()
	}

	now := r.now()

	if req.explicit {
		if r.presence.OnLeave(userID) {
			r.refreshOnline(now)
			r.broadcastPresence(TypeUserLeft, now, nil)
		} else {
			r.refreshOnline(now)
		}
	} else {
		// Transport drop: presence survives inside the grace window, so a
		// quick reconnect produces no user-left/user-joined churn.
		r.presence.OnDisconnect(userID, now)
		r.refreshOnline(now)
	}

	r.logger.Info().
		Int64("user_id", userID).
		Str("connection_id", req.client.connID).
		Bool("explicit", req.explicit).
		Int("connections", r.registry.Len()).
		Msg("Connection detached.")
}

func (r *Room) handleSend(req sendRequest) {
	text := strings.TrimSpace(req.text)
	if text == "" {
		// Whitespace-only sends are rejected silently: no broadcast, no write.
		r.logger.Debug().Int64("user_id", req.client.profile.UserID).Msg("Dropped empty chat message.")
		return
	}
	if len(text) > MaxTextBytes {
		req.client.sendError(errs.NewError(errs.ErrMessageTooLong))
		return
	}

	now := r.now()
	m := ChatMessage{
		UserID:       req.client.profile.UserID,
		SessionDate:  r.Date,
		Text:         text,
		SenderName:   req.client.profile.Name,
		SenderAvatar: req.client.profile.Avatar,
		CreatedAt:    now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	id, err := r.store.InsertMessage(ctx, &m)
	cancel()
	if err != nil {
		// The live window and the store must stay consistent: nothing is
		// appended, and only the sender hears about the failure.
		r.logger.Error().Err(err).Int64("user_id", m.UserID).Msg("Failed to persist chat message.")
		req.client.sendError(errs.NewError(errs.ErrMessagePersistFailed))
		return
	}
	m.ID = id

	r.log.append(m)
	r.broadcastNewMessage(m, now)
}

func (r *Room) handleDelete(req deleteRequest) {
	m, ok := r.log.find(req.messageID)
	if !ok {
		req.client.sendError(errs.NewError(errs.ErrMessageNotFound))
		return
	}

	if m.UserID != req.client.profile.UserID && !req.client.profile.Moderator {
		// Rejected deletes are reported to the caller only, never broadcast.
		req.client.sendError(errs.NewError(errs.ErrDeleteForbidden))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	err := r.store.SoftDeleteMessage(ctx, req.messageID)
	cancel()
	if err != nil {
		r.logger.Error().Err(err).Int64("message_id", req.messageID).Msg("Failed to soft-delete message.")
		req.client.sendError(errs.NewError(errs.ErrUnknown))
		return
	}

	r.log.remove(req.messageID)
	r.broadcastEvent(TypeMessageDeleted, MessageDeletedPayload{MessageID: req.messageID}, r.now())
}

func (r *Room) handleExpiry(userID int64) {
	now := r.now()
	if r.presence.ExpireIfDue(userID, now) {
		r.refreshOnline(now)
		r.broadcastPresence(TypeUserLeft, now, nil)
	}
}

// runSweep force-expires overdue presence records. A crashed iteration logs
// and continues on the next tick rather than terminating the loop.
func (r *Room) runSweep() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("Recovered from panic in presence sweep.")
		}
	}()

	now := r.now()
	removed := r.presence.Sweep(now)
	if len(removed) == 0 {
		return
	}

	r.logger.Warn().
		Int("removed", len(removed)).
		Msg("Sweep force-expired stale presence records.")

	r.refreshOnline(now)
	r.broadcastPresence(TypeUserLeft, now, nil)
}

func (r *Room) refreshOnline(now time.Time) {
	r.online.Store(int32(r.presence.OnlineCount(now)))
}

func (r *Room) presencePayload(now time.Time) PresencePayload {
	users := r.presence.OnlineUsers(now)
	return PresencePayload{
		OnlineCount: len(users),
		OnlineUsers: users,
	}
}

// broadcastPresence fans a presence-changed event out to every attached
// connection except skip (the connection that just received the same payload
// in its attach snapshot).
func (r *Room) broadcastPresence(eventType string, now time.Time, skip *Client) {
	payload := r.presencePayload(now)
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		r.logger.Error().Err(err).Str("event", eventType).Msg("Error marshaling presence event.")
		return
	}

	var slow []*Client
	r.registry.each(func(c *Client) {
		if c == skip {
			return
		}
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	})
	r.dropConnections(slow, now)
}

// broadcastNewMessage delivers m to every attached connection at most once and
// records the delivery watermark per connection so a later attach on the same
// transport never redelivers it.
func (r *Room) broadcastNewMessage(m ChatMessage, now time.Time) {
	data, err := json.Marshal(Event{Type: TypeNewMessage, Payload: NewMessagePayload{Message: m}})
	if err != nil {
		r.logger.Error().Err(err).Int64("message_id", m.ID).Msg("Error marshaling message for broadcast.")
		return
	}

	var slow []*Client
	r.registry.each(func(c *Client) {
		if c.trySend(data) {
			if m.ID > c.delivered.Load() {
				c.delivered.Store(m.ID)
			}
		} else {
			slow = append(slow, c)
		}
	})
	r.dropConnections(slow, now)
}

func (r *Room) broadcastEvent(eventType string, payload any, now time.Time) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		r.logger.Error().Err(err).Str("event", eventType).Msg("Error marshaling event for broadcast.")
		return
	}

	var slow []*Client
	r.registry.each(func(c *Client) {
		if !c.trySend(data) {
			slow = append(slow, c)
		}
	})
	r.dropConnections(slow, now)
}

func (r *Room) dropConnections(clients []*Client, now time.Time) {
	for _, c := range clients {
		r.dropConnection(c, now)
	}
}

// dropConnection evicts a connection whose outbound buffer overflowed or whose
// transport failed mid-broadcast. Treated like a transport close: the user
// keeps their grace window and the server never retries.
func (r *Room) dropConnection(c *Client, now time.Time) {
	userID, ok := r.registry.Unregister(c.connID)
	if !ok {
		return
	}

	r.logger.Warn().
		Int64("user_id", userID).
		Str("connection_id", c.connID).
		Msg("Dropping unresponsive connection.")

	c.closeSend()
	r.presence.OnDisconnect(userID, now)
	r.refreshOnline(now)
}
