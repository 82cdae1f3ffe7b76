package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory MessageStore for tests.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	inserted  []ChatMessage
	deleted   []int64
	recent    map[string][]ChatMessage
	insertErr error
	deleteErr error
	recentErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recent: make(map[string][]ChatMessage)}
}

func (s *fakeStore) InsertMessage(_ context.Context, m *ChatMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	stored := *m
	stored.ID = s.nextID
	s.inserted = append(s.inserted, stored)
	return s.nextID, nil
}

func (s *fakeStore) SoftDeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) RecentMessages(_ context.Context, sessionDate string, _ int) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.recent[sessionDate], nil
}

func (s *fakeStore) insertedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func (s *fakeStore) deletedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.deleted...)
}

type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// recvEvent reads the next outbound event from a client's send queue.
func recvEvent(t *testing.T, c *Client) rawEvent {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("client send channel closed while waiting for event")
		}
		var ev rawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return rawEvent{}
}

func expectEvent(t *testing.T, c *Client, wantType string) rawEvent {
	t.Helper()
	ev := recvEvent(t, c)
	if ev.Type != wantType {
		t.Fatalf("got event type %q, want %q", ev.Type, wantType)
	}
	return ev
}

func expectNoEvent(t *testing.T, c *Client, within time.Duration) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("client send channel closed unexpectedly")
		}
		var ev rawEvent
		_ = json.Unmarshal(data, &ev)
		t.Fatalf("expected no event, got %q", ev.Type)
	case <-time.After(within):
	}
}

func newTestRoom(store MessageStore, graceWindow time.Duration) *Room {
	opts := Options{
		Location:      time.UTC,
		GraceWindow:   graceWindow,
		SweepInterval: time.Hour,
		WindowSize:    100,
	}
	cleanup := make(chan roomCleanupMsg, 4)
	r := newRoom("2026-09-01", opts, store, cleanup, nil)
	go r.Run()
	return r
}

func newTestClient(userID int64, name string) *Client {
	return NewClient(nil, nil, Profile{UserID: userID, Name: name})
}

// joinRoom attaches a client and consumes its attach snapshot events.
func joinRoom(t *testing.T, r *Room, c *Client) {
	t.Helper()
	if !r.RegisterClient(c) {
		t.Fatal("RegisterClient returned false")
	}
	expectEvent(t, c, TypeInitialMessages)
	expectEvent(t, c, TypeUserJoined)
}

func TestRoomAttachSendsSnapshot(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c := newTestClient(1, "ana")
	if !r.RegisterClient(c) {
		t.Fatal("RegisterClient returned false")
	}

	ev := expectEvent(t, c, TypeInitialMessages)
	var initial InitialMessagesPayload
	if err := json.Unmarshal(ev.Payload, &initial); err != nil {
		t.Fatalf("failed to unmarshal initial-messages: %v", err)
	}
	if len(initial.Messages) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(initial.Messages))
	}

	ev = expectEvent(t, c, TypeUserJoined)
	var presence PresencePayload
	if err := json.Unmarshal(ev.Payload, &presence); err != nil {
		t.Fatalf("failed to unmarshal presence payload: %v", err)
	}
	if presence.OnlineCount != 1 || len(presence.OnlineUsers) != 1 {
		t.Fatalf("expected one online user, got count=%d users=%d",
			presence.OnlineCount, len(presence.OnlineUsers))
	}
	if presence.OnlineUsers[0].UserID != 1 {
		t.Fatalf("unexpected online user id %d", presence.OnlineUsers[0].UserID)
	}
}

func TestRoomBroadcastsMessageOncePerConnection(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)

	// c1 sees c2 arrive.
	expectEvent(t, c1, TypeUserJoined)

	if !r.EnqueueSend(c1, "good evening") {
		t.Fatal("EnqueueSend returned false")
	}

	for _, c := range []*Client{c1, c2} {
		ev := expectEvent(t, c, TypeNewMessage)
		var payload NewMessagePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("failed to unmarshal new-message: %v", err)
		}
		if payload.Message.Text != "good evening" || payload.Message.UserID != 1 {
			t.Fatalf("unexpected message payload: %+v", payload.Message)
		}
	}

	// Exactly one delivery per connection, never a second copy.
	expectNoEvent(t, c1, 150*time.Millisecond)
	expectNoEvent(t, c2, 150*time.Millisecond)
}

func TestRoomRejectsEmptyMessageSilently(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c := newTestClient(1, "ana")
	joinRoom(t, r, c)

	if !r.EnqueueSend(c, "   \n\t  ") {
		t.Fatal("EnqueueSend returned false")
	}

	expectNoEvent(t, c, 150*time.Millisecond)
	if store.insertedCount() != 0 {
		t.Fatalf("whitespace-only message reached the store")
	}
}

func TestRoomRejectsOversizedMessage(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c := newTestClient(1, "ana")
	joinRoom(t, r, c)

	if !r.EnqueueSend(c, strings.Repeat("x", MaxTextBytes+1)) {
		t.Fatal("EnqueueSend returned false")
	}

	ev := expectEvent(t, c, TypeError)
	var payload ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	if payload.Code != 2202 {
		t.Fatalf("got error code %d, want 2202", payload.Code)
	}
	if store.insertedCount() != 0 {
		t.Fatalf("oversized message reached the store")
	}
}

func TestRoomStoreFailureKeepsWindowConsistent(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("database gone")
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)
	expectEvent(t, c1, TypeUserJoined)

	if !r.EnqueueSend(c1, "will not persist") {
		t.Fatal("EnqueueSend returned false")
	}

	// Only the sender hears about the failure; nothing is broadcast.
	expectEvent(t, c1, TypeError)
	expectNoEvent(t, c2, 150*time.Millisecond)
	if r.log.len() != 0 {
		t.Fatalf("failed insert leaked into the live window")
	}
}

func TestRoomDeleteByAuthorBroadcasts(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)
	expectEvent(t, c1, TypeUserJoined)

	r.EnqueueSend(c1, "delete me")
	ev := expectEvent(t, c1, TypeNewMessage)
	expectEvent(t, c2, TypeNewMessage)

	var sent NewMessagePayload
	if err := json.Unmarshal(ev.Payload, &sent); err != nil {
		t.Fatalf("failed to unmarshal new-message: %v", err)
	}

	if !r.EnqueueDelete(c1, sent.Message.ID) {
		t.Fatal("EnqueueDelete returned false")
	}

	for _, c := range []*Client{c1, c2} {
		ev := expectEvent(t, c, TypeMessageDeleted)
		var payload MessageDeletedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("failed to unmarshal message-deleted: %v", err)
		}
		if payload.MessageID != sent.Message.ID {
			t.Fatalf("got deleted id %d, want %d", payload.MessageID, sent.Message.ID)
		}
	}

	ids := store.deletedIDs()
	if len(ids) != 1 || ids[0] != sent.Message.ID {
		t.Fatalf("store soft-delete not recorded, got %v", ids)
	}
}

func TestRoomDeleteForbiddenForNonAuthor(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)
	expectEvent(t, c1, TypeUserJoined)

	r.EnqueueSend(c1, "hands off")
	ev := expectEvent(t, c1, TypeNewMessage)
	expectEvent(t, c2, TypeNewMessage)

	var sent NewMessagePayload
	if err := json.Unmarshal(ev.Payload, &sent); err != nil {
		t.Fatalf("failed to unmarshal new-message: %v", err)
	}

	r.EnqueueDelete(c2, sent.Message.ID)

	// Rejection goes to the caller only.
	errEv := expectEvent(t, c2, TypeError)
	var payload ErrorPayload
	if err := json.Unmarshal(errEv.Payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	if payload.Code != 2204 {
		t.Fatalf("got error code %d, want 2204", payload.Code)
	}
	expectNoEvent(t, c1, 150*time.Millisecond)
	if len(store.deletedIDs()) != 0 {
		t.Fatal("forbidden delete reached the store")
	}
}

func TestRoomModeratorCanDeleteOthersMessage(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	mod := NewClient(nil, nil, Profile{UserID: 9, Name: "mo", Moderator: true})
	joinRoom(t, r, c1)
	joinRoom(t, r, mod)
	expectEvent(t, c1, TypeUserJoined)

	r.EnqueueSend(c1, "spam")
	ev := expectEvent(t, c1, TypeNewMessage)
	expectEvent(t, mod, TypeNewMessage)

	var sent NewMessagePayload
	if err := json.Unmarshal(ev.Payload, &sent); err != nil {
		t.Fatalf("failed to unmarshal new-message: %v", err)
	}

	r.EnqueueDelete(mod, sent.Message.ID)
	expectEvent(t, c1, TypeMessageDeleted)
	expectEvent(t, mod, TypeMessageDeleted)
}

func TestRoomDeleteUnknownMessage(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c := newTestClient(1, "ana")
	joinRoom(t, r, c)

	r.EnqueueDelete(c, 424242)
	ev := expectEvent(t, c, TypeError)
	var payload ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	if payload.Code != 2203 {
		t.Fatalf("got error code %d, want 2203", payload.Code)
	}
}

func TestRoomRejoinSkipsDeliveredHistory(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)
	defer r.Stop()

	c := newTestClient(1, "ana")
	joinRoom(t, r, c)

	r.EnqueueSend(c, "first")
	expectEvent(t, c, TypeNewMessage)
	r.EnqueueSend(c, "second")
	expectEvent(t, c, TypeNewMessage)

	// A redelivered join on the same connection must not replay the two
	// messages the connection already received.
	if !r.RegisterClient(c) {
		t.Fatal("RegisterClient returned false on rejoin")
	}
	ev := expectEvent(t, c, TypeInitialMessages)
	var initial InitialMessagesPayload
	if err := json.Unmarshal(ev.Payload, &initial); err != nil {
		t.Fatalf("failed to unmarshal initial-messages: %v", err)
	}
	if len(initial.Messages) != 0 {
		t.Fatalf("rejoin replayed %d already-delivered messages", len(initial.Messages))
	}
	expectEvent(t, c, TypeUserJoined)
}

func TestRoomTransportDropKeepsPresenceInGrace(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, 80*time.Millisecond)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)
	expectEvent(t, c1, TypeUserJoined)

	r.DetachClient(c1, false, true)

	// No user-left while the grace window holds.
	expectNoEvent(t, c2, 40*time.Millisecond)
	if got := r.OnlineCount(); got != 2 {
		t.Fatalf("online count dropped to %d inside the grace window", got)
	}

	// After the window the timer fires and c2 hears the departure.
	ev := expectEvent(t, c2, TypeUserLeft)
	var presence PresencePayload
	if err := json.Unmarshal(ev.Payload, &presence); err != nil {
		t.Fatalf("failed to unmarshal presence payload: %v", err)
	}
	if presence.OnlineCount != 1 {
		t.Fatalf("got online count %d after expiry, want 1", presence.OnlineCount)
	}
}

func TestRoomExplicitLeaveRemovesPresenceImmediately(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Hour)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)
	expectEvent(t, c1, TypeUserJoined)

	r.DetachClient(c1, true, true)

	ev := expectEvent(t, c2, TypeUserLeft)
	var presence PresencePayload
	if err := json.Unmarshal(ev.Payload, &presence); err != nil {
		t.Fatalf("failed to unmarshal presence payload: %v", err)
	}
	if presence.OnlineCount != 1 {
		t.Fatalf("got online count %d after explicit leave, want 1", presence.OnlineCount)
	}
}

func TestRoomReconnectWithinGraceCausesNoChurn(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Hour)
	defer r.Stop()

	c1 := newTestClient(1, "ana")
	c2 := newTestClient(2, "ben")
	joinRoom(t, r, c1)
	joinRoom(t, r, c2)
	expectEvent(t, c1, TypeUserJoined)

	// Transport drop followed by a fresh connection for the same user.
	r.DetachClient(c1, false, true)
	c1b := newTestClient(1, "ana")
	joinRoom(t, r, c1b)

	// The watcher never sees a user-left or user-joined for user 1.
	expectNoEvent(t, c2, 150*time.Millisecond)
	if got := r.OnlineCount(); got != 2 {
		t.Fatalf("got online count %d after reconnect, want 2", got)
	}
}

func TestRoomWarmStartServesHistory(t *testing.T) {
	store := newFakeStore()
	warm := []ChatMessage{
		{ID: 11, UserID: 1, SessionDate: "2026-09-01", Text: "earlier", SenderName: "ana"},
		{ID: 12, UserID: 2, SessionDate: "2026-09-01", Text: "later", SenderName: "ben"},
	}
	opts := Options{Location: time.UTC, GraceWindow: time.Minute, SweepInterval: time.Hour, WindowSize: 100}
	r := newRoom("2026-09-01", opts, store, make(chan roomCleanupMsg, 4), warm)
	go r.Run()
	defer r.Stop()

	c := newTestClient(3, "coe")
	if !r.RegisterClient(c) {
		t.Fatal("RegisterClient returned false")
	}

	ev := expectEvent(t, c, TypeInitialMessages)
	var initial InitialMessagesPayload
	if err := json.Unmarshal(ev.Payload, &initial); err != nil {
		t.Fatalf("failed to unmarshal initial-messages: %v", err)
	}
	if len(initial.Messages) != 2 || initial.Messages[0].ID != 11 || initial.Messages[1].ID != 12 {
		t.Fatalf("unexpected warm history: %+v", initial.Messages)
	}
}

func TestRoomStopReleasesQueuedRegistrations(t *testing.T) {
	store := newFakeStore()
	opts := Options{
		Location:      time.UTC,
		GraceWindow:   time.Minute,
		SweepInterval: time.Hour,
		WindowSize:    100,
	}
	r := newRoom("2026-09-01", opts, store, make(chan roomCleanupMsg, 4), nil)

	// Queue an attach before the loop runs, then stop. The exit path must
	// release the queued client even though it never reached the registry.
	c := newTestClient(1, "ana")
	if !r.RegisterClient(c) {
		t.Fatal("RegisterClient returned false")
	}
	r.Stop()
	r.Run()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("queued client's send queue was never released")
		}
	}
}

func TestRoomStoppedRoomRefusesWork(t *testing.T) {
	store := newFakeStore()
	r := newTestRoom(store, time.Minute)

	c := newTestClient(1, "ana")
	joinRoom(t, r, c)

	r.Stop()
	time.Sleep(50 * time.Millisecond)

	if r.RegisterClient(newTestClient(2, "ben")) {
		t.Fatal("stopped room accepted a register")
	}
	if r.EnqueueSend(c, "too late") {
		t.Fatal("stopped room accepted a send")
	}
	if r.OnlineCount() != 0 {
		t.Fatalf("stopped room still reports %d online", r.OnlineCount())
	}
}
