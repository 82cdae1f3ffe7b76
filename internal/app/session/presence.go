package session

import (
	"sort"
	"time"
)

// onlineUser is one presence record. A user is online iff activeConnections > 0
// or graceExpiresAt is set and in the future. Multiple connections from the
// same user collapse into a single record; the online count reflects distinct
// users, never raw connections.
type onlineUser struct {
	profile           Profile
	activeConnections int
	graceExpiresAt    time.Time // zero when no grace timer is pending
	graceTimer        *time.Timer
	joinedAt          time.Time
}

func (u *onlineUser) online(now time.Time) bool {
	if u.activeConnections > 0 {
		return true
	}
	return !u.graceExpiresAt.IsZero() && now.Before(u.graceExpiresAt)
}

// PresenceTracker derives the online-user set of one room from connection
// transitions plus a per-user grace timer. The grace window absorbs reconnect
// churn from tab backgrounding, fullscreen/PiP transitions, and transient
// network blips; the periodic sweep force-expires records whose timer callback
// never fired. Both layers are required: timers alone drift the count upward
// when callbacks are missed, a sweep alone flickers on every reconnect.
//
// All methods run on the owning room's goroutine. Timer callbacks fire on the
// runtime's timer goroutine and must only call expired, which posts the user id
// back into the room loop.
type PresenceTracker struct {
	users       map[int64]*onlineUser
	graceWindow time.Duration

	// expired is invoked from timer callbacks with the user id whose grace
	// deadline elapsed. It must be non-blocking and safe off the room goroutine.
	expired func(userID int64)
}

func NewPresenceTracker(graceWindow time.Duration, expired func(userID int64)) *PresenceTracker {
	return &PresenceTracker{
		users:       make(map[int64]*onlineUser),
		graceWindow: graceWindow,
		expired:     expired,
	}
}

// OnConnect records a new connection for the user. It returns true when a
// presence record was created, i.e. the online set actually changed and a
// user-joined event should be broadcast. A reconnect inside the grace window
// cancels the pending timer and returns false: presence stays stable across
// the gap.
func (t *PresenceTracker) OnConnect(p Profile, now time.Time) bool {
	if u, ok := t.users[p.UserID]; ok {
		u.activeConnections++
		u.profile = p
		t.cancelGrace(u)
		return false
	}

	t.users[p.UserID] = &onlineUser{
		profile:           p,
		activeConnections: 1,
		joinedAt:          now,
	}
	return true
}

// OnDisconnect records a dropped connection. When the user's last connection
// goes, the record is not removed: a grace timer is armed instead, and removal
// happens later via ExpireIfDue or Sweep.
func (t *PresenceTracker) OnDisconnect(userID int64, now time.Time) {
	u, ok := t.users[userID]
	if !ok {
		return
	}

	if u.activeConnections > 0 {
		u.activeConnections--
	}
	if u.activeConnections > 0 {
		return
	}

	t.cancelGrace(u)
	u.graceExpiresAt = now.Add(t.graceWindow)
	id := userID
	u.graceTimer = time.AfterFunc(t.graceWindow, func() {
		t.expired(id)
	})
}

// OnLeave handles an explicit leave-session: the connection count drops and,
// if it reaches zero, the record is removed immediately with no grace window.
// Returns true when the record was removed and a user-left event is due.
func (t *PresenceTracker) OnLeave(userID int64) bool {
	u, ok := t.users[userID]
	if !ok {
		return false
	}

	if u.activeConnections > 0 {
		u.activeConnections--
	}
	if u.activeConnections > 0 {
		return false
	}

	t.cancelGrace(u)
	delete(t.users, userID)
	return true
}

// ExpireIfDue removes the user's record if its grace deadline has passed and
// no connection came back. Called from the room loop when a grace timer fires.
// Returns true when the record was removed.
func (t *PresenceTracker) ExpireIfDue(userID int64, now time.Time) bool {
	u, ok := t.users[userID]
	if !ok {
		return false
	}
	if u.activeConnections > 0 || u.graceExpiresAt.IsZero() || now.Before(u.graceExpiresAt) {
		return false
	}

	t.cancelGrace(u)
	delete(t.users, userID)
	return true
}

// Sweep force-expires every record whose grace deadline has passed. This is
// the second defense layer against ghost users: it catches deadlines whose
// timer callback was lost to a missed timer or clock skew. A sweep with no
// pending expirations is a no-op.
func (t *PresenceTracker) Sweep(now time.Time) []int64 {
	var removed []int64
	for id, u := range t.users {
		if u.activeConnections > 0 {
			continue
		}
		if u.graceExpiresAt.IsZero() || now.Before(u.graceExpiresAt) {
			continue
		}
		t.cancelGrace(u)
		delete(t.users, id)
		removed = append(removed, id)
	}
	return removed
}

// OnlineUsers returns the presence snapshot ordered by join time. The list and
// OnlineCount are derived from the same record set with the same instant, so
// the displayed count always matches the rendered avatars.
func (t *PresenceTracker) OnlineUsers(now time.Time) []OnlineUserView {
	type entry struct {
		view     OnlineUserView
		joinedAt time.Time
	}

	entries := make([]entry, 0, len(t.users))
	for _, u := range t.users {
		if !u.online(now) {
			continue
		}
		entries = append(entries, entry{
			view: OnlineUserView{
				UserID: u.profile.UserID,
				Name:   u.profile.Name,
				Avatar: u.profile.Avatar,
			},
			joinedAt: u.joinedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].joinedAt.Equal(entries[j].joinedAt) {
			return entries[i].view.UserID < entries[j].view.UserID
		}
		return entries[i].joinedAt.Before(entries[j].joinedAt)
	})

	views := make([]OnlineUserView, len(entries))
	for i, e := range entries {
		views[i] = e.view
	}
	return views
}

// OnlineCount returns the number of distinct users currently online.
func (t *PresenceTracker) OnlineCount(now time.Time) int {
	n := 0
	for _, u := range t.users {
		if u.online(now) {
			n++
		}
	}
	return n
}

// ConnectionsFor reports the tracked connection count for one user.
func (t *PresenceTracker) ConnectionsFor(userID int64) int {
	if u, ok := t.users[userID]; ok {
		return u.activeConnections
	}
	return 0
}

// StopTimers cancels every pending grace timer. Used when a room is evicted.
func (t *PresenceTracker) StopTimers() {
	for _, u := range t.users {
		t.cancelGrace(u)
	}
}

func (t *PresenceTracker) cancelGrace(u *onlineUser) {
	if u.graceTimer != nil {
		u.graceTimer.Stop()
		u.graceTimer = nil
	}
	u.graceExpiresAt = time.Time{}
}
