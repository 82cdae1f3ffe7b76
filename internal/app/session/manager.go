package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/logx"
)

// Manager coordinates all active session rooms, keyed by date, and runs the
// daily flush: when the civil date rolls over, every room keyed by a stale
// date is swapped out of the map and stopped. The flush only ever removes the
// pointer and signals the room's own loop, so it can never race a send in
// progress for the outgoing date. Connections still attached to a stale date
// are released by the stopping room; the client is expected to rejoin with
// the new date key.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	opts  Options
	store MessageStore

	// cleanup receives notifications from room loops that finished.
	cleanup chan roomCleanupMsg

	stopChan chan struct{}
	wg       sync.WaitGroup

	// now is the manager clock, replaceable in tests.
	now func() time.Time

	logger zerolog.Logger
}

// NewManager constructs a Manager and starts its cleanup loop and the daily
// flush scheduler.
func NewManager(store MessageStore, opts Options) *Manager {
	managerLogger := logx.Logger().With().Str("component", "SessionManager").Logger()

	m := &Manager{
		rooms:    make(map[string]*Room),
		opts:     opts.withDefaults(),
		store:    store,
		cleanup:  make(chan roomCleanupMsg, 16),
		stopChan: make(chan struct{}),
		now:      time.Now,
		logger:   managerLogger,
	}

	m.wg.Add(2)
	go m.runCleanupLoop()
	go m.runFlushScheduler()

	return m
}

// TodayKey returns the current session date key in the configured timezone.
func (m *Manager) TodayKey() string {
	return DateKey(m.now(), m.opts.Location)
}

// RoomFor returns the live room for the given date key, creating and starting
// it lazily on first attach. Only today's room is warmed from the durable
// store: an attach against an already-flushed date gets a fresh empty window.
func (m *Manager) RoomFor(date string) *Room {
	m.mu.RLock()
	room := m.rooms[date]
	m.mu.RUnlock()
	if room != nil && !room.stopped() {
		return room
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms == nil {
		// Shut down. WebSocket connections are hijacked, so joins can still
		// arrive after server.Shutdown returns; hand back a stopped room so
		// the attach fails cleanly instead of panicking on the nil map.
		room = newRoom(date, m.opts, m.store, m.cleanup, nil)
		room.Stop()
		return room
	}

	room = m.rooms[date]
	if room != nil && !room.stopped() {
		return room
	}

	var warm []ChatMessage
	if date == DateKey(m.now(), m.opts.Location) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		recent, err := m.store.RecentMessages(ctx, date, m.opts.WindowSize)
		cancel()
		if err != nil {
			m.logger.Error().Err(err).Str("session_date", date).Msg("Failed to warm room from store; starting empty.")
		} else {
			warm = recent
		}
	}

	room = newRoom(date, m.opts, m.store, m.cleanup, warm)
	m.rooms[date] = room

	go room.Run()

	m.logger.Info().
		Str("session_date", date).
		Int("warm_messages", len(warm)).
		Msg("Session room created.")

	return room
}

// OnlineCount returns the distinct online-user count for the given date, or 0
// when no room exists. Backs the REST polling fallback.
func (m *Manager) OnlineCount(date string) int {
	m.mu.RLock()
	room := m.rooms[date]
	m.mu.RUnlock()

	if room == nil {
		return 0
	}
	return room.OnlineCount()
}

// runCleanupLoop removes rooms whose loop has finished from the map.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	for msg := range m.cleanup {
		m.deleteRoom(msg.Date)
	}
}

func (m *Manager) deleteRoom(date string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms == nil {
		return
	}

	// A fresh room may already have replaced the stopped one under the same
	// key; only the stopped room's entry is removed.
	if room, ok := m.rooms[date]; ok && room.stopped() {
		delete(m.rooms, date)
		m.logger.Info().Str("session_date", date).Msg("Session room removed.")
	}
}

// runFlushScheduler sleeps until the next date boundary in the configured
// timezone and then evicts every stale room.
func (m *Manager) runFlushScheduler() {
	defer m.wg.Done()

	for {
		now := m.now()
		boundary := NextBoundary(now, m.opts.Location)
		timer := time.NewTimer(boundary.Sub(now))

		select {
		case <-timer.C:
			m.FlushStale()

		case <-m.stopChan:
			timer.Stop()
			return
		}
	}
}

// FlushStale evicts every room whose date key is no longer today. The room
// pointers are swapped out of the map first, then each room's loop is
// signalled to stop; an in-flight operation finishes inside the loop before
// it exits. A failed pass logs and leaves the next boundary to retry.
func (m *Manager) FlushStale() {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().Interface("panic", rec).Msg("Recovered from panic during daily flush.")
		}
	}()

	today := DateKey(m.now(), m.opts.Location)

	m.mu.Lock()
	var stale []*Room
	for date, room := range m.rooms {
		if date != today {
			stale = append(stale, room)
			delete(m.rooms, date)
		}
	}
	m.mu.Unlock()

	for _, room := range stale {
		room.Stop()
	}

	if len(stale) > 0 {
		m.logger.Info().
			Str("today", today).
			Int("flushed_rooms", len(stale)).
			Msg("Daily flush evicted stale session rooms.")
	}
}

// Shutdown stops the flush scheduler, every room loop, and the cleanup loop.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down session manager...")

	select {
	case <-m.stopChan:
	default:
		close(m.stopChan)
	}

	m.mu.Lock()
	for _, room := range m.rooms {
		room.Stop()
	}
	m.rooms = nil
	m.mu.Unlock()

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Session manager shutdown complete.")
}
