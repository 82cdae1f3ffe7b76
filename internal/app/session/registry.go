package session

// ConnectionRegistry is the authoritative set of sockets currently attached to
// one room. It maps opaque connection ids to their clients. All access happens
// on the owning room's goroutine, so no locking is needed; concurrent
// register/unregister from independent transports serialize through the room's
// channels instead of a shared lock.
type ConnectionRegistry struct {
	conns map[string]*Client
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*Client)}
}

// Register adds the connection. Registering an id that is already present is a
// no-op and returns false, so a redelivered join never double-counts.
func (g *ConnectionRegistry) Register(c *Client) bool {
	if _, ok := g.conns[c.connID]; ok {
		return false
	}
	g.conns[c.connID] = c
	return true
}

// Unregister removes the connection and returns its user id. Unregistering an
// unknown or already removed connection is a no-op, not an error.
func (g *ConnectionRegistry) Unregister(connID string) (int64, bool) {
	c, ok := g.conns[connID]
	if !ok {
		return 0, false
	}
	delete(g.conns, connID)
	return c.profile.UserID, true
}

// ConnectionsFor returns how many live connections the user currently has in
// this room (multi-device reattaches included).
func (g *ConnectionRegistry) ConnectionsFor(userID int64) int {
	n := 0
	for _, c := range g.conns {
		if c.profile.UserID == userID {
			n++
		}
	}
	return n
}

// Len returns the raw connection count, which can exceed the online user count.
func (g *ConnectionRegistry) Len() int {
	return len(g.conns)
}

// each visits every registered connection exactly once, giving broadcasts
// their at-most-once per connection guarantee.
func (g *ConnectionRegistry) each(fn func(*Client)) {
	for _, c := range g.conns {
		fn(c)
	}
}
