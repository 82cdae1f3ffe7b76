package session

// messageLog is the bounded, append-only ordered message window of one room.
// Entries are kept in ascending id order; appending beyond the window size
// evicts the oldest entry. Owned by the room goroutine, never shared.
type messageLog struct {
	max  int
	msgs []ChatMessage
}

func newMessageLog(max int) *messageLog {
	return &messageLog{max: max}
}

// append adds m to the window, evicting the oldest entry beyond capacity.
func (l *messageLog) append(m ChatMessage) {
	l.msgs = append(l.msgs, m)
	if len(l.msgs) > l.max {
		// Shift rather than reslice so the evicted entry can be collected.
		copy(l.msgs, l.msgs[1:])
		l.msgs = l.msgs[:len(l.msgs)-1]
	}
}

// snapshotAfter returns a copy of all messages with id greater than sinceID.
// Passing 0 returns the whole window. The copy keeps callers from observing
// later mutations of the ring.
func (l *messageLog) snapshotAfter(sinceID int64) []ChatMessage {
	start := len(l.msgs)
	for i, m := range l.msgs {
		if m.ID > sinceID {
			start = i
			break
		}
	}

	out := make([]ChatMessage, len(l.msgs)-start)
	copy(out, l.msgs[start:])
	return out
}

// remove deletes the message with the given id from the window.
// Returns false if the id is not present.
func (l *messageLog) remove(id int64) bool {
	for i, m := range l.msgs {
		if m.ID == id {
			l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// find returns the message with the given id, if present.
func (l *messageLog) find(id int64) (ChatMessage, bool) {
	for _, m := range l.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return ChatMessage{}, false
}

func (l *messageLog) len() int {
	return len(l.msgs)
}
