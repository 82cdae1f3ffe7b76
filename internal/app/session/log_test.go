package session

import "testing"

func msgWithID(id int64) ChatMessage {
	return ChatMessage{ID: id, UserID: 1, Text: "m"}
}

func TestMessageLogEvictsOldest(t *testing.T) {
	l := newMessageLog(3)
	for id := int64(1); id <= 5; id++ {
		l.append(msgWithID(id))
	}

	if l.len() != 3 {
		t.Fatalf("got window length %d, want 3", l.len())
	}

	snap := l.snapshotAfter(0)
	if len(snap) != 3 || snap[0].ID != 3 || snap[2].ID != 5 {
		t.Fatalf("unexpected window contents: %+v", snap)
	}
}

func TestMessageLogSnapshotAfter(t *testing.T) {
	l := newMessageLog(10)
	for id := int64(1); id <= 4; id++ {
		l.append(msgWithID(id))
	}

	snap := l.snapshotAfter(2)
	if len(snap) != 2 || snap[0].ID != 3 || snap[1].ID != 4 {
		t.Fatalf("got %+v, want ids 3 and 4", snap)
	}

	if snap := l.snapshotAfter(4); len(snap) != 0 {
		t.Fatalf("watermark at the head should yield nothing, got %+v", snap)
	}
}

func TestMessageLogSnapshotIsACopy(t *testing.T) {
	l := newMessageLog(10)
	l.append(msgWithID(1))
	l.append(msgWithID(2))

	snap := l.snapshotAfter(0)
	l.remove(1)

	if len(snap) != 2 {
		t.Fatalf("snapshot mutated by a later remove: %+v", snap)
	}
}

func TestMessageLogRemove(t *testing.T) {
	l := newMessageLog(10)
	for id := int64(1); id <= 3; id++ {
		l.append(msgWithID(id))
	}

	if !l.remove(2) {
		t.Fatal("remove of an existing id returned false")
	}
	if l.remove(2) {
		t.Fatal("second remove of the same id returned true")
	}
	if l.remove(99) {
		t.Fatal("remove of an unknown id returned true")
	}

	snap := l.snapshotAfter(0)
	if len(snap) != 2 || snap[0].ID != 1 || snap[1].ID != 3 {
		t.Fatalf("unexpected window after remove: %+v", snap)
	}
}

func TestMessageLogFind(t *testing.T) {
	l := newMessageLog(10)
	l.append(msgWithID(7))

	if m, ok := l.find(7); !ok || m.ID != 7 {
		t.Fatalf("find(7) = %+v, %v", m, ok)
	}
	if _, ok := l.find(8); ok {
		t.Fatal("find of an unknown id returned ok")
	}
}
