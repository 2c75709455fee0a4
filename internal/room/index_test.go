package room

import (
	"sort"
	"testing"
)

// fakeConn implements presence.Conn for index tests.
type fakeConn struct {
	id string
}

func (c *fakeConn) SessionID() string            { return c.id }
func (c *fakeConn) WriteMessage(_ []byte) error  { return nil }

func memberIDs(i *Index, roomID string) []string {
	var ids []string
	for _, conn := range i.Members(roomID) {
		ids = append(ids, conn.SessionID())
	}
	sort.Strings(ids)
	return ids
}

func TestIndex_JoinAndMembers(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}

	i.Join(a, "r1")
	i.Join(b, "r1")

	got := memberIDs(i, "r1")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected members: %v", got)
	}
}

func TestIndex_JoinIsIdempotent(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}

	i.Join(a, "r1")
	i.Join(a, "r1")

	if got := memberIDs(i, "r1"); len(got) != 1 {
		t.Errorf("duplicate join created duplicate membership: %v", got)
	}
}

func TestIndex_Leave(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}

	i.Join(a, "r1")
	i.Join(b, "r1")
	i.Leave(a, "r1")

	if got := memberIDs(i, "r1"); len(got) != 1 || got[0] != "b" {
		t.Errorf("unexpected members after leave: %v", got)
	}
	if got := i.Rooms(a); len(got) != 0 {
		t.Errorf("expected a to have no rooms, got %v", got)
	}
}

func TestIndex_LeaveUnknownRoomIsNoOp(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}
	i.Leave(a, "nowhere") // must not panic
	if i.RoomCount() != 0 {
		t.Errorf("expected no rooms, got %d", i.RoomCount())
	}
}

func TestIndex_EmptyRoomIsDropped(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}

	i.Join(a, "r1")
	if i.RoomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", i.RoomCount())
	}
	i.Leave(a, "r1")
	if i.RoomCount() != 0 {
		t.Errorf("expected empty room to be dropped, got %d rooms", i.RoomCount())
	}
}

func TestIndex_DropConnectionCascades(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}

	i.Join(a, "r1")
	i.Join(a, "r2")
	i.Join(a, "r3")
	i.Join(b, "r2")

	i.DropConnection(a)

	for _, roomID := range []string{"r1", "r3"} {
		if got := i.Members(roomID); len(got) != 0 {
			t.Errorf("room %s should be empty after drop, got %d members", roomID, len(got))
		}
	}
	if got := memberIDs(i, "r2"); len(got) != 1 || got[0] != "b" {
		t.Errorf("room r2 should keep b, got %v", got)
	}
	if got := i.Rooms(a); len(got) != 0 {
		t.Errorf("dropped connection still holds rooms: %v", got)
	}
}

func TestIndex_RoomsSnapshot(t *testing.T) {
	i := NewIndex()
	a := &fakeConn{id: "a"}

	i.Join(a, "r1")
	i.Join(a, "r2")

	got := i.Rooms(a)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "r1" || got[1] != "r2" {
		t.Errorf("unexpected rooms: %v", got)
	}
}
