package presence

import (
	"sync"
	"testing"
)

// fakeConn is a minimal Conn that records frames written to it.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) SessionID() string { return c.id }

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, data)
	c.mu.Unlock()
	return nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("s1")

	if prev := r.Register("alice", conn); prev != nil {
		t.Errorf("expected no replaced connection, got %v", prev.SessionID())
	}
	if !r.IsOnline("alice") {
		t.Error("expected alice online after register")
	}
	if got := r.Lookup("alice"); got == nil || got.SessionID() != "s1" {
		t.Errorf("Lookup returned wrong connection: %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("expected count=1, got %d", r.Count())
	}
}

func TestRegistry_LookupOffline(t *testing.T) {
	r := NewRegistry()
	if r.Lookup("ghost") != nil {
		t.Error("expected nil for unknown user")
	}
	if r.IsOnline("ghost") {
		t.Error("expected ghost offline")
	}
}

func TestRegistry_SecondConnectionReplacesFirst(t *testing.T) {
	r := NewRegistry()
	first := newFakeConn("s1")
	second := newFakeConn("s2")

	r.Register("alice", first)
	prev := r.Register("alice", second)

	if prev == nil || prev.SessionID() != "s1" {
		t.Fatalf("expected first connection to be replaced, got %v", prev)
	}
	if got := r.Lookup("alice"); got.SessionID() != "s2" {
		t.Errorf("expected lookup to return the newer connection, got %s", got.SessionID())
	}
	// The user stays online throughout; only one entry exists.
	if r.Count() != 1 {
		t.Errorf("expected count=1 after replacement, got %d", r.Count())
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("s1")
	r.Register("alice", conn)

	userID, ok := r.Unregister(conn)
	if !ok {
		t.Fatal("expected unregister to remove the entry")
	}
	if userID != "alice" {
		t.Errorf("expected userID alice, got %q", userID)
	}
	if r.IsOnline("alice") {
		t.Error("expected alice offline after unregister")
	}
}

// A disconnect for a connection that has already been replaced must not
// evict the newer connection.
func TestRegistry_StaleUnregisterIsNoOp(t *testing.T) {
	r := NewRegistry()
	first := newFakeConn("s1")
	second := newFakeConn("s2")

	r.Register("alice", first)
	r.Register("alice", second)

	if _, ok := r.Unregister(first); ok {
		t.Fatal("stale unregister should be a no-op")
	}
	if !r.IsOnline("alice") {
		t.Error("alice must remain online after stale unregister")
	}
	if got := r.Lookup("alice"); got.SessionID() != "s2" {
		t.Errorf("newer connection evicted by stale unregister: %s", got.SessionID())
	}
}

func TestRegistry_UnregisterUnknownConn(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Unregister(newFakeConn("never-registered")); ok {
		t.Error("unregistering an unknown connection should be a no-op")
	}
}

// isOnline must always reflect the most recent registration outcome over an
// arbitrary register/unregister interleaving.
func TestRegistry_Sequence(t *testing.T) {
	r := NewRegistry()
	c1 := newFakeConn("s1")
	c2 := newFakeConn("s2")
	c3 := newFakeConn("s3")

	r.Register("alice", c1)
	r.Register("bob", c2)
	r.Register("alice", c3) // alice reconnects
	r.Unregister(c1)        // stale
	r.Unregister(c2)        // bob drops

	if !r.IsOnline("alice") {
		t.Error("alice should still be online on s3")
	}
	if r.IsOnline("bob") {
		t.Error("bob should be offline")
	}
	if r.Count() != 1 {
		t.Errorf("expected count=1, got %d", r.Count())
	}
}

func TestRegistry_ConnReidentifies(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("s1")

	r.Register("alice", conn)
	r.Register("bob", conn) // same connection, new identity

	if r.IsOnline("alice") {
		t.Error("alice binding should be dropped when her connection re-identifies")
	}
	if !r.IsOnline("bob") {
		t.Error("bob should be online")
	}
	if got := r.UserOf(conn); got != "bob" {
		t.Errorf("expected UserOf=bob, got %q", got)
	}
}

func TestRegistry_UserOf(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("s1")

	if got := r.UserOf(conn); got != "" {
		t.Errorf("expected empty identity before handshake, got %q", got)
	}
	r.Register("alice", conn)
	if got := r.UserOf(conn); got != "alice" {
		t.Errorf("expected alice, got %q", got)
	}
}
