package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parley/chat-app/internal/moderation"
	"github.com/parley/chat-app/internal/presence"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/room"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeConn records every frame written to it, decoded into a generic map.
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []map[string]interface{}
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) SessionID() string { return c.id }

func (c *fakeConn) WriteMessage(data []byte) error {
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, decoded)
	c.mu.Unlock()
	return nil
}

// framesOfType returns the frames with the given type discriminator.
func (c *fakeConn) framesOfType(msgType string) []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]interface{}
	for _, f := range c.frames {
		if f["type"] == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type roomUpdate struct {
	roomID    string
	messageID string
}

type markCall struct {
	messageIDs []string
	readerID   string
}

// fakeStore is an in-memory persistence collaborator.
type fakeStore struct {
	mu          sync.Mutex
	createErr   error
	roomErr     error
	markErr     error
	created     []*protocol.Message
	roomUpdates []roomUpdate
	marked      []markCall
	nextID      int
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	stored := *msg
	stored.ID = fmt.Sprintf("m-%d", s.nextID)
	stored.CreatedAt = time.Now()
	s.created = append(s.created, &stored)
	return &stored, nil
}

func (s *fakeStore) UpdateRoomLastMessage(_ context.Context, roomID, messageID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomErr != nil {
		return s.roomErr
	}
	s.roomUpdates = append(s.roomUpdates, roomUpdate{roomID: roomID, messageID: messageID})
	return nil
}

func (s *fakeStore) BatchMarkRead(_ context.Context, messageIDs []string, readerID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, markCall{messageIDs: messageIDs, readerID: readerID})
	return nil
}

func (s *fakeStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

// newHarness wires a router over fresh registry, room index, and store.
func newHarness() (*Router, *presence.Registry, *room.Index, *fakeStore) {
	registry := presence.NewRegistry()
	rooms := room.NewIndex()
	store := &fakeStore{}
	return NewRouter(registry, rooms, store, nil, nil), registry, rooms, store
}

// ---------------------------------------------------------------------------
// Target validation
// ---------------------------------------------------------------------------

func TestSend_NoTargetRejected(t *testing.T) {
	r, _, _, store := newHarness()
	sender := newFakeConn("s-a")

	err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID: "alice",
		Content:  "hi",
	})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if store.createdCount() != 0 {
		t.Error("invalid target must never reach persistence")
	}

	errs := sender.framesOfType(protocol.TypeMessageError)
	if len(errs) != 1 || errs[0]["code"] != "invalid_target" {
		t.Errorf("expected one invalid_target message-error, got %v", errs)
	}
}

func TestSend_BothTargetsRejected(t *testing.T) {
	r, _, _, store := newHarness()
	sender := newFakeConn("s-a")

	err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
		RoomID:     "r-1",
		Content:    "hi",
	})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if store.createdCount() != 0 {
		t.Error("invalid target must never reach persistence")
	}
}

func TestSend_EmptyTextRejected(t *testing.T) {
	r, _, _, store := newHarness()
	sender := newFakeConn("s-a")

	if err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
	}); err == nil {
		t.Fatal("expected validation error for empty text message")
	}
	if store.createdCount() != 0 {
		t.Error("invalid content must never reach persistence")
	}
	errs := sender.framesOfType(protocol.TypeMessageError)
	if len(errs) != 1 || errs[0]["code"] != "invalid_message" {
		t.Errorf("expected one invalid_message error, got %v", errs)
	}
}

// ---------------------------------------------------------------------------
// Direct delivery
// ---------------------------------------------------------------------------

func TestSend_DirectToOnlineReceiver(t *testing.T) {
	r, registry, _, _ := newHarness()
	sender := newFakeConn("s-a")
	receiver := newFakeConn("s-b")
	registry.Register("alice", sender)
	registry.Register("bob", receiver)

	err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := receiver.framesOfType(protocol.TypeReceiveMessage)
	if len(got) != 1 {
		t.Fatalf("expected 1 receive-message at receiver, got %d", len(got))
	}
	if got[0]["content"] != "hi" || got[0]["sender_id"] != "alice" {
		t.Errorf("unexpected delivered envelope: %v", got[0])
	}
	if got[0]["id"] == "" || got[0]["id"] == nil {
		t.Error("delivered envelope must carry the persisted id")
	}

	// The sender gets exactly the confirmation, not a receive-message echo.
	if n := len(sender.framesOfType(protocol.TypeMessageSent)); n != 1 {
		t.Errorf("expected 1 message-sent at sender, got %d", n)
	}
	if n := len(sender.framesOfType(protocol.TypeReceiveMessage)); n != 0 {
		t.Errorf("direct send must not echo receive-message to sender, got %d", n)
	}
}

func TestSend_DirectToOfflineReceiver(t *testing.T) {
	r, registry, _, store := newHarness()
	sender := newFakeConn("s-a")
	registry.Register("alice", sender)
	// bob is offline: no registration.

	err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Persisted, confirmed to the sender, no live push anywhere else.
	if store.createdCount() != 1 {
		t.Fatalf("expected message persisted, got %d", store.createdCount())
	}
	sent := sender.framesOfType(protocol.TypeMessageSent)
	if len(sent) != 1 {
		t.Fatalf("expected 1 message-sent, got %d", len(sent))
	}
	if sent[0]["id"] != "m-1" {
		t.Errorf("confirmation should carry persisted id, got %v", sent[0]["id"])
	}
}

func TestSend_ReceiverDisconnectsBeforeDelivery(t *testing.T) {
	r, registry, _, store := newHarness()
	sender := newFakeConn("s-a")
	receiver := newFakeConn("s-b")
	registry.Register("alice", sender)
	registry.Register("bob", receiver)

	// The receiver drops while the persistence call is in flight; the router
	// must use the registry's state at delivery time, not a snapshot.
	registry.Unregister(receiver)

	if err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receiver.frameCount() != 0 {
		t.Error("disconnected receiver must not get a live push")
	}
	if store.createdCount() != 1 {
		t.Error("message must still be persisted")
	}
}

// ---------------------------------------------------------------------------
// Room fanout
// ---------------------------------------------------------------------------

func TestSend_RoomFanoutIncludesSender(t *testing.T) {
	r, registry, rooms, store := newHarness()
	a := newFakeConn("s-a")
	b := newFakeConn("s-b")
	c := newFakeConn("s-c")
	registry.Register("alice", a)
	registry.Register("bob", b)
	registry.Register("carol", c)
	for _, conn := range []presence.Conn{a, b, c} {
		rooms.Join(conn, "r-1")
	}

	if err := r.Send(context.Background(), a, protocol.SendMessageMsg{
		SenderID: "alice",
		RoomID:   "r-1",
		Content:  "hello room",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every subscriber, the sender included, gets exactly one copy.
	for _, conn := range []*fakeConn{a, b, c} {
		got := conn.framesOfType(protocol.TypeReceiveMessage)
		if len(got) != 1 {
			t.Errorf("session %s: expected 1 receive-message, got %d", conn.id, len(got))
			continue
		}
		if got[0]["room_id"] != "r-1" {
			t.Errorf("session %s: wrong room_id: %v", conn.id, got[0]["room_id"])
		}
	}

	// Sender additionally gets the confirmation copy.
	if n := len(a.framesOfType(protocol.TypeMessageSent)); n != 1 {
		t.Errorf("expected 1 message-sent at sender, got %d", n)
	}

	// The room's last-message pointer moved.
	if len(store.roomUpdates) != 1 || store.roomUpdates[0].roomID != "r-1" || store.roomUpdates[0].messageID != "m-1" {
		t.Errorf("unexpected room updates: %+v", store.roomUpdates)
	}
}

func TestSend_RoomNonSubscribersExcluded(t *testing.T) {
	r, registry, rooms, _ := newHarness()
	a := newFakeConn("s-a")
	b := newFakeConn("s-b")
	outsider := newFakeConn("s-x")
	registry.Register("alice", a)
	registry.Register("bob", b)
	registry.Register("xavier", outsider)
	rooms.Join(a, "r-1")
	rooms.Join(b, "r-1")

	if err := r.Send(context.Background(), a, protocol.SendMessageMsg{
		SenderID: "alice",
		RoomID:   "r-1",
		Content:  "hello",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outsider.frameCount() != 0 {
		t.Error("connections outside the room must not receive room messages")
	}
}

func TestSend_RoomPointerFailureDoesNotBlockFanout(t *testing.T) {
	r, registry, rooms, store := newHarness()
	store.roomErr = errors.New("pointer update failed")
	a := newFakeConn("s-a")
	b := newFakeConn("s-b")
	registry.Register("alice", a)
	registry.Register("bob", b)
	rooms.Join(a, "r-1")
	rooms.Join(b, "r-1")

	if err := r.Send(context.Background(), a, protocol.SendMessageMsg{
		SenderID: "alice",
		RoomID:   "r-1",
		Content:  "hello",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := len(b.framesOfType(protocol.TypeReceiveMessage)); n != 1 {
		t.Errorf("fanout should proceed past a failed pointer update, got %d deliveries", n)
	}
}

// ---------------------------------------------------------------------------
// Persistence failure
// ---------------------------------------------------------------------------

func TestSend_PersistenceFailure(t *testing.T) {
	r, registry, _, store := newHarness()
	store.createErr = errors.New("db down")
	sender := newFakeConn("s-a")
	receiver := newFakeConn("s-b")
	registry.Register("alice", sender)
	registry.Register("bob", receiver)

	if err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
	}); err == nil {
		t.Fatal("expected persistence error")
	}

	errs := sender.framesOfType(protocol.TypeMessageError)
	if len(errs) != 1 || errs[0]["code"] != "persistence_failure" {
		t.Errorf("expected one persistence_failure error, got %v", errs)
	}
	if receiver.frameCount() != 0 {
		t.Error("no delivery may be attempted after a persistence failure")
	}
	if n := len(sender.framesOfType(protocol.TypeMessageSent)); n != 0 {
		t.Errorf("no confirmation after a persistence failure, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Content filter
// ---------------------------------------------------------------------------

func TestSend_BlockedContent(t *testing.T) {
	registry := presence.NewRegistry()
	rooms := room.NewIndex()
	store := &fakeStore{}
	filter := moderation.NewFilterWithTerms([]string{"forbidden"})
	r := NewRouter(registry, rooms, store, filter, nil)

	sender := newFakeConn("s-a")
	registry.Register("alice", sender)

	if err := r.Send(context.Background(), sender, protocol.SendMessageMsg{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "this is forbidden stuff",
	}); err == nil {
		t.Fatal("expected filter rejection")
	}

	if store.createdCount() != 0 {
		t.Error("blocked content must not be persisted")
	}
	errs := sender.framesOfType(protocol.TypeMessageError)
	if len(errs) != 1 || errs[0]["code"] != "blocked_content" {
		t.Errorf("expected one blocked_content error, got %v", errs)
	}
}

// ---------------------------------------------------------------------------
// Scenario tests
// ---------------------------------------------------------------------------

// User A online, user B offline. A sends a direct message to B.
func TestScenario_DirectToOfflineUser(t *testing.T) {
	r, registry, _, store := newHarness()
	a := newFakeConn("s-a")
	b := newFakeConn("s-b")
	registry.Register("A", a)

	if err := r.Send(context.Background(), a, protocol.SendMessageMsg{
		SenderID:   "A",
		ReceiverID: "B",
		Content:    "hi",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := a.framesOfType(protocol.TypeMessageSent)
	if len(sent) != 1 {
		t.Fatalf("A should get message-sent, got %d", len(sent))
	}
	if sent[0]["id"] != "m-1" {
		t.Errorf("message-sent should carry the persisted id, got %v", sent[0]["id"])
	}
	if b.frameCount() != 0 {
		t.Error("offline B must receive no push")
	}
	if store.createdCount() != 1 {
		t.Error("message must be persisted for later history fetch")
	}
}

// Users A, B, C joined room R. A sends to R.
func TestScenario_RoomBroadcast(t *testing.T) {
	r, registry, rooms, store := newHarness()
	a := newFakeConn("s-a")
	b := newFakeConn("s-b")
	c := newFakeConn("s-c")
	registry.Register("A", a)
	registry.Register("B", b)
	registry.Register("C", c)
	rooms.Join(a, "R")
	rooms.Join(b, "R")
	rooms.Join(c, "R")

	if err := r.Send(context.Background(), a, protocol.SendMessageMsg{
		SenderID: "A",
		RoomID:   "R",
		Content:  "meeting at 3",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, conn := range []*fakeConn{a, b, c} {
		if n := len(conn.framesOfType(protocol.TypeReceiveMessage)); n != 1 {
			t.Errorf("session %s: expected exactly 1 receive-message, got %d", conn.id, n)
		}
	}
	if len(store.roomUpdates) != 1 || store.roomUpdates[0].roomID != "R" {
		t.Errorf("room last-message pointer not updated: %+v", store.roomUpdates)
	}
}
