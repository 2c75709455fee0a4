package router

import (
	"log"

	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/presence"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/room"
)

// TypingRelay is the stateless pass-through for ephemeral typing signals.
// Nothing is persisted and nothing expires server-side: peers clear the
// indicator only when a stop signal arrives.
type TypingRelay struct {
	registry *presence.Registry
	rooms    *room.Index
}

// NewTypingRelay creates a TypingRelay over the given registry and room index.
func NewTypingRelay(registry *presence.Registry, rooms *room.Index) *TypingRelay {
	return &TypingRelay{registry: registry, rooms: rooms}
}

// Start relays a typing-start signal as user-typing.
func (t *TypingRelay) Start(sender presence.Conn, senderID, receiverID, roomID string) {
	t.relay(sender, protocol.TypeUserTyping, senderID, receiverID, roomID)
}

// Stop relays a typing-stop signal as user-stopped-typing.
func (t *TypingRelay) Stop(sender presence.Conn, senderID, receiverID, roomID string) {
	t.relay(sender, protocol.TypeUserStoppedTyping, senderID, receiverID, roomID)
}

// relay resolves the signal's audience and writes the event. Direct signals
// go only to the receiver's connection and are dropped if the receiver is
// offline. Room signals go to every other subscriber — unlike message
// fanout, the sender is excluded. Malformed targets are dropped silently:
// typing signals carry no error path.
func (t *TypingRelay) relay(sender presence.Conn, eventType, senderID, receiverID, roomID string) {
	if (receiverID == "") == (roomID == "") {
		return
	}

	data, err := protocol.NewServerMessage(eventType, protocol.UserTypingMsg{
		UserID: senderID,
		RoomID: roomID,
	})
	if err != nil {
		log.Printf("router: failed to build %s for user=%s: %v", eventType, senderID, err)
		return
	}

	metrics.TypingEventsTotal.Inc()

	if receiverID != "" {
		conn := t.registry.Lookup(receiverID)
		if conn == nil {
			return
		}
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("router: typing relay failed receiver=%s: %v", receiverID, err)
		}
		return
	}

	for _, conn := range t.rooms.Members(roomID) {
		if conn.SessionID() == sender.SessionID() {
			continue
		}
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("router: typing relay failed session=%s room=%s: %v", conn.SessionID(), roomID, err)
		}
	}
}
