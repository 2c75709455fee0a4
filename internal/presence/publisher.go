package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/parley/chat-app/internal/protocol"
)

// Broadcaster delivers a frame to every live connection. The ws connection
// manager implements it.
type Broadcaster interface {
	Broadcast(data []byte)
}

// StatusStore records durable online/offline status. The persistence
// collaborator implements it.
type StatusStore interface {
	UpdateUserStatus(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error
}

// EventBus carries presence transitions to external consumers. The NATS
// client implements it; a nil bus disables the feed.
type EventBus interface {
	PublishPresenceEvent(data []byte) error
}

// Event is the payload published on the presence event bus.
type Event struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	At       int64  `json:"at"`
}

// statusWriteTimeout bounds the background durable status write.
const statusWriteTimeout = 3 * time.Second

// Publisher broadcasts presence transitions to all live connections and
// records them durably. The broadcast happens first and never waits on the
// durable write: the in-memory registry is authoritative for live routing,
// so a failed or slow status write must not delay or suppress the
// announcement.
type Publisher struct {
	broadcaster Broadcaster
	store       StatusStore
	bus         EventBus
}

// NewPublisher creates a Publisher. store and bus may be nil, which disables
// the respective side effect (used in tests and degraded startup).
func NewPublisher(broadcaster Broadcaster, store StatusStore, bus EventBus) *Publisher {
	return &Publisher{broadcaster: broadcaster, store: store, bus: bus}
}

// Publish announces that userID went online or offline. Every live
// connection receives the user-status-change event, including the affected
// user's own connection.
func (p *Publisher) Publish(userID string, isOnline bool) {
	data, err := protocol.NewServerMessage(protocol.TypeUserStatusChange, protocol.UserStatusChangeMsg{
		UserID:   userID,
		IsOnline: isOnline,
	})
	if err != nil {
		log.Printf("presence: failed to build status change for user=%s: %v", userID, err)
		return
	}

	p.broadcaster.Broadcast(data)

	now := time.Now()

	if p.store != nil {
		// Fire-and-forget: the durable record trails the broadcast.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
			defer cancel()
			if err := p.store.UpdateUserStatus(ctx, userID, isOnline, now); err != nil {
				log.Printf("presence: status write failed user=%s online=%v: %v", userID, isOnline, err)
			}
		}()
	}

	if p.bus != nil {
		event, err := json.Marshal(Event{UserID: userID, IsOnline: isOnline, At: now.Unix()})
		if err == nil {
			if err := p.bus.PublishPresenceEvent(event); err != nil {
				log.Printf("presence: event publish failed user=%s: %v", userID, err)
			}
		}
	}
}
