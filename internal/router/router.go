// Package router implements the message-routing core: deciding between
// direct delivery and room fanout, persisting envelopes through the external
// persistence collaborator, relaying typing indicators, and aggregating read
// receipts. It never retries and never queues: a receiver without a live
// connection simply reads the message later from persisted history.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/moderation"
	"github.com/parley/chat-app/internal/presence"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/room"
)

// ErrInvalidTarget is returned when a send targets neither or both of a
// receiver and a room. It is rejected before any persistence call.
var ErrInvalidTarget = errors.New("router: message must target exactly one of receiver or room")

// MessageStore is the slice of the persistence collaborator the router
// depends on.
type MessageStore interface {
	// CreateMessage persists the envelope, assigning its ID and CreatedAt.
	CreateMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
	// UpdateRoomLastMessage moves the room's last-message pointer.
	UpdateRoomLastMessage(ctx context.Context, roomID, messageID string, ts time.Time) error
}

// EventBus carries persisted envelopes to external consumers. A nil bus
// disables the feed.
type EventBus interface {
	PublishMessageEvent(data []byte) error
}

// Router routes chat messages to live connections. Delivery targets are
// resolved against the registry at delivery time, after the persistence
// call returns — a receiver who disconnected while the envelope was being
// persisted is simply skipped.
type Router struct {
	registry *presence.Registry
	rooms    *room.Index
	store    MessageStore
	filter   *moderation.Filter
	bus      EventBus
}

// NewRouter creates a Router. filter and bus may be nil, which disables
// content screening and the external message feed respectively.
func NewRouter(registry *presence.Registry, rooms *room.Index, store MessageStore, filter *moderation.Filter, bus EventBus) *Router {
	return &Router{
		registry: registry,
		rooms:    rooms,
		store:    store,
		filter:   filter,
		bus:      bus,
	}
}

// Send runs the full send state machine for one inbound send-message
// request: validate the target, screen and persist the envelope, deliver to
// the resolved connections, and echo a message-sent confirmation to the
// sender. Failures are reported to the sender as message-error; the returned
// error exists for logging only.
func (r *Router) Send(ctx context.Context, sender presence.Conn, req protocol.SendMessageMsg) error {
	start := time.Now()

	// Exactly one of receiver / room must be set.
	if (req.ReceiverID == "") == (req.RoomID == "") {
		r.sendError(sender, "invalid_target", "message must target exactly one of receiver_id or room_id")
		return ErrInvalidTarget
	}

	kind := req.MessageType
	if kind == "" {
		kind = protocol.KindText
	}

	if err := ValidateContent(kind, req.Content); err != nil {
		r.sendError(sender, "invalid_message", err.Error())
		return err
	}

	if r.filter != nil {
		if result := r.filter.Check(req.Content); result.Blocked {
			log.Printf("router: blocked message sender=%s reason=%s term=%q", req.SenderID, result.Reason, result.Term)
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			r.sendError(sender, "blocked_content", "message rejected by content filter")
			return errors.New("router: message blocked by content filter")
		}
	}

	msg := &protocol.Message{
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		RoomID:      req.RoomID,
		Content:     req.Content,
		MessageType: kind,
		FileURL:     req.FileURL,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
	}

	stored, err := r.store.CreateMessage(ctx, msg)
	if err != nil {
		log.Printf("router: persist failed sender=%s: %v", req.SenderID, err)
		r.sendError(sender, "persistence_failure", "failed to send message")
		return err
	}

	frame, err := protocol.NewServerMessage(protocol.TypeReceiveMessage, stored)
	if err != nil {
		log.Printf("router: failed to build receive-message id=%s: %v", stored.ID, err)
		r.sendError(sender, "persistence_failure", "failed to send message")
		return err
	}

	if stored.RoomID != "" {
		r.deliverRoom(ctx, stored, frame)
		metrics.MessagesTotal.WithLabelValues("room").Inc()
	} else {
		r.deliverDirect(stored, frame)
		metrics.MessagesTotal.WithLabelValues("direct").Inc()
	}

	// The sender always receives a confirmation copy of the persisted
	// envelope, whatever happened during target resolution. For direct
	// messages this is the only event that updates the sender's own list.
	confirm, err := protocol.NewServerMessage(protocol.TypeMessageSent, stored)
	if err != nil {
		log.Printf("router: failed to build message-sent id=%s: %v", stored.ID, err)
	} else if err := sender.WriteMessage(confirm); err != nil {
		log.Printf("router: confirmation write failed session=%s id=%s: %v", sender.SessionID(), stored.ID, err)
	}

	if r.bus != nil {
		if event, err := json.Marshal(stored); err == nil {
			if err := r.bus.PublishMessageEvent(event); err != nil {
				log.Printf("router: message event publish failed id=%s: %v", stored.ID, err)
			}
		}
	}

	metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
	return nil
}

// deliverDirect pushes the envelope to the receiver's connection, looked up
// at delivery time. An offline receiver gets nothing — the message stays
// discoverable via persisted history only.
func (r *Router) deliverDirect(msg *protocol.Message, frame []byte) {
	conn := r.registry.Lookup(msg.ReceiverID)
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(frame); err != nil {
		log.Printf("router: direct delivery failed receiver=%s id=%s: %v", msg.ReceiverID, msg.ID, err)
	}
}

// deliverRoom updates the room's last-message pointer and pushes the
// envelope to every subscribed connection, the sender's included — group
// chats do not rely on self-echo suppression. A failed pointer update is
// logged but does not block fanout: the envelope itself is already durable.
func (r *Router) deliverRoom(ctx context.Context, msg *protocol.Message, frame []byte) {
	if err := r.store.UpdateRoomLastMessage(ctx, msg.RoomID, msg.ID, msg.CreatedAt); err != nil {
		log.Printf("router: last-message update failed room=%s id=%s: %v", msg.RoomID, msg.ID, err)
	}

	for _, conn := range r.rooms.Members(msg.RoomID) {
		if err := conn.WriteMessage(frame); err != nil {
			log.Printf("router: room delivery failed session=%s room=%s id=%s: %v",
				conn.SessionID(), msg.RoomID, msg.ID, err)
		}
	}
}

// sendError reports a failed send back to the originating connection only.
func (r *Router) sendError(conn presence.Conn, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeMessageError, protocol.MessageErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("router: failed to build message-error code=%s: %v", code, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("router: failed to send message-error session=%s: %v", conn.SessionID(), err)
	}
}
