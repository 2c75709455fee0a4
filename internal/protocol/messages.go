// Package protocol defines the WebSocket message types and structures used for
// communication between chat clients and the server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeUserOnline  = "user-online"
	TypeJoinRoom    = "join-room"
	TypeLeaveRoom   = "leave-room"
	TypeSendMessage = "send-message"
	TypeTypingStart = "typing-start"
	TypeTypingStop  = "typing-stop"
	TypeMarkAsRead  = "mark-as-read"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated     = "session-created"
	TypeUserStatusChange   = "user-status-change"
	TypeReceiveMessage     = "receive-message"
	TypeMessageSent        = "message-sent"
	TypeMessageError       = "message-error"
	TypeUserTyping         = "user-typing"
	TypeUserStoppedTyping  = "user-stopped-typing"
	TypeMessagesMarkedRead = "messages-marked-read"
	TypeError              = "error"
	TypePong               = "pong"
)

// Message content kinds carried in the message_type field of an envelope.
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
)

// ---------------------------------------------------------------------------
// Message envelope
// ---------------------------------------------------------------------------

// Message is the chat message envelope. It is both the wire payload of
// receive-message / message-sent events (with the type discriminator injected
// by NewServerMessage) and the record shape the persistence layer stores.
// Exactly one of ReceiverID (direct) or RoomID (group) is set on a valid
// envelope. ID and CreatedAt are assigned at persistence time.
type Message struct {
	ID          string     `json:"id,omitempty"`
	SenderID    string     `json:"sender_id"`
	ReceiverID  string     `json:"receiver_id,omitempty"`
	RoomID      string     `json:"room_id,omitempty"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	FileURL     string     `json:"file_url,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	FileSize    int64      `json:"file_size,omitempty"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// UserOnlineMsg is the identity handshake: it binds a user identity to the
// current connection and marks the user online.
type UserOnlineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// JoinRoomMsg subscribes the connection to a room's live fanout.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMsg removes the connection from a room's live fanout.
type LeaveRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMessageMsg carries an outbound chat message. Exactly one of ReceiverID
// or RoomID must be set.
type SendMessageMsg struct {
	Type        string `json:"type"`
	SenderID    string `json:"sender_id"`
	ReceiverID  string `json:"receiver_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// TypingStartMsg signals the sender began typing, addressed to a peer or room.
type TypingStartMsg struct {
	Type       string `json:"type"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
}

// TypingStopMsg signals the sender stopped typing.
type TypingStopMsg struct {
	Type       string `json:"type"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
}

// MarkAsReadMsg marks a batch of messages as read by the given user.
type MarkAsReadMsg struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
	UserID     string   `json:"user_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is accepted.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// UserStatusChangeMsg announces a presence transition to all connections.
type UserStatusChangeMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// MessageErrorMsg reports a failed send back to the originating connection.
type MessageErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserTypingMsg relays a peer's typing-start signal.
type UserTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	RoomID string `json:"room_id,omitempty"`
}

// UserStoppedTypingMsg relays a peer's typing-stop signal.
type UserStoppedTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	RoomID string `json:"room_id,omitempty"`
}

// MessagesMarkedReadMsg confirms a batched read receipt to the requester.
type MessagesMarkedReadMsg struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id"`
	ReadAt     int64    `json:"read_at"`
}

// ErrorMsg is sent by the server to communicate a transport-level error
// condition (malformed frame, unsupported type).
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeUserOnline:
		var m UserOnlineMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart:
		var m TypingStartMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStop:
		var m TypingStopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkAsRead:
		var m MarkAsReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs or a Message envelope; this
// function marshals it to JSON, injects the type field, and returns the
// final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
