// Package store is the persistence collaborator: Postgres-backed storage of
// message envelopes, durable user status, room last-message pointers, and
// read markers. It is plain CRUD — all routing invariants live in the
// in-memory engine, and the store is only consulted at the suspension points
// the engine defines.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/parley/chat-app/internal/protocol"
)

// Store manages chat persistence in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres with the given DSN, verifies the connection,
// and returns a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore creates a Store backed by an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle for use by the migration runner.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateMessage inserts the envelope and returns a copy with the assigned
// identifier and creation timestamp.
func (s *Store) CreateMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	const query = `
		INSERT INTO messages (sender_id, receiver_id, room_id, content, message_type, file_url, file_name, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	stored := *msg
	err := s.db.QueryRowContext(ctx, query,
		msg.SenderID,
		nullIfEmpty(msg.ReceiverID),
		nullIfEmpty(msg.RoomID),
		msg.Content,
		msg.MessageType,
		nullIfEmpty(msg.FileURL),
		nullIfEmpty(msg.FileName),
		nullIfZero(msg.FileSize),
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}
	return &stored, nil
}

// UpdateUserStatus upserts the durable online/offline record for a user.
func (s *Store) UpdateUserStatus(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	const query = `
		INSERT INTO user_status (user_id, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET is_online = $2, last_seen = $3`

	if _, err := s.db.ExecContext(ctx, query, userID, isOnline, lastSeen); err != nil {
		return fmt.Errorf("store: update user status: %w", err)
	}
	return nil
}

// UpdateRoomLastMessage upserts the room's last-message pointer.
func (s *Store) UpdateRoomLastMessage(ctx context.Context, roomID, messageID string, ts time.Time) error {
	const query = `
		INSERT INTO room_last_message (room_id, message_id, last_message_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id) DO UPDATE SET message_id = $2, last_message_at = $3`

	if _, err := s.db.ExecContext(ctx, query, roomID, messageID, ts); err != nil {
		return fmt.Errorf("store: update room last message: %w", err)
	}
	return nil
}

// BatchMarkRead appends a read marker for each message and flips the
// envelopes' read state, in a single transaction. Markers are append-only:
// re-reading an already read message is a no-op on the marker set.
func (s *Store) BatchMarkRead(ctx context.Context, messageIDs []string, readerID string, readAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mark-read tx: %w", err)
	}
	defer tx.Rollback()

	const insertMarkers = `
		INSERT INTO read_markers (message_id, reader_id, read_at)
		SELECT unnest($1::uuid[]), $2, $3
		ON CONFLICT (message_id, reader_id) DO NOTHING`

	if _, err := tx.ExecContext(ctx, insertMarkers, pq.Array(messageIDs), readerID, readAt); err != nil {
		return fmt.Errorf("store: insert read markers: %w", err)
	}

	const flipRead = `
		UPDATE messages SET is_read = TRUE, read_at = $2
		WHERE id = ANY($1::uuid[]) AND NOT is_read`

	if _, err := tx.ExecContext(ctx, flipRead, pq.Array(messageIDs), readAt); err != nil {
		return fmt.Errorf("store: flip read state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit mark-read tx: %w", err)
	}
	return nil
}

// Conversation returns the last limit direct messages exchanged between two
// users, in chronological order.
func (s *Store) Conversation(ctx context.Context, userA, userB string, limit int) ([]*protocol.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, sender_id, receiver_id, content, message_type,
		       COALESCE(file_url, ''), COALESCE(file_name, ''), COALESCE(file_size, 0),
		       is_read, read_at, created_at
		FROM (
			SELECT * FROM messages
			WHERE (sender_id = $1 AND receiver_id = $2)
			   OR (sender_id = $2 AND receiver_id = $1)
			ORDER BY created_at DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("store: conversation query: %w", err)
	}
	defer rows.Close()

	var messages []*protocol.Message
	for rows.Next() {
		var (
			msg    protocol.Message
			readAt sql.NullTime
		)
		if err := rows.Scan(
			&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.MessageType,
			&msg.FileURL, &msg.FileName, &msg.FileSize,
			&msg.IsRead, &readAt, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan conversation row: %w", err)
		}
		if readAt.Valid {
			msg.ReadAt = &readAt.Time
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: conversation rows: %w", err)
	}
	return messages, nil
}

// UnreadCount returns the number of unread direct messages addressed to the
// given user.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: unread count: %w", err)
	}
	return count, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIfZero(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
