package router

import (
	"context"
	"log"
	"time"

	"github.com/parley/chat-app/internal/presence"
	"github.com/parley/chat-app/internal/protocol"
)

// ReceiptStore is the slice of the persistence collaborator the read-receipt
// aggregator depends on.
type ReceiptStore interface {
	// BatchMarkRead appends a read marker for each message and flips the
	// envelopes' read state in a single batched update.
	BatchMarkRead(ctx context.Context, messageIDs []string, readerID string, readAt time.Time) error
}

// Receipts aggregates batched read receipts. The confirmation goes back to
// the requesting connection only — the original sender is not pushed a
// separate read notification and learns of read state through client-side
// reconciliation.
type Receipts struct {
	store ReceiptStore
}

// NewReceipts creates a Receipts aggregator over the given store.
func NewReceipts(store ReceiptStore) *Receipts {
	return &Receipts{store: store}
}

// MarkRead records that readerID has read the given messages and confirms
// the whole batch back to the requester with messages-marked-read. An empty
// batch is a no-op. A failed batch update is surfaced to the requester as
// message-error and nothing is marked.
func (r *Receipts) MarkRead(ctx context.Context, requester presence.Conn, messageIDs []string, readerID string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	readAt := time.Now()

	if err := r.store.BatchMarkRead(ctx, messageIDs, readerID, readAt); err != nil {
		log.Printf("router: batch mark-read failed reader=%s count=%d: %v", readerID, len(messageIDs), err)
		data, berr := protocol.NewServerMessage(protocol.TypeMessageError, protocol.MessageErrorMsg{
			Code:    "persistence_failure",
			Message: "failed to mark messages as read",
		})
		if berr == nil {
			if werr := requester.WriteMessage(data); werr != nil {
				log.Printf("router: failed to send mark-read error session=%s: %v", requester.SessionID(), werr)
			}
		}
		return err
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessagesMarkedRead, protocol.MessagesMarkedReadMsg{
		MessageIDs: messageIDs,
		ReaderID:   readerID,
		ReadAt:     readAt.Unix(),
	})
	if err != nil {
		log.Printf("router: failed to build messages-marked-read reader=%s: %v", readerID, err)
		return err
	}
	if err := requester.WriteMessage(data); err != nil {
		log.Printf("router: mark-read confirmation failed session=%s: %v", requester.SessionID(), err)
	}
	return nil
}
