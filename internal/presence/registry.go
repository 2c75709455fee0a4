// Package presence tracks which user identities currently hold a live
// connection and announces online/offline transitions. The Registry is the
// single source of truth for live routing decisions; durable status records
// are a side effect handled by the Publisher.
package presence

import "sync"

// Conn is the transport handle the registry tracks. *ws.Connection
// implements it.
type Conn interface {
	SessionID() string
	WriteMessage(data []byte) error
}

// Registry maps a user identity to its current live connection. At most one
// connection per identity: a second registration for the same user silently
// replaces the first (the old connection is not closed, it simply becomes
// unroutable).
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn   // user ID -> current connection
	owners map[string]string // session ID -> user ID reverse index
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		owners: make(map[string]string),
	}
}

// Register binds userID to conn, replacing any prior connection for that
// identity. It returns the replaced connection, or nil if the user had none.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	// If this connection previously identified as a different user, drop
	// that stale binding first so the reverse index stays one-to-one.
	if prevUser, ok := r.owners[conn.SessionID()]; ok && prevUser != userID {
		if cur, ok := r.byUser[prevUser]; ok && cur.SessionID() == conn.SessionID() {
			delete(r.byUser, prevUser)
		}
	}

	prev := r.byUser[userID]
	if prev != nil {
		delete(r.owners, prev.SessionID())
	}

	r.byUser[userID] = conn
	r.owners[conn.SessionID()] = userID

	if prev != nil && prev.SessionID() == conn.SessionID() {
		return nil
	}
	return prev
}

// Unregister removes the registry entry owned by conn, but only if conn is
// still the current connection for that user. A stale unregister (the user
// has since reconnected on a different connection) is a no-op. It returns
// the user identity that went offline and whether an entry was removed.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid := conn.SessionID()
	userID, ok := r.owners[sid]
	if !ok {
		return "", false
	}

	cur, ok := r.byUser[userID]
	if !ok || cur.SessionID() != sid {
		// Reconciliation: the reverse index pointed at a user whose current
		// connection is someone else. Clean the dangling entry and report
		// nothing went offline.
		delete(r.owners, sid)
		return "", false
	}

	delete(r.byUser, userID)
	delete(r.owners, sid)
	return userID, true
}

// Lookup returns the current connection for userID, or nil if the user is
// offline.
func (r *Registry) Lookup(userID string) Conn {
	r.mu.RLock()
	conn := r.byUser[userID]
	r.mu.RUnlock()
	return conn
}

// IsOnline reports whether userID currently has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.byUser[userID]
	r.mu.RUnlock()
	return ok
}

// UserOf returns the identity that owns the given connection, or "" if the
// connection has not completed the identity handshake.
func (r *Registry) UserOf(conn Conn) string {
	r.mu.RLock()
	userID := r.owners[conn.SessionID()]
	r.mu.RUnlock()
	return userID
}

// Count returns the number of users currently online.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}
