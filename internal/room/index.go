// Package room maintains the ephemeral room subscription index: which live
// connections are currently joined to which room. Subscriptions are scoped
// to connection lifetime and are independent of the durable room membership
// lists held by the persistence service — joining performs no membership
// check.
package room

import (
	"sync"

	"github.com/parley/chat-app/internal/presence"
)

// Index is the room fanout index. It keeps a forward map (room -> member
// connections) for delivery and a reverse map (connection -> joined rooms)
// so that connection teardown removes exactly the rooms that connection
// held, without scanning every room.
type Index struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]presence.Conn // room ID -> session ID -> connection
	byConn map[string]map[string]struct{}      // session ID -> joined room IDs
}

// NewIndex creates an empty Index ready for use.
func NewIndex() *Index {
	return &Index{
		rooms:  make(map[string]map[string]presence.Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes conn to roomID. Joining a room the connection is already
// in is a no-op.
func (i *Index) Join(conn presence.Conn, roomID string) {
	sid := conn.SessionID()

	i.mu.Lock()
	defer i.mu.Unlock()

	members, ok := i.rooms[roomID]
	if !ok {
		members = make(map[string]presence.Conn)
		i.rooms[roomID] = members
	}
	members[sid] = conn

	joined, ok := i.byConn[sid]
	if !ok {
		joined = make(map[string]struct{})
		i.byConn[sid] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave removes conn from roomID. Leaving a room the connection is not in
// is a no-op. Rooms with no members left are dropped from the index.
func (i *Index) Leave(conn presence.Conn, roomID string) {
	sid := conn.SessionID()

	i.mu.Lock()
	defer i.mu.Unlock()

	i.leaveLocked(sid, roomID)
}

func (i *Index) leaveLocked(sid, roomID string) {
	if members, ok := i.rooms[roomID]; ok {
		delete(members, sid)
		if len(members) == 0 {
			delete(i.rooms, roomID)
		}
	}
	if joined, ok := i.byConn[sid]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(i.byConn, sid)
		}
	}
}

// Members returns a snapshot of the connections currently subscribed to
// roomID. The returned slice is safe to iterate without holding the lock.
func (i *Index) Members(roomID string) []presence.Conn {
	i.mu.RLock()
	defer i.mu.RUnlock()

	members := i.rooms[roomID]
	out := make([]presence.Conn, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// DropConnection removes conn from every room it has joined. Called by the
// connection lifecycle on teardown.
func (i *Index) DropConnection(conn presence.Conn) {
	sid := conn.SessionID()

	i.mu.Lock()
	defer i.mu.Unlock()

	for roomID := range i.byConn[sid] {
		i.leaveLocked(sid, roomID)
	}
}

// Rooms returns a snapshot of the room IDs the connection has joined.
func (i *Index) Rooms(conn presence.Conn) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	joined := i.byConn[conn.SessionID()]
	out := make([]string, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	return out
}

// RoomCount returns the number of rooms with at least one subscriber.
func (i *Index) RoomCount() int {
	i.mu.RLock()
	n := len(i.rooms)
	i.mu.RUnlock()
	return n
}
