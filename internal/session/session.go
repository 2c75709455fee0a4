// Package session manages per-connection sessions. It handles session
// creation, lookup, expiration, and storage of ephemeral connection state
// backed by Redis.
package session
