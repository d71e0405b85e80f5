// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package ws

import (
	"sync"
)

// Registry maps a user ID to the set of that user's open, authenticated
// connections. It is the subsystem's only shared mutable state; all
// mutation goes through Register and Unregister, which serialize the
// three producers of registry changes (handshake success, connection
// close, heartbeat eviction) behind one mutex.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[*Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[*Conn]struct{}),
	}
}

// Register adds a connection under a user. It never fails.
func (r *Registry) Register(userID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.users[userID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a connection from whatever user set it belongs to.
// Idempotent: removing an absent connection is a no-op. A user key
// whose set empties is dropped entirely.
func (r *Registry) Unregister(c *Conn) {
	userID := c.UserID()
	if userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// IsOnline reports whether the user has at least one authenticated
// connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectedUserCount returns the number of distinct users connected.
func (r *Registry) ConnectedUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// connsFor returns a snapshot of the user's connections. Iteration
// order is unspecified.
func (r *Registry) connsFor(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// allConns returns a snapshot of every registered connection across all
// users.
func (r *Registry) allConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Conn
	for _, set := range r.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}
