// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package ws

import (
	"sync"
)

// connSet tracks every open transport, authenticated or not, so the
// heartbeat sweep can probe connections that have not completed the
// handshake.
type connSet struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[*Conn]struct{})}
}

func (s *connSet) add(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

// remove is idempotent; removing an absent connection is a no-op.
func (s *connSet) remove(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *connSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// snapshot returns the current members; iteration order is unspecified.
func (s *connSet) snapshot() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}
