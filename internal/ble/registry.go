package ble

import (
	"sync"

	"github.com/chaz8081/pgpemu/internal/session"
)

type peerEntry struct {
	id   session.ConnID
	peer Peer
}

// registry maps stack peers to connection ids. Ids are never reused within a
// process so stale dispatch items cannot reach a new central.
type registry struct {
	mu     sync.Mutex
	next   session.ConnID
	byAddr map[string]peerEntry
	// latest is the address of the most recent connect, used for writes the
	// stack cannot attribute.
	latest string
}

func newRegistry() *registry {
	return &registry{byAddr: make(map[string]peerEntry)}
}

// add returns the id for peer, allocating one if it is new.
func (r *registry) add(peer Peer) (session.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := peer.Address()
	if e, ok := r.byAddr[addr]; ok {
		r.latest = addr
		return e.id, true
	}
	r.next++
	if r.next == 0 {
		r.next = 1
	}
	r.byAddr[addr] = peerEntry{id: r.next, peer: peer}
	r.latest = addr
	return r.next, false
}

func (r *registry) remove(addr string) (session.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	delete(r.byAddr, addr)
	if r.latest == addr {
		r.latest = ""
		for a := range r.byAddr {
			r.latest = a
			break
		}
	}
	return e.id, true
}

// resolve returns the id for addr. An empty addr resolves to the most
// recently connected peer.
func (r *registry) resolve(addr string) (session.ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if addr == "" {
		addr = r.latest
	}
	e, ok := r.byAddr[addr]
	return e.id, ok
}

func (r *registry) peer(id session.ConnID) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byAddr {
		if e.id == id {
			return e.peer, true
		}
	}
	return nil, false
}

func (r *registry) has(id session.ConnID) bool {
	_, ok := r.peer(id)
	return ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAddr)
}
