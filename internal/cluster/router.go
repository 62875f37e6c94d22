package cluster

import (
	"sync"

	"cafesync/internal/protocol"
)

// Handler consumes one decoded message from a peer.
type Handler func(from protocol.PeerID, msg protocol.Message)

// Router delivers decoded messages to the handler registered for their
// kind. A role registers only the kinds it accepts; everything else is
// unroutable and gets dropped by the caller.
type Router struct {
	mu     sync.RWMutex
	byKind map[protocol.Kind]Handler
}

func NewRouter() *Router {
	return &Router{byKind: make(map[protocol.Kind]Handler)}
}

func (r *Router) Register(k protocol.Kind, h Handler) {
	r.mu.Lock()
	r.byKind[k] = h
	r.mu.Unlock()
}

func (r *Router) Route(from protocol.PeerID, msg protocol.Message) bool {
	r.mu.RLock()
	h, ok := r.byKind[msg.Kind()]
	r.mu.RUnlock()
	if ok {
		h(from, msg)
	}
	return ok
}
