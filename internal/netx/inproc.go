package netx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cafesync/internal/protocol"
)

// Mesh is an in-process network. Every Inproc session joined to the same
// Mesh can dial the others by peer id. Handy for tests and single-process
// demos without sockets.
type Mesh struct {
	mu    sync.Mutex
	nodes map[protocol.PeerID]*Inproc
	links map[protocol.PeerID]map[protocol.PeerID]bool

	// DialDelay is applied to every Dial before the link is made; the
	// dial context can cancel it.
	DialDelay time.Duration
}

func NewMesh() *Mesh {
	return &Mesh{
		nodes: make(map[protocol.PeerID]*Inproc),
		links: make(map[protocol.PeerID]map[protocol.PeerID]bool),
	}
}

// Join creates a session for info. Its dial address is its peer id.
func (m *Mesh) Join(info PeerInfo) *Inproc {
	info.Addr = string(info.ID)
	n := &Inproc{mesh: m, self: info, events: make(chan Event, 1024)}
	m.mu.Lock()
	m.nodes[info.ID] = n
	m.mu.Unlock()
	return n
}

// Connected reports whether a and b currently share a link.
func (m *Mesh) Connected(a, b protocol.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[a][b]
}

func (m *Mesh) link(a, b *Inproc) {
	if m.links[a.self.ID] == nil {
		m.links[a.self.ID] = make(map[protocol.PeerID]bool)
	}
	if m.links[b.self.ID] == nil {
		m.links[b.self.ID] = make(map[protocol.PeerID]bool)
	}
	m.links[a.self.ID][b.self.ID] = true
	m.links[b.self.ID][a.self.ID] = true
	a.push(Event{Type: PeerConnected, Peer: b.self})
	b.push(Event{Type: PeerConnected, Peer: a.self})
}

func (m *Mesh) unlink(a, b protocol.PeerID) {
	if !m.links[a][b] {
		return
	}
	delete(m.links[a], b)
	delete(m.links[b], a)
	na, nb := m.nodes[a], m.nodes[b]
	if na != nil && nb != nil {
		na.push(Event{Type: PeerDisconnected, Peer: nb.self})
		nb.push(Event{Type: PeerDisconnected, Peer: na.self})
	}
}

// Inproc is one device's session on a Mesh.
type Inproc struct {
	mesh   *Mesh
	self   PeerInfo
	events chan Event
	closed bool
}

func (n *Inproc) Self() PeerInfo                  { return n.self }
func (n *Inproc) Events() <-chan Event            { return n.events }
func (n *Inproc) Start(ctx context.Context) error { return nil }

// push never blocks; a full inbox drops the event like a lossy link would.
func (n *Inproc) push(ev Event) {
	select {
	case n.events <- ev:
	default:
	}
}

func (n *Inproc) Dial(ctx context.Context, addr string) (protocol.PeerID, error) {
	if d := n.mesh.DialDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m := n.mesh
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.closed {
		return "", ErrClosed
	}
	remote, ok := m.nodes[protocol.PeerID(addr)]
	if !ok || remote.closed {
		return "", fmt.Errorf("dial %s: no such peer", addr)
	}
	if remote == n {
		return "", ErrSelfDial
	}
	if !m.links[n.self.ID][remote.self.ID] {
		m.link(n, remote)
	}
	return remote.self.ID, nil
}

func (n *Inproc) Send(payload []byte, to ...protocol.PeerID) error {
	m := n.mesh
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if len(to) == 0 {
		for id := range m.links[n.self.ID] {
			to = append(to, id)
		}
	}
	var errs []error
	for _, id := range to {
		remote := m.nodes[id]
		if remote == nil || !m.links[n.self.ID][id] {
			errs = append(errs, fmt.Errorf("%s: %w", id, ErrNotConnected))
			continue
		}
		b := make([]byte, len(payload))
		copy(b, payload)
		select {
		case remote.events <- Event{Type: MessageReceived, Peer: n.self, Payload: b}:
		default:
			errs = append(errs, fmt.Errorf("%s: %w", id, ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

func (n *Inproc) Disconnect(id protocol.PeerID) {
	n.mesh.mu.Lock()
	n.mesh.unlink(n.self.ID, id)
	n.mesh.mu.Unlock()
}

func (n *Inproc) DisconnectAll() {
	m := n.mesh
	m.mu.Lock()
	for id := range m.links[n.self.ID] {
		m.unlink(n.self.ID, id)
	}
	m.mu.Unlock()
}

func (n *Inproc) Close() error {
	n.DisconnectAll()
	n.mesh.mu.Lock()
	n.closed = true
	delete(n.mesh.nodes, n.self.ID)
	n.mesh.mu.Unlock()
	return nil
}
