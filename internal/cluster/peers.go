package cluster

import (
	"sort"
	"sync"
	"time"

	"cafesync/internal/netx"
	"cafesync/internal/protocol"
)

type PeerState int

const (
	Idle PeerState = iota
	Connecting
	Connected
)

func (s PeerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

func (s PeerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PeerStatus is a verbose view of one peer for the CLI and HTTP surfaces.
type PeerStatus struct {
	ID    protocol.PeerID `json:"id"`
	Name  string          `json:"name"`
	Role  protocol.Role   `json:"role"`
	Addr  string          `json:"addr"`
	State PeerState       `json:"state"`
	Since time.Time       `json:"since"`
}

// PeerTable is the engine's view of every peer it has heard of. Only the
// engine goroutine writes it; anyone may read.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[protocol.PeerID]*PeerStatus
	now   func() time.Time
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[protocol.PeerID]*PeerStatus), now: time.Now}
}

func (t *PeerTable) State(id protocol.PeerID) PeerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[id]; ok {
		return p.State
	}
	return Idle
}

func (t *PeerTable) Get(id protocol.PeerID) (PeerStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.peers[id]; ok {
		return *p, true
	}
	return PeerStatus{}, false
}

// Set moves a peer to state, creating it if needed. Since only changes when
// the state does.
func (t *PeerTable) Set(info netx.PeerInfo, state PeerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[info.ID]
	if !ok {
		p = &PeerStatus{ID: info.ID}
		t.peers[info.ID] = p
	}
	if info.Name != "" {
		p.Name = info.Name
	}
	if info.Role != "" {
		p.Role = info.Role
	}
	if info.Addr != "" {
		p.Addr = info.Addr
	}
	if !ok || p.State != state {
		p.State = state
		p.Since = t.now()
	}
}

// Connected returns the ids of connected peers with the given role, or of
// every connected peer when role is empty.
func (t *PeerTable) Connected(role protocol.Role) []protocol.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []protocol.PeerID
	for id, p := range t.peers {
		if p.State == Connected && (role == "" || p.Role == role) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *PeerTable) Reset() {
	t.mu.Lock()
	t.peers = make(map[protocol.PeerID]*PeerStatus)
	t.mu.Unlock()
}

// List returns a copy of every peer sorted by id.
func (t *PeerTable) List() []PeerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerStatus, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
