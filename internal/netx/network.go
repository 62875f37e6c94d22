package netx

import (
	"context"
	"errors"

	"cafesync/internal/protocol"
)

var (
	ErrNotConnected = errors.New("peer not connected")
	ErrQueueFull    = errors.New("send queue full")
	ErrClosed       = errors.New("session closed")
	ErrSelfDial     = errors.New("dialed self")
)

// PeerInfo is what a peer says about itself in the session handshake.
type PeerInfo struct {
	ID   protocol.PeerID `json:"id"`
	Name string          `json:"name"`
	Role protocol.Role   `json:"role"`
	Addr string          `json:"addr"`
}

type EventType int

const (
	PeerConnected EventType = iota + 1
	PeerDisconnected
	MessageReceived
)

func (t EventType) String() string {
	switch t {
	case PeerConnected:
		return "peer-connected"
	case PeerDisconnected:
		return "peer-disconnected"
	case MessageReceived:
		return "message"
	}
	return "unknown"
}

type Event struct {
	Type    EventType
	Peer    PeerInfo
	Payload []byte
}

// Session is an unreliable, peer-addressed message channel. Send never
// blocks and gives no delivery confirmation; messages to one peer arrive in
// the order they were sent while that peer stays connected.
type Session interface {
	Self() PeerInfo
	Start(ctx context.Context) error
	// Dial connects to the peer listening at addr and returns its id.
	Dial(ctx context.Context, addr string) (protocol.PeerID, error)
	// Send queues payload for the given peers, or every connected peer
	// when none are given.
	Send(payload []byte, to ...protocol.PeerID) error
	Events() <-chan Event
	Disconnect(id protocol.PeerID)
	DisconnectAll()
	Close() error
}
