package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// PeerID identifies one device for the lifetime of its process.
type PeerID string

func NewPeerID() PeerID { return PeerID("p-" + uuid.NewString()) }

func (p PeerID) Short() string {
	if len(p) > 10 {
		return string(p[:10])
	}
	return string(p)
}

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleTerminal    Role = "terminal"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCoordinator, RoleTerminal:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q (want coordinator or terminal)", s)
}
