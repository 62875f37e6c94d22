package discovery

import (
	"context"

	"cafesync/internal/protocol"
)

// Announcement is what an advertiser tells browsers about itself.
type Announcement struct {
	Service string          `json:"service"`
	Peer    protocol.PeerID `json:"peer"`
	Name    string          `json:"name"`
	Role    protocol.Role   `json:"role"`
	Addr    string          `json:"addr"`
}

// Medium is the underlying advertise/browse mechanism. Both calls start
// background work that lasts until ctx is cancelled and report start
// failures synchronously. Browsers may report the same peer repeatedly.
// A browse that dies before ctx is cancelled calls lost once.
type Medium interface {
	Advertise(ctx context.Context, a Announcement) error
	Browse(ctx context.Context, service string, found func(Announcement), lost func(error)) error
}
