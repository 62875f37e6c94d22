package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/discovery"
	"cafesync/internal/netx"
	"cafesync/internal/protocol"
)

type NodeConfig struct {
	Service         string
	Role            protocol.Role
	Settle          time.Duration
	DialTimeout     time.Duration
	RestartCooldown time.Duration
	ForceCooldown   time.Duration
}

// Node wires a transport session, a discovery medium and the sync engine
// for one device.
type Node struct {
	ID     protocol.PeerID
	cfg    NodeConfig
	net    netx.Session
	medium discovery.Medium
	reach  discovery.Reachability
	log    zerolog.Logger

	disc *discovery.Coordinator
	eng  *Engine
}

func NewNode(cfg NodeConfig, session netx.Session, medium discovery.Medium, reach discovery.Reachability, log zerolog.Logger) *Node {
	return &Node{
		ID: session.Self().ID, cfg: cfg, net: session, medium: medium, reach: reach,
		log: log.With().Str("role", string(cfg.Role)).Str("peer", session.Self().ID.Short()).Logger(),
	}
}

// Start brings up the session, then the engine, then discovery. Discovery
// failures are not fatal: they are logged, kept as the last error, and the
// operator can retry.
func (n *Node) Start(ctx context.Context) error {
	if !discovery.ValidateIdentifier(n.cfg.Service) {
		return &discovery.StartError{Op: "start", Kind: discovery.KindInvalidIdentifier, Err: discovery.ErrInvalidIdentifier}
	}
	if err := n.net.Start(ctx); err != nil {
		return err
	}
	self := n.net.Self()
	var eng *Engine
	n.disc = discovery.NewCoordinator(discovery.Options{
		Service:   n.cfg.Service,
		Self:      discovery.Announcement{Peer: self.ID, Name: self.Name, Role: self.Role, Addr: self.Addr},
		Settle:    n.cfg.Settle,
		Advertise: n.cfg.Role == protocol.RoleCoordinator,
		Browse:    true,
	}, n.medium, n.reach, func(a discovery.Announcement) { eng.Found(a) }, n.log)
	eng = NewEngine(EngineConfig{
		Role:            n.cfg.Role,
		DialTimeout:     n.cfg.DialTimeout,
		RestartCooldown: n.cfg.RestartCooldown,
		ForceCooldown:   n.cfg.ForceCooldown,
	}, n.net, n.disc, n.log)
	n.eng = eng
	go eng.Run(ctx)

	if err := eng.StartDiscovery(); err != nil {
		var se *discovery.StartError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		n.log.Warn().Err(err).Msg("discovery did not start; retry from the operator surface")
	}
	return nil
}

func (n *Node) Engine() *Engine       { return n.eng }
func (n *Node) Session() netx.Session { return n.net }

func (n *Node) Close() error {
	if n.disc != nil {
		n.disc.Stop()
	}
	return n.net.Close()
}
