package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/discovery"
	"cafesync/internal/model"
	"cafesync/internal/netx"
	"cafesync/internal/protocol"
)

const (
	DefaultDialTimeout = 10 * time.Second
	eventBuffer        = 256
	commandBuffer      = 256
)

// ErrNoPeers means a message had nobody to go to and was dropped.
var ErrNoPeers = errors.New("no connected peer to send to")

// Discovery is the part of discovery.Coordinator the engine drives.
type Discovery interface {
	StartAdvertise() error
	StartBrowse() error
	StopAdvertise()
	StopBrowse()
	Stop()
	Restart(cooldown time.Duration)
	State() discovery.State
	ClearError()
}

type EngineConfig struct {
	Role            protocol.Role
	DialTimeout     time.Duration
	RestartCooldown time.Duration
	ForceCooldown   time.Duration
}

type EventKind int

const (
	PeerJoined EventKind = iota + 1
	PeerLeft
	CatalogReceived
	PresentationReceived
	OrderReceived
	OrderStatusReceived
	StaffCallReceived
)

func (k EventKind) String() string {
	switch k {
	case PeerJoined:
		return "peer-joined"
	case PeerLeft:
		return "peer-left"
	case CatalogReceived:
		return "catalog"
	case PresentationReceived:
		return "presentation"
	case OrderReceived:
		return "order"
	case OrderStatusReceived:
		return "order-status"
	case StaffCallReceived:
		return "staff-call"
	}
	return "unknown"
}

// Event is what the engine hands to the role controller. Only the field
// matching Kind is set.
type Event struct {
	Kind         EventKind
	Peer         netx.PeerInfo
	Catalog      []model.CatalogItem
	Presentation model.PresentationProfile
	Order        model.OrderTicket
	Status       protocol.OrderStatusUpdate
	StaffCall    model.StaffCall
}

// Status is the operator view of the engine.
type Status struct {
	Role      protocol.Role   `json:"role"`
	Self      netx.PeerInfo   `json:"self"`
	Peers     []PeerStatus    `json:"peers"`
	Discovery discovery.State `json:"-"`
	LastError error           `json:"-"`
}

type dial struct {
	id     uint64
	cancel context.CancelFunc
}

// Engine owns per-peer session state and the push/pull policy of one
// device. Run is the only goroutine that mutates it; the public methods
// post closures to Run and return without waiting.
type Engine struct {
	cfg     EngineConfig
	session netx.Session
	disc    Discovery
	log     zerolog.Logger

	cmds   chan func()
	events chan Event
	peers  *PeerTable
	router *Router

	// owned by Run
	dials    map[protocol.PeerID]dial
	attempt  uint64
	catalog  []byte
	presentn []byte
	origins  map[string]protocol.PeerID
	ctx      context.Context

	done chan struct{}

	errMu   sync.Mutex
	lastErr error
}

func NewEngine(cfg EngineConfig, session netx.Session, disc Discovery, log zerolog.Logger) *Engine {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.RestartCooldown <= 0 {
		cfg.RestartCooldown = discovery.DefaultCooldown
	}
	if cfg.ForceCooldown <= 0 {
		cfg.ForceCooldown = discovery.DefaultForceCooldown
	}
	e := &Engine{
		cfg:     cfg,
		session: session,
		disc:    disc,
		log:     log.With().Str("component", "engine").Logger(),
		cmds:    make(chan func(), commandBuffer),
		events:  make(chan Event, eventBuffer),
		peers:   NewPeerTable(),
		router:  NewRouter(),
		dials:   make(map[protocol.PeerID]dial),
		origins: make(map[string]protocol.PeerID),
		ctx:     context.Background(),
		done:    make(chan struct{}),
	}
	e.registerHandlers()
	return e
}

// registerHandlers installs the kinds this role accepts.
func (e *Engine) registerHandlers() {
	switch e.cfg.Role {
	case protocol.RoleCoordinator:
		e.router.Register(protocol.KindOrder, func(from protocol.PeerID, m protocol.Message) {
			t := m.(protocol.OrderSubmission).Ticket
			e.origins[t.ID] = from
			e.emit(Event{Kind: OrderReceived, Peer: e.info(from), Order: t})
		})
		e.router.Register(protocol.KindStaffCall, func(from protocol.PeerID, m protocol.Message) {
			e.emit(Event{Kind: StaffCallReceived, Peer: e.info(from), StaffCall: m.(protocol.StaffCallNotice).Call})
		})
	case protocol.RoleTerminal:
		e.router.Register(protocol.KindCatalog, func(from protocol.PeerID, m protocol.Message) {
			e.emit(Event{Kind: CatalogReceived, Peer: e.info(from), Catalog: m.(protocol.CatalogUpdate).Items})
		})
		e.router.Register(protocol.KindPresentation, func(from protocol.PeerID, m protocol.Message) {
			e.emit(Event{Kind: PresentationReceived, Peer: e.info(from), Presentation: m.(protocol.PresentationUpdate).Profile})
		})
		e.router.Register(protocol.KindOrderStatus, func(from protocol.PeerID, m protocol.Message) {
			e.emit(Event{Kind: OrderStatusReceived, Peer: e.info(from), Status: m.(protocol.OrderStatusUpdate)})
		})
	}
}

func (e *Engine) Events() <-chan Event { return e.events }
func (e *Engine) Role() protocol.Role  { return e.cfg.Role }
func (e *Engine) Peers() *PeerTable    { return e.peers }

// Run processes transport events and commands until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	defer func() {
		close(e.done)
		e.cancelDials()
		if e.disc != nil {
			e.disc.Stop()
		}
	}()
	in := e.session.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			e.handle(ev)
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

func (e *Engine) post(cmd func()) {
	select {
	case e.cmds <- cmd:
	case <-e.done:
	}
}

// emit blocks until the controller takes the event or the engine stops.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

func (e *Engine) info(id protocol.PeerID) netx.PeerInfo {
	if p, ok := e.peers.Get(id); ok {
		return netx.PeerInfo{ID: p.ID, Name: p.Name, Role: p.Role, Addr: p.Addr}
	}
	return netx.PeerInfo{ID: id}
}

func (e *Engine) handle(ev netx.Event) {
	switch ev.Type {
	case netx.PeerConnected:
		e.peers.Set(ev.Peer, Connected)
		e.log.Info().Str("peer", ev.Peer.ID.Short()).Str("name", ev.Peer.Name).Str("role", string(ev.Peer.Role)).Msg("peer connected")
		if e.cfg.Role == protocol.RoleCoordinator && ev.Peer.Role == protocol.RoleTerminal {
			e.reconcile(ev.Peer.ID)
		}
		e.emit(Event{Kind: PeerJoined, Peer: ev.Peer})
	case netx.PeerDisconnected:
		e.peers.Set(ev.Peer, Idle)
		e.log.Info().Str("peer", ev.Peer.ID.Short()).Msg("peer disconnected")
		e.emit(Event{Kind: PeerLeft, Peer: ev.Peer})
	case netx.MessageReceived:
		msg, err := protocol.Decode(ev.Payload)
		if err != nil {
			e.log.Warn().Err(err).Str("peer", ev.Peer.ID.Short()).Int("bytes", len(ev.Payload)).Msg("dropping undecodable payload")
			return
		}
		if !e.router.Route(ev.Peer.ID, msg) {
			e.log.Warn().Str("peer", ev.Peer.ID.Short()).Str("kind", string(msg.Kind())).Str("role", string(e.cfg.Role)).Msg("dropping message this role does not accept")
		}
	}
}

// reconcile brings a newly connected terminal up to date: catalog first,
// then presentation, from the cached encodings.
func (e *Engine) reconcile(id protocol.PeerID) {
	for _, frame := range [][]byte{e.catalog, e.presentn} {
		if frame == nil {
			continue
		}
		if err := e.session.Send(frame, id); err != nil {
			e.fail("reconcile", err)
			return
		}
	}
	e.log.Debug().Str("peer", id.Short()).Msg("reconciled")
}

func (e *Engine) fail(op string, err error) {
	err = fmt.Errorf("%s: %w", op, err)
	e.log.Warn().Err(err).Msg("send failed")
	e.errMu.Lock()
	e.lastErr = err
	e.errMu.Unlock()
}

func (e *Engine) LastError() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

func (e *Engine) ClearError() {
	e.errMu.Lock()
	e.lastErr = nil
	e.errMu.Unlock()
	if e.disc != nil {
		e.disc.ClearError()
	}
}

// Found is the discovery callback. It starts a bounded connection attempt
// to a peer of the opposite role unless one is already under way.
func (e *Engine) Found(a discovery.Announcement) {
	e.post(func() { e.connect(a) })
}

func (e *Engine) connect(a discovery.Announcement) {
	if a.Role == e.cfg.Role {
		return
	}
	if e.peers.State(a.Peer) != Idle {
		return
	}
	e.attempt++
	id := e.attempt
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.DialTimeout)
	e.dials[a.Peer] = dial{id: id, cancel: cancel}
	info := netx.PeerInfo{ID: a.Peer, Name: a.Name, Role: a.Role, Addr: a.Addr}
	e.peers.Set(info, Connecting)
	e.log.Info().Str("peer", a.Peer.Short()).Str("addr", a.Addr).Msg("connecting")

	go func() {
		got, err := e.session.Dial(ctx, a.Addr)
		cancel()
		e.post(func() { e.dialed(info, id, got, err) })
	}()
}

func (e *Engine) dialed(info netx.PeerInfo, id uint64, got protocol.PeerID, err error) {
	d, ok := e.dials[info.ID]
	current := ok && d.id == id
	if current {
		delete(e.dials, info.ID)
	}
	if err != nil {
		if current && e.peers.State(info.ID) == Connecting {
			e.peers.Set(info, Idle)
		}
		e.log.Warn().Err(err).Str("peer", info.ID.Short()).Msg("connection attempt failed")
		return
	}
	if !current {
		e.log.Info().Str("peer", got.Short()).Msg("dropping connection completed after cancel")
		e.session.Disconnect(got)
		if e.peers.State(got) == Connecting {
			e.peers.Set(netx.PeerInfo{ID: got}, Idle)
		}
		return
	}
	// the hello named a different peer; free the announced id
	if got != info.ID && e.peers.State(info.ID) == Connecting {
		e.log.Warn().Str("announced", info.ID.Short()).Str("peer", got.Short()).Msg("peer answered with a different id")
		e.peers.Set(info, Idle)
	}
}

func (e *Engine) cancelDials() {
	for peer, d := range e.dials {
		d.cancel()
		delete(e.dials, peer)
		if e.peers.State(peer) == Connecting {
			e.peers.Set(netx.PeerInfo{ID: peer}, Idle)
		}
	}
}

// PublishCatalog caches the full catalog and sends it to every connected
// terminal.
func (e *Engine) PublishCatalog(items []model.CatalogItem) error {
	frame, err := protocol.Encode(protocol.CatalogUpdate{Items: items})
	if err != nil {
		return err
	}
	e.post(func() {
		e.catalog = frame
		e.broadcast("catalog", frame)
	})
	return nil
}

func (e *Engine) PublishPresentation(p model.PresentationProfile) error {
	frame, err := protocol.Encode(protocol.PresentationUpdate{Profile: p})
	if err != nil {
		return err
	}
	e.post(func() {
		e.presentn = frame
		e.broadcast("presentation", frame)
	})
	return nil
}

func (e *Engine) broadcast(what string, frame []byte) {
	to := e.peers.Connected(protocol.RoleTerminal)
	if len(to) == 0 {
		return
	}
	if err := e.session.Send(frame, to...); err != nil {
		e.fail("publish "+what, err)
	}
}

// SubmitOrder sends the ticket to every connected coordinator. With none
// connected the ticket is not sent and ErrNoPeers is returned; there is no
// queue.
func (e *Engine) SubmitOrder(t model.OrderTicket) error {
	return e.toCoordinators("submit order", protocol.OrderSubmission{Ticket: t})
}

func (e *Engine) SendStaffCall(c model.StaffCall) error {
	return e.toCoordinators("staff call", protocol.StaffCallNotice{Call: c})
}

func (e *Engine) toCoordinators(op string, m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if len(e.peers.Connected(protocol.RoleCoordinator)) == 0 {
		e.fail(op, ErrNoPeers)
		return ErrNoPeers
	}
	e.post(func() {
		to := e.peers.Connected(protocol.RoleCoordinator)
		if len(to) == 0 {
			e.fail(op, ErrNoPeers)
			return
		}
		if err := e.session.Send(frame, to...); err != nil {
			e.fail(op, err)
		}
	})
	return nil
}

// PushOrderStatus tells the terminal that submitted the order about its new
// status, if that terminal is still connected.
func (e *Engine) PushOrderStatus(u protocol.OrderStatusUpdate) error {
	frame, err := protocol.Encode(u)
	if err != nil {
		return err
	}
	e.post(func() {
		peer, ok := e.origins[u.OrderID]
		if !ok {
			e.log.Debug().Str("order", u.OrderID).Msg("no origin for status push")
			return
		}
		if e.peers.State(peer) != Connected {
			e.log.Info().Str("order", u.OrderID).Str("peer", peer.Short()).Msg("origin offline, status not pushed")
			return
		}
		if err := e.session.Send(frame, peer); err != nil {
			e.fail("push status", err)
		}
	})
	return nil
}

// RememberOrigin records which peer submitted an order, for orders loaded
// from storage.
func (e *Engine) RememberOrigin(orderID string, peer protocol.PeerID) {
	if peer == "" {
		return
	}
	e.post(func() { e.origins[orderID] = peer })
}

// StartDiscovery starts the activities a role wants: coordinators advertise
// and browse, terminals browse.
func (e *Engine) StartDiscovery() error {
	var errs []error
	if e.cfg.Role == protocol.RoleCoordinator {
		errs = append(errs, e.disc.StartAdvertise())
	}
	errs = append(errs, e.disc.StartBrowse())
	return errors.Join(errs...)
}

func (e *Engine) StartAdvertise() error { return e.disc.StartAdvertise() }
func (e *Engine) StopAdvertise()        { e.disc.StopAdvertise() }
func (e *Engine) StartBrowse() error    { return e.disc.StartBrowse() }

// StopBrowse also abandons connection attempts in flight.
func (e *Engine) StopBrowse() {
	e.disc.StopBrowse()
	e.post(e.cancelDials)
}

func (e *Engine) DisconnectAll() {
	e.post(func() {
		e.cancelDials()
		e.session.DisconnectAll()
	})
}

// Restart stops discovery and brings it back after the restart cooldown.
func (e *Engine) Restart() {
	e.post(e.cancelDials)
	e.disc.Restart(e.cfg.RestartCooldown)
}

// ForceRestart also drops every session and forgets all peer state before
// the longer cooldown.
func (e *Engine) ForceRestart() {
	e.disc.Stop()
	e.post(func() {
		e.cancelDials()
		e.session.DisconnectAll()
		e.peers.Reset()
	})
	e.disc.Restart(e.cfg.ForceCooldown)
}

func (e *Engine) Status() Status {
	st := Status{
		Role:      e.cfg.Role,
		Self:      e.session.Self(),
		Peers:     e.peers.List(),
		LastError: e.LastError(),
	}
	if e.disc != nil {
		st.Discovery = e.disc.State()
	}
	return st
}
