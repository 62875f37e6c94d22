package netx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 10 * time.Second
	sendQueueLen     = 256
)

// TCP implements Session over one TCP connection per peer. Each connection
// has its own bounded send queue drained by a writer goroutine, so Send
// returns immediately and per-peer order is kept.
type TCP struct {
	self   PeerInfo
	addr   string
	events chan Event
	log    zerolog.Logger

	ln      net.Listener
	closing chan struct{}

	mu     sync.RWMutex
	peers  map[protocol.PeerID]*tcpConn
	closed bool
}

type tcpConn struct {
	info PeerInfo
	c    net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (cn *tcpConn) close() {
	cn.once.Do(func() {
		close(cn.done)
		_ = cn.c.Close()
	})
}

func NewTCP(addr string, self PeerInfo, log zerolog.Logger) *TCP {
	return &TCP{
		self:    self,
		addr:    addr,
		events:  make(chan Event, 4096),
		log:     log.With().Str("component", "tcp").Logger(),
		closing: make(chan struct{}),
		peers:   make(map[protocol.PeerID]*tcpConn),
	}
}

func (t *TCP) Self() PeerInfo       { return t.self }
func (t *TCP) Events() <-chan Event { return t.events }

// Addr is the bound listen address (useful with ":0").
func (t *TCP) Addr() string {
	if t.ln != nil {
		return t.ln.Addr().String()
	}
	return t.addr
}

func (t *TCP) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.ln = ln
	if t.self.Addr == "" {
		t.self.Addr = ln.Addr().String()
	}
	t.log.Info().Str("addr", ln.Addr().String()).Msg("tcp listening")

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-t.closing:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				t.log.Warn().Err(err).Msg("accept error")
				continue
			}
			go t.accept(c)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()
	return nil
}

func (t *TCP) accept(c net.Conn) {
	_ = c.SetDeadline(time.Now().Add(handshakeTimeout))
	r := bufio.NewReader(c)
	info, err := readHello(r)
	if err == nil {
		err = writeHello(c, t.self)
	}
	if err != nil {
		t.log.Warn().Err(err).Str("remote", c.RemoteAddr().String()).Msg("handshake failed")
		_ = c.Close()
		return
	}
	_ = c.SetDeadline(time.Time{})
	if info.ID == t.self.ID {
		_ = c.Close()
		return
	}
	t.register(info, c, r)
}

// Dial connects to addr, exchanges hellos, and registers the peer. The
// context bounds the whole attempt, handshake included.
func (t *TCP) Dial(ctx context.Context, addr string) (protocol.PeerID, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.SetDeadline(deadline)
	// unblock the handshake if ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Now()) })
	defer stop()

	if err := writeHello(c, t.self); err != nil {
		_ = c.Close()
		return "", fmt.Errorf("hello to %s: %w", addr, err)
	}
	r := bufio.NewReader(c)
	info, err := readHello(r)
	if err != nil {
		_ = c.Close()
		return "", fmt.Errorf("hello from %s: %w", addr, err)
	}
	if info.ID == t.self.ID {
		_ = c.Close()
		return "", ErrSelfDial
	}
	if err := ctx.Err(); err != nil {
		_ = c.Close()
		return "", err
	}
	_ = c.SetDeadline(time.Time{})
	t.register(info, c, r)
	return info.ID, nil
}

func (t *TCP) register(info PeerInfo, c net.Conn, r *bufio.Reader) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	cn := &tcpConn{info: info, c: c, out: make(chan []byte, sendQueueLen), done: make(chan struct{})}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = c.Close()
		return
	}
	old := t.peers[info.ID]
	t.peers[info.ID] = cn
	t.mu.Unlock()
	if old != nil {
		old.close()
	}

	t.log.Info().Str("peer", string(info.ID)).Str("name", info.Name).Str("remote", c.RemoteAddr().String()).Msg("peer connected")
	t.emit(Event{Type: PeerConnected, Peer: info})
	go t.writeLoop(cn)
	go t.readLoop(cn, r)
}

func (t *TCP) readLoop(cn *tcpConn, r *bufio.Reader) {
	defer t.drop(cn)
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.log.Debug().Err(err).Str("peer", string(cn.info.ID)).Msg("read error")
			}
			return
		}
		t.emit(Event{Type: MessageReceived, Peer: cn.info, Payload: payload})
	}
}

func (t *TCP) writeLoop(cn *tcpConn) {
	for {
		select {
		case <-cn.done:
			return
		case b := <-cn.out:
			_ = cn.c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := WriteFrame(cn.c, b); err != nil {
				t.log.Warn().Err(err).Str("peer", string(cn.info.ID)).Msg("write error")
				cn.close()
				return
			}
		}
	}
}

// drop removes cn and reports the disconnect, unless a newer connection
// for the same peer already replaced it.
func (t *TCP) drop(cn *tcpConn) {
	cn.close()
	t.mu.Lock()
	current := t.peers[cn.info.ID] == cn
	if current {
		delete(t.peers, cn.info.ID)
	}
	t.mu.Unlock()
	if current {
		t.log.Info().Str("peer", string(cn.info.ID)).Msg("peer disconnected")
		t.emit(Event{Type: PeerDisconnected, Peer: cn.info})
	}
}

func (t *TCP) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.closing:
	}
}

func (t *TCP) Send(payload []byte, to ...protocol.PeerID) error {
	b := make([]byte, len(payload))
	copy(b, payload)

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	var targets []*tcpConn
	var errs []error
	if len(to) == 0 {
		for _, cn := range t.peers {
			targets = append(targets, cn)
		}
	} else {
		for _, id := range to {
			cn, ok := t.peers[id]
			if !ok {
				errs = append(errs, fmt.Errorf("%s: %w", id, ErrNotConnected))
				continue
			}
			targets = append(targets, cn)
		}
	}
	t.mu.RUnlock()

	for _, cn := range targets {
		select {
		case cn.out <- b:
		case <-cn.done:
			errs = append(errs, fmt.Errorf("%s: %w", cn.info.ID, ErrNotConnected))
		default:
			errs = append(errs, fmt.Errorf("%s: %w", cn.info.ID, ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

func (t *TCP) Disconnect(id protocol.PeerID) {
	t.mu.RLock()
	cn := t.peers[id]
	t.mu.RUnlock()
	if cn != nil {
		cn.close()
	}
}

func (t *TCP) DisconnectAll() {
	t.mu.RLock()
	conns := make([]*tcpConn, 0, len(t.peers))
	for _, cn := range t.peers {
		conns = append(conns, cn)
	}
	t.mu.RUnlock()
	for _, cn := range conns {
		cn.close()
	}
}

func (t *TCP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.peers
	t.peers = map[protocol.PeerID]*tcpConn{}
	t.mu.Unlock()

	close(t.closing)
	if t.ln != nil {
		_ = t.ln.Close()
	}
	for _, cn := range conns {
		cn.close()
	}
	return nil
}
