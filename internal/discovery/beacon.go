package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Multicast advertises by sending a JSON beacon to a UDP multicast group at
// a fixed interval, and browses by listening on that group.
type Multicast struct {
	Group    string
	Interval time.Duration
	log      zerolog.Logger
}

func NewMulticast(group string, interval time.Duration, log zerolog.Logger) *Multicast {
	if interval <= 0 {
		interval = time.Second
	}
	return &Multicast{Group: group, Interval: interval, log: log.With().Str("component", "beacon").Logger()}
}

func (m *Multicast) Advertise(ctx context.Context, a Announcement) error {
	addr, err := net.ResolveUDPAddr("udp4", m.Group)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", m.Group, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	b, err := json.Marshal(a)
	if err != nil {
		_ = conn.Close()
		return err
	}
	send := func() {
		if _, err := conn.Write(b); err != nil {
			m.log.Debug().Err(err).Msg("beacon write failed")
		}
	}
	send()
	go func() {
		defer conn.Close()
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				send()
			}
		}
	}()
	return nil
}

func (m *Multicast) Browse(ctx context.Context, service string, found func(Announcement), lost func(error)) error {
	addr, err := net.ResolveUDPAddr("udp4", m.Group)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", m.Group, err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		buf := make([]byte, 2048)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() == nil {
					m.log.Warn().Err(err).Msg("beacon read failed")
					lost(fmt.Errorf("beacon read: %w", err))
				}
				return
			}
			var a Announcement
			if err := json.Unmarshal(buf[:n], &a); err != nil {
				m.log.Debug().Err(err).Str("src", src.String()).Msg("ignoring malformed beacon")
				continue
			}
			if a.Service != service || a.Peer == "" {
				continue
			}
			a.Addr = resolveAdvertised(a.Addr, src)
			found(a)
		}
	}()
	return nil
}

// resolveAdvertised fills in the sender's IP when the advertiser only knew
// its port (listening on ":7777" or "0.0.0.0:7777").
func resolveAdvertised(addr string, src *net.UDPAddr) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return net.JoinHostPort(src.IP.String(), port)
	}
	return addr
}
