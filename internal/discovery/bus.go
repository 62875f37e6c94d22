package discovery

import (
	"context"
	"sync"

	"cafesync/internal/protocol"
)

// Bus is an in-process Medium for tests and single-process demos.
type Bus struct {
	mu       sync.Mutex
	adverts  map[protocol.PeerID]Announcement
	browsers map[int]busBrowser
	next     int
}

type busBrowser struct {
	service string
	found   func(Announcement)
	lost    func(error)
}

func NewBus() *Bus {
	return &Bus{adverts: make(map[protocol.PeerID]Announcement), browsers: make(map[int]busBrowser)}
}

func (b *Bus) Advertise(ctx context.Context, a Announcement) error {
	b.mu.Lock()
	if _, dup := b.adverts[a.Peer]; dup {
		b.mu.Unlock()
		return ErrNameCollision
	}
	b.adverts[a.Peer] = a
	targets := b.matching(a.Service)
	b.mu.Unlock()

	for _, f := range targets {
		go f(a)
	}
	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.adverts, a.Peer)
		b.mu.Unlock()
	})
	return nil
}

func (b *Bus) Browse(ctx context.Context, service string, found func(Announcement), lost func(error)) error {
	b.mu.Lock()
	id := b.next
	b.next++
	b.browsers[id] = busBrowser{service: service, found: found, lost: lost}
	var existing []Announcement
	for _, a := range b.adverts {
		if a.Service == service {
			existing = append(existing, a)
		}
	}
	b.mu.Unlock()

	for _, a := range existing {
		go found(a)
	}
	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.browsers, id)
		b.mu.Unlock()
	})
	return nil
}

// Rebroadcast delivers every live advert to every matching browser again,
// the way the next round of beacons would.
func (b *Bus) Rebroadcast() {
	b.mu.Lock()
	type delivery struct {
		f func(Announcement)
		a Announcement
	}
	var out []delivery
	for _, a := range b.adverts {
		for _, f := range b.matching(a.Service) {
			out = append(out, delivery{f, a})
		}
	}
	b.mu.Unlock()
	for _, d := range out {
		go d.f(d.a)
	}
}

// Fail ends every browse of service with err, the way a dead socket would.
func (b *Bus) Fail(service string, err error) {
	b.mu.Lock()
	var lost []func(error)
	for id, br := range b.browsers {
		if br.service == service {
			lost = append(lost, br.lost)
			delete(b.browsers, id)
		}
	}
	b.mu.Unlock()
	for _, f := range lost {
		f(err)
	}
}

// Advertising reports whether peer currently has a live advert.
func (b *Bus) Advertising(peer protocol.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.adverts[peer]
	return ok
}

func (b *Bus) matching(service string) []func(Announcement) {
	var out []func(Announcement)
	for _, br := range b.browsers {
		if br.service == service {
			out = append(out, br.found)
		}
	}
	return out
}
