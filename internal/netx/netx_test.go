package netx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/protocol"
)

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for _, p := range [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte("x"), 70000)} {
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatal(err)
		}
	}
	r := bufio.NewReader(&buf)
	for _, want := range []int{5, 0, 70000} {
		got, err := ReadFrame(r)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != want {
			t.Errorf("frame len = %d, want %d", len(got), want)
		}
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	b := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bufio.NewReader(bytes.NewReader(b))); err == nil {
		t.Error("oversized frame accepted")
	}
}

func TestTCPDialSendDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zerolog.Nop()

	coord := NewTCP("127.0.0.1:0", PeerInfo{ID: "coord", Role: protocol.RoleCoordinator}, log)
	term := NewTCP("127.0.0.1:0", PeerInfo{ID: "term", Role: protocol.RoleTerminal}, log)
	if err := coord.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := term.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer coord.Close()
	defer term.Close()

	dctx, dcancel := context.WithTimeout(ctx, 2*time.Second)
	defer dcancel()
	id, err := term.Dial(dctx, coord.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if id != "coord" {
		t.Fatalf("dialed id = %s", id)
	}
	ev := waitEvent(t, coord.Events(), PeerConnected)
	if ev.Peer.ID != "term" || ev.Peer.Role != protocol.RoleTerminal {
		t.Errorf("coordinator saw %+v", ev.Peer)
	}
	waitEvent(t, term.Events(), PeerConnected)

	for i := 0; i < 20; i++ {
		if err := coord.Send([]byte(fmt.Sprintf("m%02d", i)), "term"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		ev := waitEvent(t, term.Events(), MessageReceived)
		if want := fmt.Sprintf("m%02d", i); string(ev.Payload) != want {
			t.Fatalf("message %d = %q, want %q", i, ev.Payload, want)
		}
	}

	if err := coord.Send([]byte("x"), "nobody"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send to unknown peer err = %v", err)
	}

	coord.DisconnectAll()
	waitEvent(t, term.Events(), PeerDisconnected)
	waitEvent(t, coord.Events(), PeerDisconnected)
}

func TestTCPDialHonoursCancel(t *testing.T) {
	log := zerolog.Nop()
	term := NewTCP("127.0.0.1:0", PeerInfo{ID: "term"}, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := term.Dial(ctx, "127.0.0.1:1"); err == nil {
		t.Error("Dial with cancelled context succeeded")
	}
}

func TestMeshLinksAndOrdering(t *testing.T) {
	m := NewMesh()
	a := m.Join(PeerInfo{ID: "a"})
	b := m.Join(PeerInfo{ID: "b"})
	c := m.Join(PeerInfo{ID: "c"})

	if _, err := a.Dial(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Dial(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, b.Events(), PeerConnected)
	waitEvent(t, c.Events(), PeerConnected)

	for i := 0; i < 5; i++ {
		if err := a.Send([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		if ev := waitEvent(t, b.Events(), MessageReceived); ev.Payload[0] != byte(i) {
			t.Fatalf("b got %d at %d", ev.Payload[0], i)
		}
		if ev := waitEvent(t, c.Events(), MessageReceived); ev.Payload[0] != byte(i) {
			t.Fatalf("c got %d at %d", ev.Payload[0], i)
		}
	}

	a.Disconnect("b")
	waitEvent(t, b.Events(), PeerDisconnected)
	if m.Connected("a", "b") {
		t.Error("a-b still linked")
	}
	if err := a.Send([]byte("late"), "b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after disconnect err = %v", err)
	}
	if _, err := a.Dial(context.Background(), "a"); !errors.Is(err, ErrSelfDial) {
		t.Errorf("self dial err = %v", err)
	}
}

func TestMeshDialDelayCancelled(t *testing.T) {
	m := NewMesh()
	m.DialDelay = time.Second
	a := m.Join(PeerInfo{ID: "a"})
	m.Join(PeerInfo{ID: "b"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Dial(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if m.Connected("a", "b") {
		t.Error("cancelled dial left a link")
	}
}
