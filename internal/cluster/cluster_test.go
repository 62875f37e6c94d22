package cluster

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/discovery"
	"cafesync/internal/model"
	"cafesync/internal/netx"
	"cafesync/internal/protocol"
)

type harness struct {
	mesh *netx.Mesh
	bus  *discovery.Bus
	ctx  context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{mesh: netx.NewMesh(), bus: discovery.NewBus(), ctx: ctx}
}

func (h *harness) node(t *testing.T, role protocol.Role, name string) *Node {
	t.Helper()
	s := h.mesh.Join(netx.PeerInfo{ID: protocol.NewPeerID(), Name: name, Role: role})
	n := NewNode(NodeConfig{
		Service:         "cafe-sync",
		Role:            role,
		Settle:          10 * time.Millisecond,
		DialTimeout:     time.Second,
		RestartCooldown: 30 * time.Millisecond,
		ForceCooldown:   40 * time.Millisecond,
	}, s, h.bus, nil, zerolog.Nop())
	if err := n.Start(h.ctx); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// raw joins a bare session to the mesh, for watching exact bytes on the wire.
func (h *harness) raw(role protocol.Role) *netx.Inproc {
	return h.mesh.Join(netx.PeerInfo{ID: protocol.NewPeerID(), Name: "raw", Role: role})
}

func next(t *testing.T, e *Engine, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func nextRaw(t *testing.T, s *netx.Inproc, want netx.EventType) netx.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func catalogOf(items ...model.CatalogItem) []model.CatalogItem { return items }

func item(name string, price model.Money) model.CatalogItem {
	return model.CatalogItem{ID: model.NewID(), Name: name, Category: "Coffee", Price: price, Available: true}
}

func names(items []model.CatalogItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestTerminalReconcilesOnConnect(t *testing.T) {
	h := newHarness(t)
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	menu := catalogOf(item("Espresso", model.Dollars(3, 50)), item("Latte", model.Dollars(5, 0)))
	if err := coord.Engine().PublishCatalog(menu); err != nil {
		t.Fatal(err)
	}
	if err := coord.Engine().PublishPresentation(model.DefaultPresentation()); err != nil {
		t.Fatal(err)
	}

	term := h.node(t, protocol.RoleTerminal, "table-1")
	ev := next(t, term.Engine(), CatalogReceived)
	if got := names(ev.Catalog); len(got) != 2 || got[0] != "Espresso" || got[1] != "Latte" {
		t.Fatalf("catalog = %v", got)
	}
	pev := next(t, term.Engine(), PresentationReceived)
	if pev.Presentation.DisplayName != model.DefaultPresentation().DisplayName {
		t.Fatalf("presentation = %+v", pev.Presentation)
	}
	if pev.Peer.ID != coord.ID {
		t.Fatalf("presentation from %s, want %s", pev.Peer.ID, coord.ID)
	}
}

func TestReconciliationIsByteIdentical(t *testing.T) {
	h := newHarness(t)
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	_ = coord.Engine().PublishCatalog(model.DefaultCatalog())
	_ = coord.Engine().PublishPresentation(model.DefaultPresentation())
	time.Sleep(20 * time.Millisecond)

	term := h.raw(protocol.RoleTerminal)
	session := func() [][]byte {
		if _, err := term.Dial(h.ctx, string(coord.ID)); err != nil {
			t.Fatal(err)
		}
		a := nextRaw(t, term, netx.MessageReceived).Payload
		b := nextRaw(t, term, netx.MessageReceived).Payload
		return [][]byte{a, b}
	}
	first := session()
	term.DisconnectAll()
	nextRaw(t, term, netx.PeerDisconnected)
	second := session()

	for i := range first {
		if !bytes.Equal(first[i], second[i]) {
			t.Fatalf("frame %d differs across reconnects:\n%s\n%s", i, first[i], second[i])
		}
	}
	m, err := protocol.Decode(first[0])
	if err != nil || m.Kind() != protocol.KindCatalog {
		t.Fatalf("first frame = %v, %v; want catalog", m, err)
	}
	m, err = protocol.Decode(first[1])
	if err != nil || m.Kind() != protocol.KindPresentation {
		t.Fatalf("second frame = %v, %v; want presentation", m, err)
	}
}

func TestNoDeliveryWhileDisconnectedFreshOnReconnect(t *testing.T) {
	h := newHarness(t)
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	espresso := item("Espresso", model.Dollars(3, 50))
	latte := item("Latte", model.Dollars(5, 0))
	croissant := item("Croissant", model.Dollars(3, 0))
	_ = coord.Engine().PublishCatalog(catalogOf(espresso, latte))

	term := h.node(t, protocol.RoleTerminal, "table-1")
	next(t, term.Engine(), CatalogReceived)

	_ = coord.Engine().PublishCatalog(catalogOf(espresso, latte, croissant))
	if got := names(next(t, term.Engine(), CatalogReceived).Catalog); len(got) != 3 {
		t.Fatalf("after add = %v", got)
	}

	// take the terminal off the air so it does not redial on its own
	term.Engine().StopBrowse()
	coord.Engine().DisconnectAll()
	next(t, term.Engine(), PeerLeft)

	_ = coord.Engine().PublishCatalog(catalogOf(espresso, croissant))
	select {
	case ev := <-term.Engine().Events():
		if ev.Kind == CatalogReceived {
			t.Fatal("catalog delivered to a disconnected terminal")
		}
	case <-time.After(50 * time.Millisecond):
	}

	if err := term.Engine().StartBrowse(); err != nil {
		t.Fatal(err)
	}
	got := names(next(t, term.Engine(), CatalogReceived).Catalog)
	if len(got) != 2 || got[0] != "Espresso" || got[1] != "Croissant" {
		t.Fatalf("after reconnect = %v, want [Espresso Croissant]", got)
	}
}

func TestOrderSubmissionAndStatusPush(t *testing.T) {
	h := newHarness(t)
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	term := h.node(t, protocol.RoleTerminal, "table-3")
	next(t, term.Engine(), PeerJoined)
	waitFor(t, "terminal connected on coordinator", func() bool {
		return len(coord.Engine().Peers().Connected(protocol.RoleTerminal)) == 1
	})

	capp := model.CatalogItem{ID: "cap", Name: "Cappuccino", Price: model.Dollars(4, 50), Available: true}
	cro := model.CatalogItem{ID: "cro", Name: "Croissant", Price: model.Dollars(3, 0), Available: true}
	var cart model.Cart
	line, _ := cart.Add(capp)
	cart.Add(capp)
	cart.Add(cro)
	cart.SetNote(line.ID, "oat milk")
	ticket := model.NewTicket(3, cart.Lines(), "")

	if err := term.Engine().SubmitOrder(ticket); err != nil {
		t.Fatal(err)
	}
	got := next(t, coord.Engine(), OrderReceived).Order
	if got.ID != ticket.ID || got.Total() != model.Dollars(12, 0) || got.Status != model.StatusPlaced {
		t.Fatalf("received %s total %s status %s", got.ID, got.Total(), got.Status)
	}
	if len(got.Items()) != 2 || got.Items()[0].Note != "oat milk" || got.Items()[0].Quantity != 2 {
		t.Fatalf("items = %+v", got.Items())
	}

	err := coord.Engine().PushOrderStatus(protocol.OrderStatusUpdate{OrderID: ticket.ID, Table: 3, Status: model.StatusInPreparation})
	if err != nil {
		t.Fatal(err)
	}
	st := next(t, term.Engine(), OrderStatusReceived).Status
	if st.OrderID != ticket.ID || st.Status != model.StatusInPreparation {
		t.Fatalf("status push = %+v", st)
	}
}

func TestSubmitWithoutCoordinator(t *testing.T) {
	h := newHarness(t)
	term := h.node(t, protocol.RoleTerminal, "table-1")
	ticket := model.NewTicket(1, []model.LineItem{{ID: "l1", ItemID: "x", Name: "Tea", Price: 200, Quantity: 1}}, "")
	if err := term.Engine().SubmitOrder(ticket); !errors.Is(err, ErrNoPeers) {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(term.Engine().Status().LastError, ErrNoPeers) {
		t.Fatalf("last error = %v", term.Engine().Status().LastError)
	}
	call := model.NewStaffCall(1, model.ReasonBilling, "")
	if err := term.Engine().SendStaffCall(call); !errors.Is(err, ErrNoPeers) {
		t.Fatalf("staff call err = %v", err)
	}
}

func TestStaffCallReachesCoordinator(t *testing.T) {
	h := newHarness(t)
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	term := h.node(t, protocol.RoleTerminal, "table-4")
	next(t, term.Engine(), PeerJoined)

	call := model.NewStaffCall(4, model.ReasonRefill, "more water")
	if err := term.Engine().SendStaffCall(call); err != nil {
		t.Fatal(err)
	}
	got := next(t, coord.Engine(), StaffCallReceived).StaffCall
	if got.ID != call.ID || got.Table != 4 || got.Reason != model.ReasonRefill {
		t.Fatalf("staff call = %+v", got)
	}
}

func TestTerminalDropsUnacceptedAndMalformed(t *testing.T) {
	h := newHarness(t)
	term := h.node(t, protocol.RoleTerminal, "table-1")
	fake := h.raw(protocol.RoleCoordinator)
	if _, err := fake.Dial(h.ctx, string(term.ID)); err != nil {
		t.Fatal(err)
	}
	next(t, term.Engine(), PeerJoined)

	ticket := model.NewTicket(1, []model.LineItem{{ID: "l1", ItemID: "x", Name: "Tea", Price: 200, Quantity: 1}}, "")
	order, _ := protocol.Encode(protocol.OrderSubmission{Ticket: ticket})
	catalog, _ := protocol.Encode(protocol.CatalogUpdate{Items: catalogOf(item("Mocha", 450))})
	for _, p := range [][]byte{order, []byte(`{"type":"catalog","catalog":null}`), []byte("garbage"), catalog} {
		if err := fake.Send(p, term.ID); err != nil {
			t.Fatal(err)
		}
	}
	ev := <-term.Engine().Events()
	if ev.Kind != CatalogReceived || ev.Catalog[0].Name != "Mocha" {
		t.Fatalf("first event = %s", ev.Kind)
	}
}

func TestStopBrowseCancelsInFlightDial(t *testing.T) {
	h := newHarness(t)
	h.mesh.DialDelay = 150 * time.Millisecond
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	term := h.node(t, protocol.RoleTerminal, "table-1")

	waitFor(t, "connecting", func() bool { return term.Engine().Peers().State(coord.ID) == Connecting })
	term.Engine().StopBrowse()
	time.Sleep(250 * time.Millisecond)
	if h.mesh.Connected(term.ID, coord.ID) {
		t.Fatal("cancelled dial still produced a link")
	}
	if s := term.Engine().Peers().State(coord.ID); s != Idle {
		t.Fatalf("state = %s", s)
	}
}

func TestForceRestartClearsPeersAndReconnects(t *testing.T) {
	h := newHarness(t)
	coord := h.node(t, protocol.RoleCoordinator, "counter")
	term := h.node(t, protocol.RoleTerminal, "table-1")
	next(t, term.Engine(), PeerJoined)

	term.Engine().ForceRestart()
	next(t, term.Engine(), PeerLeft)
	waitFor(t, "reconnected", func() bool { return term.Engine().Peers().State(coord.ID) == Connected })

	st := term.Engine().Status()
	if st.Role != protocol.RoleTerminal || !st.Discovery.Browsing || st.Discovery.Advertising {
		t.Fatalf("status = %+v", st)
	}
}

func TestDialAnsweredByOtherIDResetsAnnouncedPeer(t *testing.T) {
	h := newHarness(t)
	term := h.node(t, protocol.RoleTerminal, "table-1")
	counter := h.raw(protocol.RoleCoordinator)

	term.Engine().Found(discovery.Announcement{
		Service: "cafe-sync",
		Peer:    "p-stale",
		Name:    "counter",
		Role:    protocol.RoleCoordinator,
		Addr:    counter.Self().Addr,
	})
	waitFor(t, "link to the real peer", func() bool {
		return term.Engine().Peers().State(counter.Self().ID) == Connected
	})
	waitFor(t, "announced id back to idle", func() bool {
		return term.Engine().Peers().State("p-stale") == Idle
	})
}

func TestRouterRoutesRegisteredKindsOnly(t *testing.T) {
	r := NewRouter()
	var got []protocol.PeerID
	r.Register(protocol.KindStaffCall, func(from protocol.PeerID, _ protocol.Message) { got = append(got, from) })

	call := protocol.StaffCallNotice{Call: model.NewStaffCall(2, model.ReasonRefill, "")}
	if !r.Route("p-1", call) {
		t.Fatal("registered kind not routed")
	}
	if r.Route("p-2", protocol.CatalogUpdate{}) {
		t.Fatal("unregistered kind routed")
	}
	if len(got) != 1 || got[0] != "p-1" {
		t.Fatalf("handler saw %v", got)
	}
}

func TestPeerTableListing(t *testing.T) {
	pt := NewPeerTable()
	pt.Set(netx.PeerInfo{ID: "p-b", Role: protocol.RoleTerminal}, Connecting)
	pt.Set(netx.PeerInfo{ID: "p-a", Role: protocol.RoleCoordinator}, Connected)
	pt.Set(netx.PeerInfo{ID: "p-b"}, Connected)

	list := pt.List()
	if len(list) != 2 || list[0].ID != "p-a" || list[1].Role != protocol.RoleTerminal {
		t.Fatalf("list = %+v", list)
	}
	if ids := pt.Connected(protocol.RoleTerminal); len(ids) != 1 || ids[0] != "p-b" {
		t.Fatalf("connected terminals = %v", ids)
	}
	if ids := pt.Connected(""); len(ids) != 2 {
		t.Fatalf("connected = %v", ids)
	}
	pt.Reset()
	if pt.State("p-a") != Idle {
		t.Fatal("reset kept state")
	}
}
