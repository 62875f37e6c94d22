package role

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/cluster"
	"cafesync/internal/discovery"
	"cafesync/internal/model"
	"cafesync/internal/netx"
	"cafesync/internal/protocol"
	"cafesync/internal/store"
)

type fakeEngine struct {
	events chan cluster.Event

	mu            sync.Mutex
	catalogs      [][]model.CatalogItem
	presentations []model.PresentationProfile
	pushes        []protocol.OrderStatusUpdate
	origins       map[string]protocol.PeerID
	submitted     []model.OrderTicket
	calls         []model.StaffCall
	sendErr       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan cluster.Event, 16), origins: make(map[string]protocol.PeerID)}
}

func (f *fakeEngine) Events() <-chan cluster.Event { return f.events }

func (f *fakeEngine) PublishCatalog(items []model.CatalogItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogs = append(f.catalogs, items)
	return nil
}

func (f *fakeEngine) PublishPresentation(p model.PresentationProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presentations = append(f.presentations, p)
	return nil
}

func (f *fakeEngine) PushOrderStatus(u protocol.OrderStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, u)
	return nil
}

func (f *fakeEngine) RememberOrigin(id string, p protocol.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origins[id] = p
}

func (f *fakeEngine) SubmitOrder(t model.OrderTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.submitted = append(f.submitted, t)
	return nil
}

func (f *fakeEngine) SendStaffCall(c model.StaffCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.calls = append(f.calls, c)
	return nil
}

// brokenStore fails every write.
type brokenStore struct{ store.Store }

var errDiskFull = errors.New("disk full")

func (brokenStore) Insert(context.Context, store.Record) error            { return errDiskFull }
func (brokenStore) Update(context.Context, store.Record) error            { return errDiskFull }
func (brokenStore) Delete(context.Context, string, string) error          { return errDiskFull }
func (brokenStore) Replace(context.Context, string, []store.Record) error { return errDiskFull }

func memStore(t *testing.T) *store.SQL {
	t.Helper()
	s, err := store.Open(context.Background(), store.SQLite, ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func line(name string, price model.Money, qty int) model.LineItem {
	return model.LineItem{ID: model.NewID(), ItemID: name, Name: name, Price: price, Quantity: qty}
}

func TestCoordinatorLoadSeeds(t *testing.T) {
	eng := newFakeEngine()
	c := NewCoordinator(eng, memStore(t), nil, CoordinatorOptions{Tables: 6, SeedCatalog: true}, zerolog.Nop())
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(c.Catalog()); n != 8 {
		t.Fatalf("catalog has %d items", n)
	}
	if n := len(c.Tables()); n != 6 {
		t.Fatalf("%d tables", n)
	}
	if c.Presentation().DisplayName != "Swift Cafe" {
		t.Fatalf("presentation = %+v", c.Presentation())
	}
	if len(eng.catalogs) != 1 || len(eng.presentations) != 1 {
		t.Fatalf("published %d catalogs, %d presentations", len(eng.catalogs), len(eng.presentations))
	}
}

func TestCoordinatorSeedsDemoOrdersOnce(t *testing.T) {
	ctx := context.Background()
	st := memStore(t)
	opts := CoordinatorOptions{Tables: 6, SeedCatalog: true, SeedDemoOrders: true}
	c := NewCoordinator(newFakeEngine(), st, nil, opts, zerolog.Nop())
	if err := c.Load(ctx); err != nil {
		t.Fatal(err)
	}

	orders := c.Orders(OrderFilter{})
	if len(orders) != 3 {
		t.Fatalf("%d demo orders", len(orders))
	}
	want := map[int]struct {
		status model.Status
		total  model.Money
	}{
		1: {model.StatusInPreparation, model.Dollars(12, 0)},
		3: {model.StatusReady, model.Dollars(20, 0)},
		5: {model.StatusPlaced, model.Dollars(22, 50)},
	}
	menu := make(map[string]bool)
	for _, it := range c.Catalog() {
		menu[it.ID] = true
	}
	for _, o := range orders {
		w, ok := want[o.Table]
		if !ok || o.Status != w.status || o.Total() != w.total {
			t.Errorf("table %d: %s %s", o.Table, o.Status, o.Total())
		}
		for _, l := range o.Items() {
			if !menu[l.ItemID] {
				t.Errorf("line %s does not point at the seeded menu", l.Name)
			}
		}
	}
	for _, tb := range c.Tables() {
		_, busy := want[tb.Number]
		if tb.Occupied != busy {
			t.Errorf("table %d occupied = %v", tb.Number, tb.Occupied)
		}
	}

	again := NewCoordinator(newFakeEngine(), st, nil, opts, zerolog.Nop())
	if err := again.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(again.Orders(OrderFilter{})); n != 3 {
		t.Fatalf("reload has %d orders, want the same 3", n)
	}
	if n := len(again.Orders(OrderFilter{ActiveOnly: true, Table: 3})); n != 1 {
		t.Fatalf("table 3 active orders = %d", n)
	}
}

func TestCoordinatorOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	eng := newFakeEngine()
	st := memStore(t)
	c := NewCoordinator(eng, st, nil, CoordinatorOptions{Tables: 6}, zerolog.Nop())
	if err := c.Load(ctx); err != nil {
		t.Fatal(err)
	}

	o := model.NewTicket(4, []model.LineItem{line("Latte", 500, 1)}, "")
	c.receiveOrder(ctx, "p-term", o)
	c.receiveOrder(ctx, "p-term", o)
	if n := len(c.Orders(OrderFilter{})); n != 1 {
		t.Fatalf("%d orders after duplicate delivery", n)
	}
	tb := c.Tables()[3]
	if !tb.Occupied || tb.CurrentOrderID != o.ID || tb.PeerID != "p-term" {
		t.Fatalf("table 4 = %+v", tb)
	}

	if _, err := c.SetOrderStatus(ctx, o.ID, model.StatusReady); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("skip ahead err = %v", err)
	}
	for _, want := range []model.Status{model.StatusInPreparation, model.StatusReady, model.StatusFulfilled} {
		got, err := c.AdvanceOrder(ctx, o.ID)
		if err != nil || got.Status != want {
			t.Fatalf("advance = %s, %v; want %s", got.Status, err, want)
		}
	}
	done, _ := c.Order(o.ID)
	if done.CompletedAt == nil {
		t.Fatal("fulfilled without completion time")
	}
	if _, err := c.SetOrderStatus(ctx, o.ID, model.StatusVoided); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("void after fulfil err = %v", err)
	}
	if len(eng.pushes) != 3 || eng.pushes[2].Status != model.StatusFulfilled {
		t.Fatalf("pushes = %+v", eng.pushes)
	}
	if tb := c.Tables()[3]; tb.Occupied || tb.CurrentOrderID != "" {
		t.Fatalf("table not freed: %+v", tb)
	}
	if n := len(c.Orders(OrderFilter{ActiveOnly: true})); n != 0 {
		t.Fatalf("%d active orders", n)
	}
	if _, err := c.AdvanceOrder(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("missing order err = %v", err)
	}

	// a second coordinator over the same store sees the same book
	again := NewCoordinator(newFakeEngine(), st, nil, CoordinatorOptions{}, zerolog.Nop())
	if err := again.Load(ctx); err != nil {
		t.Fatal(err)
	}
	reloaded, ok := again.Order(o.ID)
	if !ok || reloaded.Status != model.StatusFulfilled || reloaded.Total() != 500 {
		t.Fatalf("reloaded = %+v", reloaded)
	}
}

func TestCoordinatorRemembersOriginsOnLoad(t *testing.T) {
	ctx := context.Background()
	st := memStore(t)
	c := NewCoordinator(newFakeEngine(), st, nil, CoordinatorOptions{}, zerolog.Nop())
	_ = c.Load(ctx)
	o := model.NewTicket(2, []model.LineItem{line("Tea", 250, 1)}, "")
	c.receiveOrder(ctx, "p-two", o)

	eng := newFakeEngine()
	again := NewCoordinator(eng, st, nil, CoordinatorOptions{}, zerolog.Nop())
	if err := again.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if eng.origins[o.ID] != "p-two" {
		t.Fatalf("origins = %v", eng.origins)
	}
}

func TestCoordinatorCatalogEditsPublish(t *testing.T) {
	eng := newFakeEngine()
	c := NewCoordinator(eng, memStore(t), nil, CoordinatorOptions{}, zerolog.Nop())
	_ = c.Load(context.Background())

	mocha, err := c.AddItem(model.CatalogItem{Name: "Mocha", Category: "Coffee", Price: 475, Available: true})
	if err != nil || mocha.ID == "" {
		t.Fatalf("add = %+v, %v", mocha, err)
	}
	if _, err := c.AddItem(model.CatalogItem{Name: "", Price: 1}); err == nil {
		t.Fatal("invalid item accepted")
	}
	if err := c.SetAvailability(mocha.ID, false); err != nil {
		t.Fatal(err)
	}
	mocha.Price = 500
	mocha.Available = false
	if err := c.UpdateItem(mocha); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteItem(mocha.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteItem(mocha.ID); !IsNotFound(err) {
		t.Fatalf("second delete err = %v", err)
	}
	// load, add, availability, update, delete
	if len(eng.catalogs) != 5 {
		t.Fatalf("published %d catalogs", len(eng.catalogs))
	}
	if last := eng.catalogs[len(eng.catalogs)-1]; len(last) != 0 {
		t.Fatalf("last publish = %v", last)
	}

	p := c.Presentation()
	p.DisplayName = "Corner Cafe"
	p.ID = "ignored"
	got, err := c.UpdatePresentation(p)
	if err != nil || got.ID == "ignored" || got.ModifiedAt.IsZero() {
		t.Fatalf("presentation = %+v, %v", got, err)
	}
	p.PrimaryColor = ""
	if _, err := c.UpdatePresentation(p); err == nil {
		t.Fatal("blank color accepted")
	}
}

func TestCoordinatorKeepsStateWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newFakeEngine(), brokenStore{memStore(t)}, nil, CoordinatorOptions{}, zerolog.Nop())
	o := model.NewTicket(1, []model.LineItem{line("Tea", 250, 1)}, "")
	c.receiveOrder(ctx, "p-x", o)
	if _, ok := c.Order(o.ID); !ok {
		t.Fatal("order lost after failed write")
	}
	if _, err := c.AddItem(model.CatalogItem{Name: "Tea", Price: 250, Available: true}); err != nil {
		t.Fatal(err)
	}
	if len(c.Catalog()) != 1 {
		t.Fatal("catalog edit lost after failed write")
	}
}

func TestCoordinatorStaffCalls(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newFakeEngine(), memStore(t), nil, CoordinatorOptions{}, zerolog.Nop())
	sc := model.NewStaffCall(3, model.ReasonBilling, "card please")
	c.receiveStaffCall(ctx, sc)
	if calls := c.StaffCalls(false); len(calls) != 1 || calls[0].Reason != model.ReasonBilling {
		t.Fatalf("calls = %+v", calls)
	}
	if err := c.ResolveStaffCall(ctx, sc.ID); err != nil {
		t.Fatal(err)
	}
	if len(c.StaffCalls(false)) != 0 || len(c.StaffCalls(true)) != 1 {
		t.Fatal("resolved call still open")
	}
	if err := c.ResolveStaffCall(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestTerminalCartAndSubmit(t *testing.T) {
	eng := newFakeEngine()
	st := memStore(t)
	term := NewTerminal(eng, st, 5, zerolog.Nop())
	capp := model.CatalogItem{ID: "cap", Name: "Cappuccino", Category: "Coffee", Price: model.Dollars(4, 50), Available: true}
	cro := model.CatalogItem{ID: "cro", Name: "Croissant", Category: "Pastry", Price: model.Dollars(3, 0), Available: true}
	off := model.CatalogItem{ID: "off", Name: "Eggnog", Category: "Seasonal", Price: 600}
	term.replaceCatalog([]model.CatalogItem{cro, capp, off})

	if _, err := term.Submit(""); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("empty submit err = %v", err)
	}
	first, _ := term.AddToCart("cap")
	term.AddToCart("cap")
	term.AddToCart("cro")
	if _, err := term.AddToCart("off"); !errors.Is(err, model.ErrUnavailable) {
		t.Fatalf("unavailable err = %v", err)
	}
	if _, err := term.AddToCart("ghost"); !IsNotFound(err) {
		t.Fatalf("unknown item err = %v", err)
	}
	term.SetLineNote(first.ID, "oat milk")

	lines, total := term.Cart()
	if len(lines) != 2 || total != model.Dollars(12, 0) {
		t.Fatalf("cart = %v total %s", lines, total)
	}

	o, err := term.Submit("")
	if err != nil {
		t.Fatal(err)
	}
	if o.Total() != model.Dollars(12, 0) || o.Status != model.StatusPlaced || o.Table != 5 {
		t.Fatalf("ticket = %+v total %s", o, o.Total())
	}
	if o.Items()[0].Note != "oat milk" || o.Items()[0].Quantity != 2 {
		t.Fatalf("lines = %+v", o.Items())
	}
	if lines, _ := term.Cart(); len(lines) != 0 {
		t.Fatal("cart not cleared")
	}
	if len(eng.submitted) != 1 {
		t.Fatal("not sent")
	}

	term.applyStatus(protocol.OrderStatusUpdate{OrderID: o.ID, Table: 5, Status: model.StatusReady})
	if a, ok := term.ActiveTicket(); !ok || a.Status != model.StatusReady {
		t.Fatalf("active = %+v", a)
	}
	term.applyStatus(protocol.OrderStatusUpdate{OrderID: o.ID, Table: 5, Status: model.StatusFulfilled})
	if _, ok := term.ActiveTicket(); ok {
		t.Fatal("fulfilled ticket still active")
	}
}

func TestTerminalSubmitKeepsTicketWhenSendFails(t *testing.T) {
	eng := newFakeEngine()
	eng.sendErr = cluster.ErrNoPeers
	st := memStore(t)
	term := NewTerminal(eng, st, 1, zerolog.Nop())
	term.replaceCatalog([]model.CatalogItem{{ID: "tea", Name: "Tea", Price: 250, Available: true}})
	term.AddToCart("tea")

	o, err := term.Submit("")
	if !errors.Is(err, cluster.ErrNoPeers) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := term.ActiveTicket(); !ok {
		t.Fatal("ticket rolled back")
	}
	rs, _ := st.Query(context.Background(), model.KindOrder)
	if len(rs) != 1 || rs[0].RecordID() != o.ID {
		t.Fatalf("stored orders = %v", rs)
	}

	if _, err := term.CallStaff(model.ReasonAssistance, "  "); !errors.Is(err, cluster.ErrNoPeers) {
		t.Fatalf("staff call err = %v", err)
	}
	if _, err := term.CallStaff("dance", ""); err == nil {
		t.Fatal("bad reason accepted")
	}
}

func TestTerminalCartQuantities(t *testing.T) {
	term := NewTerminal(newFakeEngine(), memStore(t), 1, zerolog.Nop())
	term.replaceCatalog([]model.CatalogItem{{ID: "tea", Name: "Tea", Price: 250, Available: true}})
	l, _ := term.AddToCart("tea")
	term.SetQuantity(l.ID, 3)
	if _, total := term.Cart(); total != 750 {
		t.Fatalf("total = %s", total)
	}
	term.SetQuantity(l.ID, 0)
	if lines, _ := term.Cart(); len(lines) != 0 {
		t.Fatal("zero quantity kept the line")
	}
	l, _ = term.AddToCart("tea")
	if !term.RemoveLine(l.ID) || term.RemoveLine(l.ID) {
		t.Fatal("remove reported wrongly")
	}
	term.AddToCart("tea")
	term.ClearCart()
	if lines, _ := term.Cart(); len(lines) != 0 {
		t.Fatal("clear kept lines")
	}
}

func TestTerminalReloadsMirror(t *testing.T) {
	st := memStore(t)
	term := NewTerminal(newFakeEngine(), st, 1, zerolog.Nop())
	term.replaceCatalog([]model.CatalogItem{{ID: "tea", Name: "Tea", Price: 250, Available: true}})
	p := model.DefaultPresentation()
	p.DisplayName = "Night Owl"
	term.replacePresentation(p)
	term.AddToCart("tea")
	o, _ := term.Submit("")

	again := NewTerminal(newFakeEngine(), st, 1, zerolog.Nop())
	if err := again.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(again.Catalog()) != 1 || again.Presentation().DisplayName != "Night Owl" {
		t.Fatal("mirror not restored")
	}
	if a, ok := again.ActiveTicket(); !ok || a.ID != o.ID {
		t.Fatal("active ticket not restored")
	}
}

// End to end over the in-process mesh.

type device struct {
	node  *cluster.Node
	coord *Coordinator
	term  *Terminal
}

func start(t *testing.T, ctx context.Context, mesh *netx.Mesh, bus *discovery.Bus, r protocol.Role, table int) device {
	t.Helper()
	s := mesh.Join(netx.PeerInfo{ID: protocol.NewPeerID(), Name: string(r), Role: r})
	n := cluster.NewNode(cluster.NodeConfig{
		Service: "cafe-sync", Role: r, Settle: 10 * time.Millisecond, DialTimeout: time.Second,
	}, s, bus, nil, zerolog.Nop())
	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = n.Close() })
	d := device{node: n}
	if r == protocol.RoleCoordinator {
		d.coord = NewCoordinator(n.Engine(), memStore(t), nil, CoordinatorOptions{}, zerolog.Nop())
		if err := d.coord.Load(ctx); err != nil {
			t.Fatal(err)
		}
		go d.coord.Run(ctx)
	} else {
		d.term = NewTerminal(n.Engine(), memStore(t), table, zerolog.Nop())
		if err := d.term.Load(ctx); err != nil {
			t.Fatal(err)
		}
		go d.term.Run(ctx)
	}
	return d
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func catalogNames(items []model.CatalogItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func sameNames(items []model.CatalogItem, want ...string) bool {
	got := catalogNames(items)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestMirrorFollowsCoordinatorAcrossReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh, bus := netx.NewMesh(), discovery.NewBus()

	coord := start(t, ctx, mesh, bus, protocol.RoleCoordinator, 0)
	_, _ = coord.coord.AddItem(model.CatalogItem{Name: "Espresso", Category: "Coffee", Price: 350, Available: true})
	latte, _ := coord.coord.AddItem(model.CatalogItem{Name: "Latte", Category: "Coffee", Price: 500, Available: true})

	term := start(t, ctx, mesh, bus, protocol.RoleTerminal, 1)
	eventually(t, "initial catalog", func() bool { return sameNames(term.term.Catalog(), "Espresso", "Latte") })

	_, _ = coord.coord.AddItem(model.CatalogItem{Name: "Croissant", Category: "Coffee", Price: 300, Available: true})
	eventually(t, "croissant", func() bool { return sameNames(term.term.Catalog(), "Croissant", "Espresso", "Latte") })

	term.node.Engine().StopBrowse()
	coord.node.Engine().DisconnectAll()
	eventually(t, "disconnect", func() bool { return !term.term.Connected() })

	if err := coord.coord.DeleteItem(latte.ID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if !sameNames(term.term.Catalog(), "Croissant", "Espresso", "Latte") {
		t.Fatal("disconnected terminal saw an update")
	}

	if err := term.node.Engine().StartBrowse(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "fresh catalog after reconnect", func() bool { return sameNames(term.term.Catalog(), "Croissant", "Espresso") })
}

func TestOrderFlowsToCoordinatorAndBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh, bus := netx.NewMesh(), discovery.NewBus()

	coord := start(t, ctx, mesh, bus, protocol.RoleCoordinator, 0)
	capp, _ := coord.coord.AddItem(model.CatalogItem{Name: "Cappuccino", Category: "Coffee", Price: model.Dollars(4, 50), Available: true})
	cro, _ := coord.coord.AddItem(model.CatalogItem{Name: "Croissant", Category: "Pastry", Price: model.Dollars(3, 0), Available: true})

	term := start(t, ctx, mesh, bus, protocol.RoleTerminal, 2)
	eventually(t, "catalog", func() bool { return len(term.term.Catalog()) == 2 && term.term.Connected() })

	l, _ := term.term.AddToCart(capp.ID)
	term.term.AddToCart(capp.ID)
	term.term.AddToCart(cro.ID)
	term.term.SetLineNote(l.ID, "oat milk")
	sent, err := term.term.Submit("")
	if err != nil {
		t.Fatal(err)
	}

	var got model.OrderTicket
	eventually(t, "order at coordinator", func() bool {
		var ok bool
		got, ok = coord.coord.Order(sent.ID)
		return ok
	})
	if got.Total() != model.Dollars(12, 0) || got.Status != model.StatusPlaced || got.Table != 2 {
		t.Fatalf("coordinator ticket %+v total %s", got, got.Total())
	}
	noted := 0
	for _, li := range got.Items() {
		if li.Note != "" {
			noted++
			if li.Note != "oat milk" || li.Name != "Cappuccino" {
				t.Fatalf("noted line = %+v", li)
			}
		}
	}
	if noted != 1 {
		t.Fatalf("%d noted lines", noted)
	}

	if _, err := coord.coord.SetOrderStatus(ctx, sent.ID, model.StatusVoided); err != nil {
		t.Fatal(err)
	}
	eventually(t, "ticket cleared on terminal", func() bool {
		_, active := term.term.ActiveTicket()
		return !active
	})
}
