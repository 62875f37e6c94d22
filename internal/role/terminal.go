package role

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"cafesync/internal/cluster"
	"cafesync/internal/model"
	"cafesync/internal/protocol"
	"cafesync/internal/store"
)

// TerminalEngine is the part of the sync engine a terminal uses.
type TerminalEngine interface {
	Events() <-chan cluster.Event
	SubmitOrder(t model.OrderTicket) error
	SendStaffCall(c model.StaffCall) error
}

// Terminal is one table's device: a read-only mirror of the coordinator's
// catalog and presentation plus a local cart.
type Terminal struct {
	eng   TerminalEngine
	st    store.Store
	table int
	log   zerolog.Logger

	mu           sync.Mutex
	catalog      []model.CatalogItem
	presentation model.PresentationProfile
	cart         model.Cart
	active       *model.OrderTicket
	coordinators map[protocol.PeerID]bool

	changes notifier
}

func NewTerminal(eng TerminalEngine, st store.Store, table int, log zerolog.Logger) *Terminal {
	return &Terminal{
		eng: eng, st: st, table: table,
		log:          log.With().Str("component", "terminal").Int("table", table).Logger(),
		presentation: model.DefaultPresentation(),
		coordinators: make(map[protocol.PeerID]bool),
		changes:      make(notifier, changeBuffer),
	}
}

func (t *Terminal) Changes() <-chan Change { return t.changes }
func (t *Terminal) Table() int             { return t.table }

// Load restores the last mirrored catalog and presentation and any ticket
// still in progress, so the device is usable before it reconnects.
func (t *Terminal) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs, err := t.st.Query(ctx, model.KindCatalogItem)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	t.catalog = decodeAll[model.CatalogItem](rs)
	model.SortCatalog(t.catalog)

	rs, err = t.st.Query(ctx, model.KindPresentation, store.Desc("modified_at"))
	if err != nil {
		return fmt.Errorf("load presentation: %w", err)
	}
	if ps := decodeAll[model.PresentationProfile](rs); len(ps) > 0 {
		t.presentation = ps[0]
	}

	rs, err = t.st.Query(ctx, model.KindOrder, store.Desc("created_at"))
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, o := range decodeAll[model.OrderTicket](rs) {
		if o.Status.Active() {
			o := o
			t.active = &o
			break
		}
	}
	return nil
}

func (t *Terminal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.eng.Events():
			t.handle(ev)
		}
	}
}

func (t *Terminal) handle(ev cluster.Event) {
	switch ev.Kind {
	case cluster.CatalogReceived:
		t.replaceCatalog(ev.Catalog)
	case cluster.PresentationReceived:
		t.replacePresentation(ev.Presentation)
	case cluster.OrderStatusReceived:
		t.applyStatus(ev.Status)
	case cluster.PeerJoined:
		if ev.Peer.Role == protocol.RoleCoordinator {
			t.mu.Lock()
			t.coordinators[ev.Peer.ID] = true
			t.mu.Unlock()
			t.changes.notify(PeersChanged)
		}
	case cluster.PeerLeft:
		t.mu.Lock()
		delete(t.coordinators, ev.Peer.ID)
		t.mu.Unlock()
		t.changes.notify(PeersChanged)
	}
}

// replaceCatalog installs a full catalog; nothing of the old one survives.
func (t *Terminal) replaceCatalog(items []model.CatalogItem) {
	next := model.CloneCatalog(items)
	model.SortCatalog(next)
	t.mu.Lock()
	t.catalog = next
	persist(t.log, "replace catalog", func(ctx context.Context) error {
		return store.ReplaceAll(ctx, t.st, model.KindCatalogItem, records(next))
	})
	t.mu.Unlock()
	t.log.Info().Int("items", len(next)).Msg("catalog replaced")
	t.changes.notify(CatalogChanged)
}

func (t *Terminal) replacePresentation(p model.PresentationProfile) {
	t.mu.Lock()
	t.presentation = p
	persist(t.log, "replace presentation", func(ctx context.Context) error {
		return store.ReplaceAll(ctx, t.st, model.KindPresentation, []store.Record{p})
	})
	t.mu.Unlock()
	t.log.Info().Str("name", p.DisplayName).Msg("presentation replaced")
	t.changes.notify(PresentationChanged)
}

// applyStatus takes the coordinator's word for a ticket's status.
func (t *Terminal) applyStatus(u protocol.OrderStatusUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil || t.active.ID != u.OrderID {
		t.log.Debug().Str("order", u.OrderID).Msg("status for a ticket that is not active here")
		return
	}
	o := t.active.Clone()
	if err := model.CheckTransition(o.Status, u.Status); err != nil {
		t.log.Warn().Err(err).Str("order", o.ID).Msg("applying out-of-order status from coordinator")
	}
	o.Status = u.Status
	o.CompletedAt = u.CompletedAt
	persist(t.log, "update order", func(ctx context.Context) error { return store.Upsert(ctx, t.st, o) })
	if o.Status.Terminal() {
		t.active = nil
	} else {
		t.active = &o
	}
	t.changes.notify(TicketChanged)
}

func (t *Terminal) Catalog() []model.CatalogItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.CloneCatalog(t.catalog)
}

func (t *Terminal) Presentation() model.PresentationProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presentation
}

func (t *Terminal) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.coordinators) > 0
}

// ActiveTicket is the submitted ticket still being worked on, if any.
func (t *Terminal) ActiveTicket() (model.OrderTicket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return model.OrderTicket{}, false
	}
	return t.active.Clone(), true
}

// Cart

func (t *Terminal) Cart() ([]model.LineItem, model.Money) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cart.Lines(), t.cart.Total()
}

func (t *Terminal) AddToCart(itemID string) (model.LineItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range t.catalog {
		if it.ID == itemID {
			l, err := t.cart.Add(it)
			if err == nil {
				t.changes.notify(CartChanged)
			}
			return l, err
		}
	}
	return model.LineItem{}, fmt.Errorf("catalog item %s: %w", itemID, model.ErrNotFound)
}

func (t *Terminal) cartOp(fn func() bool) bool {
	t.mu.Lock()
	ok := fn()
	t.mu.Unlock()
	if ok {
		t.changes.notify(CartChanged)
	}
	return ok
}

func (t *Terminal) RemoveLine(lineID string) bool {
	return t.cartOp(func() bool { return t.cart.Remove(lineID) })
}

// SetQuantity changes a line's quantity; zero or less removes the line.
func (t *Terminal) SetQuantity(lineID string, qty int) bool {
	return t.cartOp(func() bool { return t.cart.SetQuantity(lineID, qty) })
}

func (t *Terminal) SetLineNote(lineID, note string) bool {
	return t.cartOp(func() bool { return t.cart.SetNote(lineID, note) })
}

func (t *Terminal) ClearCart() {
	t.cartOp(func() bool { t.cart.Clear(); return true })
}

// Submit turns the cart into a ticket, stores it, and sends it to the
// coordinator. The ticket is kept and the cart emptied even when sending
// fails; that error is returned alongside the ticket.
func (t *Terminal) Submit(note string) (model.OrderTicket, error) {
	t.mu.Lock()
	if t.cart.Empty() {
		t.mu.Unlock()
		return model.OrderTicket{}, ErrEmptyCart
	}
	o := model.NewTicket(t.table, t.cart.Lines(), note)
	if err := o.Validate(); err != nil {
		t.mu.Unlock()
		return model.OrderTicket{}, err
	}
	persist(t.log, "insert order", func(ctx context.Context) error { return t.st.Insert(ctx, o) })
	t.active = &o
	t.cart.Clear()
	t.mu.Unlock()
	t.changes.notify(CartChanged, TicketChanged)

	if err := t.eng.SubmitOrder(o); err != nil {
		t.log.Warn().Err(err).Str("order", o.ID).Msg("order saved but not sent")
		return o.Clone(), fmt.Errorf("order %s not sent: %w", o.ID, err)
	}
	t.log.Info().Str("order", o.ID).Str("total", o.Total().String()).Msg("order sent")
	return o.Clone(), nil
}

func (t *Terminal) CallStaff(reason model.CallReason, message string) (model.StaffCall, error) {
	sc := model.NewStaffCall(t.table, reason, strings.TrimSpace(message))
	if err := sc.Validate(); err != nil {
		return model.StaffCall{}, err
	}
	persist(t.log, "insert staff call", func(ctx context.Context) error { return t.st.Insert(ctx, sc) })
	if err := t.eng.SendStaffCall(sc); err != nil {
		return sc, fmt.Errorf("staff call not sent: %w", err)
	}
	return sc, nil
}
