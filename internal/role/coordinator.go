package role

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/cluster"
	"cafesync/internal/model"
	"cafesync/internal/protocol"
	"cafesync/internal/relay"
	"cafesync/internal/store"
)

// CoordinatorEngine is the part of the sync engine a coordinator uses.
type CoordinatorEngine interface {
	Events() <-chan cluster.Event
	PublishCatalog(items []model.CatalogItem) error
	PublishPresentation(p model.PresentationProfile) error
	PushOrderStatus(u protocol.OrderStatusUpdate) error
	RememberOrigin(orderID string, peer protocol.PeerID)
}

type CoordinatorOptions struct {
	Tables         int
	SeedCatalog    bool
	// SeedDemoOrders fills an empty order book with sample tickets.
	SeedDemoOrders bool
}

type OrderFilter struct {
	Status model.Status
	Table  int
	// ActiveOnly keeps placed, in-preparation and ready tickets.
	ActiveOnly bool
}

type Coordinator struct {
	eng   CoordinatorEngine
	st    store.Store
	relay relay.Publisher
	opts  CoordinatorOptions
	log   zerolog.Logger
	now   func() time.Time

	mu           sync.Mutex
	catalog      []model.CatalogItem
	presentation model.PresentationProfile
	orders       map[string]model.OrderTicket
	calls        map[string]model.StaffCall
	tables       map[int]model.Table

	changes notifier
}

func NewCoordinator(eng CoordinatorEngine, st store.Store, pub relay.Publisher, opts CoordinatorOptions, log zerolog.Logger) *Coordinator {
	if pub == nil {
		pub = relay.Nop{}
	}
	if opts.Tables <= 0 {
		opts.Tables = 6
	}
	return &Coordinator{
		eng: eng, st: st, relay: pub, opts: opts,
		log:          log.With().Str("component", "coordinator").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
		presentation: model.DefaultPresentation(),
		orders:       make(map[string]model.OrderTicket),
		calls:        make(map[string]model.StaffCall),
		tables:       make(map[int]model.Table),
		changes:      make(notifier, changeBuffer),
	}
}

func (c *Coordinator) Changes() <-chan Change { return c.changes }

// Load reads persisted state, seeds what is missing, and publishes the
// catalog and presentation so the engine can reconcile new terminals.
func (c *Coordinator) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, err := c.st.Query(ctx, model.KindCatalogItem)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	c.catalog = decodeAll[model.CatalogItem](rs)
	if len(c.catalog) == 0 && c.opts.SeedCatalog {
		c.catalog = model.DefaultCatalog()
		for _, it := range c.catalog {
			if err := c.st.Insert(ctx, it); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
		}
		c.log.Info().Int("items", len(c.catalog)).Msg("seeded default catalog")
	}
	model.SortCatalog(c.catalog)

	rs, err = c.st.Query(ctx, model.KindPresentation, store.Desc("modified_at"))
	if err != nil {
		return fmt.Errorf("load presentation: %w", err)
	}
	if ps := decodeAll[model.PresentationProfile](rs); len(ps) > 0 {
		c.presentation = ps[0]
	} else if err := c.st.Insert(ctx, c.presentation); err != nil {
		return fmt.Errorf("seed presentation: %w", err)
	}

	rs, err = c.st.Query(ctx, model.KindOrder)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, o := range decodeAll[model.OrderTicket](rs) {
		c.orders[o.ID] = o
	}

	rs, err = c.st.Query(ctx, model.KindStaffCall)
	if err != nil {
		return fmt.Errorf("load staff calls: %w", err)
	}
	for _, sc := range decodeAll[model.StaffCall](rs) {
		c.calls[sc.ID] = sc
	}

	rs, err = c.st.Query(ctx, model.KindTable, store.Asc("number"))
	if err != nil {
		return fmt.Errorf("load tables: %w", err)
	}
	tables := decodeAll[model.Table](rs)
	if len(tables) == 0 {
		tables = model.DefaultTables(c.opts.Tables)
		for _, t := range tables {
			if err := c.st.Insert(ctx, t); err != nil {
				return fmt.Errorf("seed tables: %w", err)
			}
		}
	}
	for _, t := range tables {
		c.tables[t.Number] = t
		if t.CurrentOrderID != "" && t.PeerID != "" {
			c.eng.RememberOrigin(t.CurrentOrderID, protocol.PeerID(t.PeerID))
		}
	}
	if len(c.orders) == 0 && c.opts.SeedDemoOrders {
		if err := c.seedDemoOrdersLocked(ctx); err != nil {
			return err
		}
	}

	c.log.Info().Int("items", len(c.catalog)).Int("orders", len(c.orders)).Int("tables", len(c.tables)).Msg("state loaded")
	if err := c.eng.PublishCatalog(model.CloneCatalog(c.catalog)); err != nil {
		return err
	}
	return c.eng.PublishPresentation(c.presentation)
}

func (c *Coordinator) seedDemoOrdersLocked(ctx context.Context) error {
	for _, o := range model.DemoOrders(c.catalog, c.now()) {
		if err := c.st.Insert(ctx, o); err != nil {
			return fmt.Errorf("seed demo orders: %w", err)
		}
		c.orders[o.ID] = o
		tb, ok := c.tables[o.Table]
		if !ok {
			tb = model.Table{Number: o.Table}
		}
		tb.Occupied = true
		tb.CurrentOrderID = o.ID
		tb.LastActivity = o.CreatedAt
		if err := store.Upsert(ctx, c.st, tb); err != nil {
			return fmt.Errorf("seed demo orders: %w", err)
		}
		c.tables[o.Table] = tb
	}
	c.log.Info().Int("orders", len(c.orders)).Msg("seeded demo orders")
	return nil
}

// Run consumes engine events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.eng.Events():
			switch ev.Kind {
			case cluster.OrderReceived:
				c.receiveOrder(ctx, ev.Peer.ID, ev.Order)
			case cluster.StaffCallReceived:
				c.receiveStaffCall(ctx, ev.StaffCall)
			case cluster.PeerJoined, cluster.PeerLeft:
				c.changes.notify(PeersChanged)
			default:
				c.log.Debug().Str("kind", ev.Kind.String()).Msg("ignoring engine event")
			}
		}
	}
}

func (c *Coordinator) receiveOrder(ctx context.Context, from protocol.PeerID, t model.OrderTicket) {
	c.mu.Lock()
	if _, dup := c.orders[t.ID]; dup {
		c.mu.Unlock()
		c.log.Info().Str("order", t.ID).Msg("duplicate order ignored")
		return
	}
	c.orders[t.ID] = t
	persist(c.log, "insert order", func(ctx context.Context) error { return c.st.Insert(ctx, t) })

	tb, ok := c.tables[t.Table]
	if !ok {
		tb = model.Table{Number: t.Table}
	}
	tb.Occupied = true
	tb.CurrentOrderID = t.ID
	tb.LastActivity = c.now()
	tb.PeerID = string(from)
	c.tables[t.Table] = tb
	persist(c.log, "occupy table", func(ctx context.Context) error { return store.Upsert(ctx, c.st, tb) })
	c.mu.Unlock()

	c.log.Info().Str("order", t.ID).Int("table", t.Table).Str("total", t.Total().String()).Int("lines", len(t.Items())).Msg("order received")
	c.publish(ctx, relay.NewOrderEvent(relay.OrderPlaced, t))
	c.changes.notify(OrdersChanged, TablesChanged)
}

func (c *Coordinator) receiveStaffCall(ctx context.Context, sc model.StaffCall) {
	c.mu.Lock()
	if _, dup := c.calls[sc.ID]; dup {
		c.mu.Unlock()
		return
	}
	sc.Resolved = false
	c.calls[sc.ID] = sc
	persist(c.log, "insert staff call", func(ctx context.Context) error { return c.st.Insert(ctx, sc) })
	c.mu.Unlock()

	c.log.Info().Int("table", sc.Table).Str("reason", string(sc.Reason)).Msg("staff call")
	c.publish(ctx, relay.NewStaffEvent(relay.StaffCalled, sc))
	c.changes.notify(StaffCallsChanged)
}

func (c *Coordinator) publish(ctx context.Context, e relay.Event) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.relay.Publish(ctx, e); err != nil {
		c.log.Warn().Err(err).Str("key", e.RoutingKey()).Msg("relay publish failed")
	}
}

// Catalog

func (c *Coordinator) Catalog() []model.CatalogItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneCatalog(c.catalog)
}

func (c *Coordinator) indexLocked(id string) int {
	for i, it := range c.catalog {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// publishCatalogLocked must run under mu so publishes keep mutation order.
func (c *Coordinator) publishCatalogLocked() {
	if err := c.eng.PublishCatalog(model.CloneCatalog(c.catalog)); err != nil {
		c.log.Error().Err(err).Msg("catalog publish failed")
	}
}

func (c *Coordinator) AddItem(item model.CatalogItem) (model.CatalogItem, error) {
	if strings.TrimSpace(item.ID) == "" {
		item.ID = model.NewID()
	}
	if err := item.Validate(); err != nil {
		return model.CatalogItem{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(item.ID) >= 0 {
		return model.CatalogItem{}, fmt.Errorf("catalog item %s already exists", item.ID)
	}
	next := append(model.CloneCatalog(c.catalog), item)
	model.SortCatalog(next)
	c.catalog = next
	persist(c.log, "insert catalog item", func(ctx context.Context) error { return c.st.Insert(ctx, item) })
	c.publishCatalogLocked()
	c.changes.notify(CatalogChanged)
	return item, nil
}

func (c *Coordinator) UpdateItem(item model.CatalogItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(item.ID)
	if i < 0 {
		return fmt.Errorf("catalog item %s: %w", item.ID, model.ErrNotFound)
	}
	next := model.CloneCatalog(c.catalog)
	next[i] = item
	model.SortCatalog(next)
	c.catalog = next
	persist(c.log, "update catalog item", func(ctx context.Context) error { return c.st.Update(ctx, item) })
	c.publishCatalogLocked()
	c.changes.notify(CatalogChanged)
	return nil
}

func (c *Coordinator) DeleteItem(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("catalog item %s: %w", id, model.ErrNotFound)
	}
	next := make([]model.CatalogItem, 0, len(c.catalog)-1)
	next = append(next, c.catalog[:i]...)
	next = append(next, c.catalog[i+1:]...)
	c.catalog = next
	persist(c.log, "delete catalog item", func(ctx context.Context) error {
		return c.st.Delete(ctx, model.KindCatalogItem, id)
	})
	c.publishCatalogLocked()
	c.changes.notify(CatalogChanged)
	return nil
}

func (c *Coordinator) SetAvailability(id string, available bool) error {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("catalog item %s: %w", id, model.ErrNotFound)
	}
	item := c.catalog[i]
	c.mu.Unlock()
	if item.Available == available {
		return nil
	}
	item.Available = available
	return c.UpdateItem(item)
}

// Presentation

func (c *Coordinator) Presentation() model.PresentationProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presentation
}

// UpdatePresentation replaces the active profile, keeping its id.
func (c *Coordinator) UpdatePresentation(p model.PresentationProfile) (model.PresentationProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.ID = c.presentation.ID
	p.ModifiedAt = c.now()
	if err := p.Validate(); err != nil {
		return model.PresentationProfile{}, err
	}
	if err := c.eng.PublishPresentation(p); err != nil {
		return model.PresentationProfile{}, err
	}
	c.presentation = p
	persist(c.log, "update presentation", func(ctx context.Context) error { return store.Upsert(ctx, c.st, p) })
	c.changes.notify(PresentationChanged)
	return p, nil
}

// Orders

func (c *Coordinator) Order(id string) (model.OrderTicket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o.Clone(), ok
}

// Orders returns matching tickets, oldest first.
func (c *Coordinator) Orders(f OrderFilter) []model.OrderTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.OrderTicket, 0, len(c.orders))
	for _, o := range c.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Table != 0 && o.Table != f.Table {
			continue
		}
		if f.ActiveOnly && !o.Status.Active() {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetOrderStatus moves a ticket along its lifecycle, tells the terminal that
// placed it, and frees the table once the ticket is done.
func (c *Coordinator) SetOrderStatus(ctx context.Context, id string, to model.Status) (model.OrderTicket, error) {
	c.mu.Lock()
	o, ok := c.orders[id]
	if !ok {
		c.mu.Unlock()
		return model.OrderTicket{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	if err := o.Transition(to, c.now()); err != nil {
		c.mu.Unlock()
		return model.OrderTicket{}, err
	}
	c.orders[id] = o
	persist(c.log, "update order", func(ctx context.Context) error { return c.st.Update(ctx, o) })

	freed := false
	if to.Terminal() {
		if tb, ok := c.tables[o.Table]; ok && tb.CurrentOrderID == o.ID {
			tb.Occupied = false
			tb.CurrentOrderID = ""
			tb.LastActivity = c.now()
			c.tables[o.Table] = tb
			persist(c.log, "free table", func(ctx context.Context) error { return store.Upsert(ctx, c.st, tb) })
			freed = true
		}
	}
	err := c.eng.PushOrderStatus(protocol.OrderStatusUpdate{OrderID: o.ID, Table: o.Table, Status: o.Status, CompletedAt: o.CompletedAt})
	c.mu.Unlock()

	if err != nil {
		c.log.Warn().Err(err).Str("order", id).Msg("status push failed")
	}
	c.log.Info().Str("order", id).Str("status", string(to)).Msg("order status changed")
	c.publish(ctx, relay.NewOrderEvent(relay.OrderStatus, o))
	if freed {
		c.changes.notify(OrdersChanged, TablesChanged)
	} else {
		c.changes.notify(OrdersChanged)
	}
	return o.Clone(), nil
}

// AdvanceOrder moves a ticket one step forward.
func (c *Coordinator) AdvanceOrder(ctx context.Context, id string) (model.OrderTicket, error) {
	o, ok := c.Order(id)
	if !ok {
		return model.OrderTicket{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	next, ok := o.Status.Next()
	if !ok {
		return model.OrderTicket{}, fmt.Errorf("order %s is %s: %w", id, o.Status, model.ErrInvalidTransition)
	}
	return c.SetOrderStatus(ctx, id, next)
}

// ClearOrders drops every order and frees every table.
func (c *Coordinator) ClearOrders() {
	c.mu.Lock()
	c.orders = make(map[string]model.OrderTicket)
	persist(c.log, "clear orders", func(ctx context.Context) error {
		return store.ReplaceAll(ctx, c.st, model.KindOrder, nil)
	})
	now := c.now()
	for n, tb := range c.tables {
		tb.Occupied = false
		tb.CurrentOrderID = ""
		tb.LastActivity = now
		c.tables[n] = tb
	}
	tables := c.tablesLocked()
	persist(c.log, "reset tables", func(ctx context.Context) error {
		return store.ReplaceAll(ctx, c.st, model.KindTable, records(tables))
	})
	c.mu.Unlock()
	c.changes.notify(OrdersChanged, TablesChanged)
}

// Tables

func (c *Coordinator) Tables() []model.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tablesLocked()
}

func (c *Coordinator) tablesLocked() []model.Table {
	out := make([]model.Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Staff calls

// StaffCalls returns calls oldest first; resolved ones only when asked.
func (c *Coordinator) StaffCalls(includeResolved bool) []model.StaffCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.StaffCall, 0, len(c.calls))
	for _, sc := range c.calls {
		if sc.Resolved && !includeResolved {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (c *Coordinator) ResolveStaffCall(ctx context.Context, id string) error {
	c.mu.Lock()
	sc, ok := c.calls[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("staff call %s: %w", id, model.ErrNotFound)
	}
	if sc.Resolved {
		c.mu.Unlock()
		return nil
	}
	sc.Resolved = true
	c.calls[id] = sc
	persist(c.log, "resolve staff call", func(ctx context.Context) error { return c.st.Update(ctx, sc) })
	c.mu.Unlock()

	c.publish(ctx, relay.NewStaffEvent(relay.StaffResolved, sc))
	c.changes.notify(StaffCallsChanged)
	return nil
}

// IsNotFound reports whether err means the target does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, store.ErrNotFound)
}
