package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// LineItem captures a catalog item's name and price at order time.
type LineItem struct {
	ID       string `json:"id"`
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Price    Money  `json:"price"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

func (l LineItem) Subtotal() Money { return l.Price * Money(l.Quantity) }

func (l LineItem) Validate() error {
	switch {
	case l.ID == "":
		return errors.New("line item: missing id")
	case l.ItemID == "":
		return fmt.Errorf("line item %s: missing catalog reference", l.ID)
	case l.Quantity < 1:
		return fmt.Errorf("line item %s: quantity %d < 1", l.ID, l.Quantity)
	case l.Price < 0:
		return fmt.Errorf("line item %s: negative price", l.ID)
	}
	if _, ok := mulQty(l.Price, l.Quantity); !ok {
		return fmt.Errorf("line item %s: subtotal out of range", l.ID)
	}
	return nil
}

func sumLines(items []LineItem) Money {
	var total Money
	for _, l := range items {
		total += l.Subtotal()
	}
	return total
}

// OrderTicket is a submitted order. Line items and total are private so the
// total can only change together with the items it is computed from.
// Mutators never write into an existing backing array, which keeps value
// copies of a ticket independent.
type OrderTicket struct {
	ID          string
	Table       int
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Note        string

	items []LineItem
	total Money
}

func NewTicket(table int, items []LineItem, note string) OrderTicket {
	t := OrderTicket{
		ID:        NewID(),
		Table:     table,
		Status:    StatusPlaced,
		CreatedAt: time.Now().UTC(),
		Note:      strings.TrimSpace(note),
	}
	t.SetItems(items)
	return t
}

func (t OrderTicket) Items() []LineItem {
	out := make([]LineItem, len(t.items))
	copy(out, t.items)
	return out
}

func (t OrderTicket) Total() Money { return t.total }

func (t *OrderTicket) SetItems(items []LineItem) {
	t.items = make([]LineItem, len(items))
	copy(t.items, items)
	t.total = sumLines(t.items)
}

func (t *OrderTicket) AddItem(l LineItem) {
	next := make([]LineItem, 0, len(t.items)+1)
	next = append(next, t.items...)
	t.SetItems(append(next, l))
}

func (t *OrderTicket) RemoveItem(lineID string) bool {
	next := make([]LineItem, 0, len(t.items))
	for _, l := range t.items {
		if l.ID != lineID {
			next = append(next, l)
		}
	}
	if len(next) == len(t.items) {
		return false
	}
	t.SetItems(next)
	return true
}

func (t *OrderTicket) SetQuantity(lineID string, qty int) error {
	if qty < 1 {
		return fmt.Errorf("quantity %d < 1", qty)
	}
	next := t.Items()
	for i := range next {
		if next[i].ID == lineID {
			next[i].Quantity = qty
			t.SetItems(next)
			return nil
		}
	}
	return fmt.Errorf("line %s: %w", lineID, ErrNotFound)
}

// Transition moves the ticket to a new status; fulfilment stamps CompletedAt.
func (t *OrderTicket) Transition(to Status, now time.Time) error {
	if err := CheckTransition(t.Status, to); err != nil {
		return err
	}
	t.Status = to
	if to == StatusFulfilled {
		ts := now.UTC()
		t.CompletedAt = &ts
	}
	return nil
}

func (t OrderTicket) Validate() error {
	if t.ID == "" {
		return errors.New("order: missing id")
	}
	if t.Table < 1 {
		return fmt.Errorf("order %s: table %d < 1", t.ID, t.Table)
	}
	if len(t.items) == 0 {
		return fmt.Errorf("order %s: no line items", t.ID)
	}
	var sum Money
	for _, l := range t.items {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("order %s: %w", t.ID, err)
		}
		sub, _ := mulQty(l.Price, l.Quantity)
		if sum > math.MaxInt64-sub {
			return fmt.Errorf("order %s: total out of range", t.ID)
		}
		sum += sub
	}
	if t.total < 0 || t.total != sum {
		return fmt.Errorf("order %s: total %s does not match its items", t.ID, t.total)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("order %s: unknown status %q", t.ID, t.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (t OrderTicket) Clone() OrderTicket {
	c := t
	c.SetItems(t.items)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

type ticketJSON struct {
	ID          string     `json:"id"`
	Table       int        `json:"table"`
	Items       []LineItem `json:"items"`
	Total       Money      `json:"total"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Note        string     `json:"note,omitempty"`
}

func (t OrderTicket) MarshalJSON() ([]byte, error) {
	items := t.items
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(ticketJSON{
		ID: t.ID, Table: t.Table, Items: items, Total: t.total, Status: t.Status,
		CreatedAt: t.CreatedAt, CompletedAt: t.CompletedAt, Note: t.Note,
	})
}

// UnmarshalJSON ignores the encoded total and recomputes it from the items.
func (t *OrderTicket) UnmarshalJSON(b []byte) error {
	var w ticketJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*t = OrderTicket{
		ID: w.ID, Table: w.Table, Status: w.Status,
		CreatedAt: w.CreatedAt, CompletedAt: w.CompletedAt, Note: w.Note,
	}
	t.SetItems(w.Items)
	return nil
}
