// Package relay forwards coordinator events (accepted orders, status
// changes, staff calls) to a message broker for kitchen displays and
// back-office consumers. It is optional; Nop is used when no broker is
// configured.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"cafesync/internal/model"
)

type EventType string

const (
	OrderPlaced   EventType = "order.placed"
	OrderStatus   EventType = "order.status"
	StaffCalled   EventType = "staff.call"
	StaffResolved EventType = "staff.resolved"
)

type Event struct {
	Type      EventType          `json:"type"`
	At        time.Time          `json:"at"`
	Order     *model.OrderTicket `json:"order,omitempty"`
	StaffCall *model.StaffCall   `json:"staff_call,omitempty"`
}

// RoutingKey is the topic key: order.placed, order.status.<status>,
// staff.call or staff.resolved.
func (e Event) RoutingKey() string {
	if e.Type == OrderStatus && e.Order != nil {
		return string(OrderStatus) + "." + string(e.Order.Status)
	}
	return string(e.Type)
}

func (e Event) Body() ([]byte, error) { return json.Marshal(e) }

func NewOrderEvent(t EventType, o model.OrderTicket) Event {
	o = o.Clone()
	return Event{Type: t, At: time.Now().UTC(), Order: &o}
}

func NewStaffEvent(t EventType, c model.StaffCall) Event {
	return Event{Type: t, At: time.Now().UTC(), StaffCall: &c}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
