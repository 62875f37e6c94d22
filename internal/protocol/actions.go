package protocol

import (
	"errors"
	"fmt"
	"time"

	"cafesync/internal/model"
)

// OrderSubmission carries one ticket from a terminal to the coordinator.
type OrderSubmission struct {
	Ticket model.OrderTicket
}

func (OrderSubmission) Kind() Kind        { return KindOrder }
func (o OrderSubmission) Validate() error { return o.Ticket.Validate() }

// OrderStatusUpdate tells the originating terminal that its ticket moved.
type OrderStatusUpdate struct {
	OrderID     string       `json:"order_id"`
	Table       int          `json:"table"`
	Status      model.Status `json:"status"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

func (OrderStatusUpdate) Kind() Kind { return KindOrderStatus }

func (s OrderStatusUpdate) Validate() error {
	if s.OrderID == "" {
		return errors.New("order status: missing order id")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("order status %s: unknown status %q", s.OrderID, s.Status)
	}
	return nil
}

// StaffCallNotice asks the coordinator to send someone to a table.
type StaffCallNotice struct {
	Call model.StaffCall
}

func (StaffCallNotice) Kind() Kind        { return KindStaffCall }
func (s StaffCallNotice) Validate() error { return s.Call.Validate() }
