package model

import (
	"errors"
	"fmt"
	"time"
)

type CallReason string

const (
	ReasonAssistance CallReason = "assistance"
	ReasonOrderIssue CallReason = "order_issue"
	ReasonBilling    CallReason = "billing"
	ReasonCleanup    CallReason = "cleanup"
	ReasonRefill     CallReason = "refill"
	ReasonOther      CallReason = "other"
)

func (r CallReason) Valid() bool {
	switch r {
	case ReasonAssistance, ReasonOrderIssue, ReasonBilling, ReasonCleanup, ReasonRefill, ReasonOther:
		return true
	}
	return false
}

// StaffCall is a table asking for a staff member.
type StaffCall struct {
	ID        string     `json:"id"`
	Table     int        `json:"table"`
	Reason    CallReason `json:"reason"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Resolved  bool       `json:"resolved"`
}

func NewStaffCall(table int, reason CallReason, msg string) StaffCall {
	return StaffCall{ID: NewID(), Table: table, Reason: reason, Message: msg, CreatedAt: time.Now().UTC()}
}

func (s StaffCall) Validate() error {
	if s.ID == "" {
		return errors.New("staff call: missing id")
	}
	if s.Table < 1 {
		return fmt.Errorf("staff call %s: table %d < 1", s.ID, s.Table)
	}
	if !s.Reason.Valid() {
		return fmt.Errorf("staff call %s: unknown reason %q", s.ID, s.Reason)
	}
	return nil
}
