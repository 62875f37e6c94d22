package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Status string

const (
	StatusPlaced        Status = "placed"
	StatusInPreparation Status = "in_preparation"
	StatusReady         Status = "ready"
	StatusFulfilled     Status = "fulfilled"
	StatusVoided        Status = "voided"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var nextStatus = map[Status]Status{
	StatusPlaced:        StatusInPreparation,
	StatusInPreparation: StatusReady,
	StatusReady:         StatusFulfilled,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusInPreparation, StatusReady, StatusFulfilled, StatusVoided:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusFulfilled || s == StatusVoided }

// Active reports whether a ticket in this status is still in flight.
func (s Status) Active() bool { return s.Valid() && !s.Terminal() }

// Next returns the successor on the happy path, if any.
func (s Status) Next() (Status, bool) {
	n, ok := nextStatus[s]
	return n, ok
}

// CheckTransition allows placed->in_preparation->ready->fulfilled one step
// at a time, and voiding from any non-terminal status.
func CheckTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	if to == StatusVoided && !from.Terminal() {
		return nil
	}
	if n, ok := nextStatus[from]; ok && n == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	v := Status(str)
	if !v.Valid() {
		return fmt.Errorf("unknown status %q", str)
	}
	*s = v
	return nil
}

func ParseStatus(s string) (Status, error) {
	v := Status(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return v, nil
}
