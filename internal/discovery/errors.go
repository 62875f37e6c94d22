package discovery

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIdentifier = errors.New("invalid service identifier")
	ErrNameCollision     = errors.New("name already advertised")
	ErrUnavailable       = errors.New("network unavailable")
)

type ErrorKind int

const (
	KindInvalidIdentifier ErrorKind = iota + 1
	KindNameCollision
	KindUnavailable
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidIdentifier:
		return "invalid-identifier"
	case KindNameCollision:
		return "name-collision"
	case KindUnavailable:
		return "network-unavailable"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

// StartError is a failed attempt to start advertising or browsing. Apart
// from a bad identifier, which is a configuration mistake, the operator can
// retry it.
type StartError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("discovery: %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StartError) Unwrap() error   { return e.Err }
func (e *StartError) Retryable() bool { return e.Kind != KindInvalidIdentifier }

func classify(op string, err error) *StartError {
	var se *StartError
	if errors.As(err, &se) {
		return se
	}
	kind := KindTransport
	switch {
	case errors.Is(err, ErrInvalidIdentifier):
		kind = KindInvalidIdentifier
	case errors.Is(err, ErrNameCollision):
		kind = KindNameCollision
	case errors.Is(err, ErrUnavailable):
		kind = KindUnavailable
	}
	return &StartError{Op: op, Kind: kind, Err: err}
}
