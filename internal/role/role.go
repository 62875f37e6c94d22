// Package role holds the two device controllers. The Coordinator owns the
// catalog, presentation and order book; a Terminal mirrors what the
// coordinator publishes and builds orders for one table.
package role

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"cafesync/internal/store"
)

var ErrEmptyCart = errors.New("cart is empty")

type Change int

const (
	CatalogChanged Change = iota + 1
	PresentationChanged
	OrdersChanged
	TablesChanged
	StaffCallsChanged
	CartChanged
	TicketChanged
	PeersChanged
)

func (c Change) String() string {
	switch c {
	case CatalogChanged:
		return "catalog"
	case PresentationChanged:
		return "presentation"
	case OrdersChanged:
		return "orders"
	case TablesChanged:
		return "tables"
	case StaffCallsChanged:
		return "staff-calls"
	case CartChanged:
		return "cart"
	case TicketChanged:
		return "ticket"
	case PeersChanged:
		return "peers"
	}
	return "unknown"
}

const (
	changeBuffer = 64
	writeTimeout = 5 * time.Second
)

// notifier is a lossy "something changed" signal; readers re-read state on
// every value.
type notifier chan Change

func (n notifier) notify(cs ...Change) {
	for _, c := range cs {
		select {
		case n <- c:
		default:
		}
	}
}

// persist runs a store write and logs failures; the in-memory change stays
// either way.
func persist(log zerolog.Logger, what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Str("op", what).Msg("persistence failed; keeping in-memory state")
	}
}

func records[T store.Record](in []T) []store.Record {
	out := make([]store.Record, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func decodeAll[T store.Record](rs []store.Record) []T {
	out := make([]T, 0, len(rs))
	for _, r := range rs {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
