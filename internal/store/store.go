// Package store is the persistence boundary: a small record store keyed by
// kind and id, with SQL implementations over sqlite and Postgres.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrExists    = errors.New("record already exists")
	ErrUnknown   = errors.New("unknown record kind")
	ErrSortField = errors.New("unsupported sort field")
)

// Record is anything the store can persist. The model types implement it.
type Record interface {
	RecordKind() string
	RecordID() string
}

type SortKey struct {
	Field string
	Desc  bool
}

func Asc(field string) SortKey  { return SortKey{Field: field} }
func Desc(field string) SortKey { return SortKey{Field: field, Desc: true} }

type Store interface {
	Insert(ctx context.Context, r Record) error
	Update(ctx context.Context, r Record) error
	Delete(ctx context.Context, kind, id string) error
	// Query returns every record of kind, ordered by sort (id when empty).
	Query(ctx context.Context, kind string, sort ...SortKey) ([]Record, error)
	Close() error
}

// Replacer swaps every record of a kind in one step.
type Replacer interface {
	Replace(ctx context.Context, kind string, records []Record) error
}

// Upsert updates r, inserting it when it does not exist yet.
func Upsert(ctx context.Context, s Store, r Record) error {
	err := s.Update(ctx, r)
	if errors.Is(err, ErrNotFound) {
		return s.Insert(ctx, r)
	}
	return err
}

// ReplaceAll uses the store's Replacer when it has one and falls back to
// delete-then-insert otherwise.
func ReplaceAll(ctx context.Context, s Store, kind string, records []Record) error {
	if r, ok := s.(Replacer); ok {
		return r.Replace(ctx, kind, records)
	}
	old, err := s.Query(ctx, kind)
	if err != nil {
		return err
	}
	for _, r := range old {
		if err := s.Delete(ctx, kind, r.RecordID()); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	for _, r := range records {
		if err := s.Insert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
