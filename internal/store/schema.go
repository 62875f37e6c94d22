package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cafesync/internal/model"
)

// column is a sortable projection of a record stored next to its JSON body.
type column struct {
	name  string
	ddl   string
	value func(Record) any
}

type schema struct {
	table   string
	columns []column
	decode  func([]byte) (Record, error)
}

// sortableTime keeps every digit so timestamps order as strings.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string { return t.UTC().Format(sortableTime) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decodeAs[T Record](b []byte) (Record, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var schemas = map[string]schema{
	model.KindCatalogItem: {
		table: "catalog_item",
		columns: []column{
			{"name", "TEXT NOT NULL", func(r Record) any { return r.(model.CatalogItem).Name }},
			{"category", "TEXT NOT NULL", func(r Record) any { return r.(model.CatalogItem).Category }},
			{"price", "BIGINT NOT NULL", func(r Record) any { return int64(r.(model.CatalogItem).Price) }},
			{"available", "INTEGER NOT NULL", func(r Record) any { return boolInt(r.(model.CatalogItem).Available) }},
		},
		decode: decodeAs[model.CatalogItem],
	},
	model.KindPresentation: {
		table: "presentation",
		columns: []column{
			{"modified_at", "TEXT NOT NULL", func(r Record) any { return ts(r.(model.PresentationProfile).ModifiedAt) }},
		},
		decode: decodeAs[model.PresentationProfile],
	},
	model.KindOrder: {
		table: "order_ticket",
		columns: []column{
			{"table_no", "INTEGER NOT NULL", func(r Record) any { return r.(model.OrderTicket).Table }},
			{"status", "TEXT NOT NULL", func(r Record) any { return string(r.(model.OrderTicket).Status) }},
			{"created_at", "TEXT NOT NULL", func(r Record) any { return ts(r.(model.OrderTicket).CreatedAt) }},
		},
		decode: decodeAs[model.OrderTicket],
	},
	model.KindStaffCall: {
		table: "staff_call",
		columns: []column{
			{"table_no", "INTEGER NOT NULL", func(r Record) any { return r.(model.StaffCall).Table }},
			{"resolved", "INTEGER NOT NULL", func(r Record) any { return boolInt(r.(model.StaffCall).Resolved) }},
			{"created_at", "TEXT NOT NULL", func(r Record) any { return ts(r.(model.StaffCall).CreatedAt) }},
		},
		decode: decodeAs[model.StaffCall],
	},
	model.KindTable: {
		table: "cafe_table",
		columns: []column{
			{"number", "INTEGER NOT NULL", func(r Record) any { return r.(model.Table).Number }},
		},
		decode: decodeAs[model.Table],
	},
}

// sortFields maps public sort names to columns.
var sortFields = map[string]string{
	"id": "id", "name": "name", "category": "category", "price": "price",
	"available": "available", "modified_at": "modified_at", "table": "table_no",
	"status": "status", "created_at": "created_at", "resolved": "resolved",
	"number": "number",
}

func lookup(kind string) (schema, error) {
	s, ok := schemas[kind]
	if !ok {
		return schema{}, fmt.Errorf("%w: %q", ErrUnknown, kind)
	}
	return s, nil
}

func (s schema) orderBy(keys []SortKey) (string, error) {
	if len(keys) == 0 {
		return " ORDER BY id", nil
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		col, ok := sortFields[k.Field]
		if !ok || !s.has(col) {
			return "", fmt.Errorf("%w: %s on %s", ErrSortField, k.Field, s.table)
		}
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
	}
	// stable ties
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (s schema) has(col string) bool {
	if col == "id" {
		return true
	}
	for _, c := range s.columns {
		if c.name == col {
			return true
		}
	}
	return false
}

// ddl returns one statement per entry; some drivers refuse several
// statements in one Exec.
func (s schema) ddl() []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n    id TEXT PRIMARY KEY,\n    body TEXT NOT NULL", s.table)
	for _, c := range s.columns {
		fmt.Fprintf(&b, ",\n    %s %s", c.name, c.ddl)
	}
	b.WriteString("\n)")
	out := []string{b.String()}
	for _, c := range s.columns {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", s.table, c.name, s.table, c.name))
	}
	return out
}
