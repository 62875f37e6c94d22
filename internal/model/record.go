package model

import "strconv"

// Record kinds, as persisted.
const (
	KindCatalogItem  = "catalog_item"
	KindPresentation = "presentation"
	KindOrder        = "order"
	KindStaffCall    = "staff_call"
	KindTable        = "table"
)

func (c CatalogItem) RecordKind() string { return KindCatalogItem }
func (c CatalogItem) RecordID() string   { return c.ID }

func (p PresentationProfile) RecordKind() string { return KindPresentation }
func (p PresentationProfile) RecordID() string   { return p.ID }

func (t OrderTicket) RecordKind() string { return KindOrder }
func (t OrderTicket) RecordID() string   { return t.ID }

func (s StaffCall) RecordKind() string { return KindStaffCall }
func (s StaffCall) RecordID() string   { return s.ID }

func (t Table) RecordKind() string { return KindTable }
func (t Table) RecordID() string   { return strconv.Itoa(t.Number) }
