package model

import "strings"

// Cart is a terminal's not-yet-submitted list of line items.
type Cart struct {
	lines []LineItem
}

// Add puts one unit of item in the cart, bumping the quantity when the
// item is already there.
func (c *Cart) Add(item CatalogItem) (LineItem, error) {
	if !item.Available {
		return LineItem{}, ErrUnavailable
	}
	for i := range c.lines {
		if c.lines[i].ItemID == item.ID {
			c.lines[i].Quantity++
			return c.lines[i], nil
		}
	}
	l := LineItem{ID: NewID(), ItemID: item.ID, Name: item.Name, Price: item.Price, Quantity: 1}
	c.lines = append(c.lines, l)
	return l, nil
}

func (c *Cart) Remove(lineID string) bool {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			c.lines = append(c.lines[:i:i], c.lines[i+1:]...)
			return true
		}
	}
	return false
}

// SetQuantity updates a line; a quantity of zero or less removes it.
func (c *Cart) SetQuantity(lineID string, qty int) bool {
	if qty <= 0 {
		return c.Remove(lineID)
	}
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			c.lines[i].Quantity = qty
			return true
		}
	}
	return false
}

func (c *Cart) SetNote(lineID, note string) bool {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			c.lines[i].Note = strings.TrimSpace(note)
			return true
		}
	}
	return false
}

func (c *Cart) Lines() []LineItem {
	out := make([]LineItem, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Total() Money { return sumLines(c.lines) }
func (c *Cart) Empty() bool  { return len(c.lines) == 0 }
func (c *Cart) Clear()       { c.lines = nil }
