package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("item unavailable")
)

// CatalogItem is one menu entry. Only the coordinator edits these;
// terminals keep a read-only mirror.
type CatalogItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       Money  `json:"price"`
	Category    string `json:"category"`
	Image       string `json:"image,omitempty"`
	Available   bool   `json:"available"`
	PrepMinutes int    `json:"prep_minutes"`
}

func (c CatalogItem) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return errors.New("catalog item: missing id")
	case strings.TrimSpace(c.Name) == "":
		return fmt.Errorf("catalog item %s: missing name", c.ID)
	case c.Price < 0:
		return fmt.Errorf("catalog item %s: negative price", c.ID)
	case c.PrepMinutes < 0:
		return fmt.Errorf("catalog item %s: negative preparation time", c.ID)
	}
	return nil
}

// SortCatalog orders items by category, then name, the way menus are shown.
func SortCatalog(items []CatalogItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Name < items[j].Name
	})
}

// CloneCatalog copies a catalog slice so callers never share backing arrays.
func CloneCatalog(items []CatalogItem) []CatalogItem {
	if items == nil {
		return []CatalogItem{}
	}
	out := make([]CatalogItem, len(items))
	copy(out, items)
	return out
}

// DefaultCatalog is the starter menu a fresh coordinator offers.
func DefaultCatalog() []CatalogItem {
	seed := []struct {
		name, desc, cat string
		price           Money
	}{
		{"Espresso", "Rich and bold single shot", "Coffee", Dollars(3, 50)},
		{"Cappuccino", "Espresso with steamed milk and foam", "Coffee", Dollars(4, 50)},
		{"Latte", "Espresso with steamed milk", "Coffee", Dollars(5, 0)},
		{"Americano", "Espresso with hot water", "Coffee", Dollars(3, 0)},
		{"Croissant", "Buttery, flaky pastry", "Pastry", Dollars(3, 0)},
		{"Blueberry Muffin", "Fresh baked with real blueberries", "Pastry", Dollars(3, 50)},
		{"Avocado Toast", "Smashed avocado on sourdough", "Food", Dollars(8, 0)},
		{"Caesar Salad", "Crisp romaine with parmesan", "Food", Dollars(12, 0)},
	}
	out := make([]CatalogItem, 0, len(seed))
	for _, s := range seed {
		out = append(out, CatalogItem{
			ID: NewID(), Name: s.name, Description: s.desc, Category: s.cat,
			Price: s.price, Available: true, PrepMinutes: 10,
		})
	}
	SortCatalog(out)
	return out
}
