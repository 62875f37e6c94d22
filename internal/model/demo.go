package model

import "time"

// DemoOrders returns three tickets for trying the counter screens: table 1
// in preparation, table 3 ready and table 5 just placed. Lines refer to
// catalog items by name when the catalog has them.
func DemoOrders(catalog []CatalogItem, now time.Time) []OrderTicket {
	ids := make(map[string]string, len(catalog))
	for _, it := range catalog {
		ids[it.Name] = it.ID
	}
	type line struct {
		name  string
		price Money
		qty   int
	}
	demo := []struct {
		table  int
		status Status
		age    time.Duration
		lines  []line
	}{
		{1, StatusInPreparation, 15 * time.Minute, []line{
			{"Cappuccino", Dollars(4, 50), 2},
			{"Croissant", Dollars(3, 0), 1},
		}},
		{3, StatusReady, 30 * time.Minute, []line{
			{"Latte", Dollars(5, 0), 1},
			{"Avocado Toast", Dollars(8, 0), 1},
			{"Blueberry Muffin", Dollars(3, 50), 2},
		}},
		{5, StatusPlaced, 5 * time.Minute, []line{
			{"Espresso", Dollars(3, 50), 3},
			{"Caesar Salad", Dollars(12, 0), 1},
		}},
	}

	out := make([]OrderTicket, 0, len(demo))
	for _, d := range demo {
		items := make([]LineItem, 0, len(d.lines))
		for _, l := range d.lines {
			itemID, ok := ids[l.name]
			if !ok {
				itemID = NewID()
			}
			items = append(items, LineItem{ID: NewID(), ItemID: itemID, Name: l.name, Price: l.price, Quantity: l.qty})
		}
		t := NewTicket(d.table, items, "")
		t.Status = d.status
		t.CreatedAt = now.Add(-d.age).UTC()
		out = append(out, t)
	}
	return out
}
