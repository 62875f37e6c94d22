package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"cafesync/internal/cluster"
	"cafesync/internal/model"
	"cafesync/internal/role"
)

type console struct {
	eng   *cluster.Engine
	coord *role.Coordinator
	term  *role.Terminal
}

// watch prints state changes between commands.
func (c *console) watch(ctx context.Context) {
	var changes <-chan role.Change
	if c.coord != nil {
		changes = c.coord.Changes()
	} else {
		changes = c.term.Changes()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-changes:
			switch {
			case ch == role.TicketChanged && c.term != nil:
				if o, ok := c.term.ActiveTicket(); ok {
					fmt.Printf("\n* order %s is %s\n> ", shortID(o.ID), o.Status)
				} else {
					fmt.Print("\n* order closed\n> ")
				}
			case ch == role.OrdersChanged || ch == role.StaffCallsChanged || ch == role.CatalogChanged:
				fmt.Printf("\n* %s updated\n> ", ch)
			}
		}
	}
}

func (c *console) repl(ctx context.Context) {
	s := bufio.NewScanner(os.Stdin)
	prompt := func() { fmt.Print("> ") }
	prompt()
	for s.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			prompt()
			continue
		}
		args := strings.Fields(line)
		cmd := strings.ToLower(args[0])
		switch {
		case cmd == "quit" || cmd == "exit":
			return
		case c.shared(cmd, args):
		case c.coord != nil && c.coordinator(ctx, cmd, args):
		case c.term != nil && c.terminal(cmd, args):
		default:
			fmt.Println("unknown command; type 'help'")
		}
		prompt()
	}
}

func (c *console) shared(cmd string, args []string) bool {
	switch cmd {
	case "help":
		c.help()
	case "whoami":
		st := c.eng.Status()
		fmt.Printf("%s %q %s at %s\n", st.Role, st.Self.Name, st.Self.ID, st.Self.Addr)
	case "status", "peers":
		st := c.eng.Status()
		d := st.Discovery
		fmt.Printf("advertising=%v browsing=%v reachable=%v pending=%v\n", d.Advertising, d.Browsing, d.Reachable, d.Pending)
		if d.LastError != nil {
			fmt.Println("discovery error:", d.LastError)
		}
		if st.LastError != nil {
			fmt.Println("last error:", st.LastError)
		}
		if len(st.Peers) == 0 {
			fmt.Println("(no peers)")
		}
		for _, p := range st.Peers {
			fmt.Printf("- %-12s %-11s %-10s since %s\n", p.Name, p.Role, p.State, humanize.Time(p.Since))
		}
	case "advertise", "browse":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			fmt.Printf("usage: %s on|off\n", cmd)
			break
		}
		var err error
		switch {
		case cmd == "advertise" && args[1] == "on":
			err = c.eng.StartAdvertise()
		case cmd == "advertise":
			c.eng.StopAdvertise()
		case args[1] == "on":
			err = c.eng.StartBrowse()
		default:
			c.eng.StopBrowse()
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	case "disconnect":
		c.eng.DisconnectAll()
	case "restart":
		if len(args) > 1 && args[1] == "-f" {
			c.eng.ForceRestart()
		} else {
			c.eng.Restart()
		}
		fmt.Println("restart scheduled")
	case "clear-error":
		c.eng.ClearError()
	default:
		return false
	}
	return true
}

func (c *console) help() {
	fmt.Println(`commands:
  whoami | status | advertise on|off | browse on|off
  disconnect | restart [-f] | clear-error | quit`)
	if c.coord != nil {
		fmt.Println(`  menu | add <price> <category> <name...> | price <n> <price>
  avail <n> on|off | rm <n> | title <name...>
  orders [all] | advance <order> | set <order> <status> | void <order> | clear-orders
  tables | calls [all] | resolve <call>`)
	} else {
		fmt.Println(`  menu | add <n> | cart | qty <line> <q> | note <line> <text...>
  rm <line> | clear | submit [note...] | ticket | call <reason> [message...]`)
	}
}

func (c *console) coordinator(ctx context.Context, cmd string, args []string) bool {
	co := c.coord
	switch cmd {
	case "menu":
		printMenu(co.Catalog())
	case "add":
		if len(args) < 4 {
			fmt.Println("usage: add <price> <category> <name...>")
			break
		}
		price, err := model.ParseMoney(args[1])
		if err != nil {
			fmt.Println("error:", err)
			break
		}
		it, err := co.AddItem(model.CatalogItem{Name: strings.Join(args[3:], " "), Category: args[2], Price: price, Available: true})
		report(err, "added "+it.Name)
	case "price", "avail", "rm":
		if len(args) < 2 || (cmd != "rm" && len(args) < 3) {
			fmt.Printf("usage: %s <n>%s\n", cmd, map[string]string{"price": " <price>", "avail": " on|off", "rm": ""}[cmd])
			break
		}
		it, ok := pick(co.Catalog(), args[1])
		if !ok {
			fmt.Println("no such menu entry")
			break
		}
		switch cmd {
		case "price":
			p, err := model.ParseMoney(args[2])
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			it.Price = p
			report(co.UpdateItem(it), it.Name+" now "+p.String())
		case "avail":
			report(co.SetAvailability(it.ID, args[2] == "on"), it.Name+" availability set")
		case "rm":
			report(co.DeleteItem(it.ID), "removed "+it.Name)
		}
	case "title":
		if len(args) < 2 {
			fmt.Println("usage: title <name...>")
			break
		}
		p := co.Presentation()
		p.DisplayName = strings.Join(args[1:], " ")
		_, err := co.UpdatePresentation(p)
		report(err, "title set")
	case "orders":
		list := co.Orders(role.OrderFilter{ActiveOnly: len(args) < 2 || args[1] != "all"})
		if len(list) == 0 {
			fmt.Println("(no orders)")
		}
		for _, o := range list {
			fmt.Printf("- %s table %d %-14s %8s  %s\n", shortID(o.ID), o.Table, o.Status, o.Total(), humanize.Time(o.CreatedAt))
			for _, l := range o.Items() {
				fmt.Printf("    %dx %s", l.Quantity, l.Name)
				if l.Note != "" {
					fmt.Printf(" (%s)", l.Note)
				}
				fmt.Println()
			}
			if o.Note != "" {
				fmt.Println("    note:", o.Note)
			}
		}
	case "advance", "set", "void":
		if len(args) < 2 || (cmd == "set" && len(args) < 3) {
			fmt.Printf("usage: %s <order>%s\n", cmd, map[bool]string{true: " <status>"}[cmd == "set"])
			break
		}
		id, ok := c.orderID(args[1])
		if !ok {
			fmt.Println("no such order")
			break
		}
		var (
			o   model.OrderTicket
			err error
		)
		switch cmd {
		case "advance":
			o, err = co.AdvanceOrder(ctx, id)
		case "void":
			o, err = co.SetOrderStatus(ctx, id, model.StatusVoided)
		default:
			var st model.Status
			if st, err = model.ParseStatus(args[2]); err == nil {
				o, err = co.SetOrderStatus(ctx, id, st)
			}
		}
		report(err, fmt.Sprintf("order %s is %s", shortID(id), o.Status))
	case "clear-orders":
		co.ClearOrders()
		fmt.Println("orders cleared")
	case "tables":
		for _, t := range co.Tables() {
			state := "free"
			if t.Occupied {
				state = "occupied by " + shortID(t.CurrentOrderID)
			}
			fmt.Printf("- table %d %s (%s)\n", t.Number, state, humanize.Time(t.LastActivity))
		}
	case "calls":
		list := co.StaffCalls(len(args) > 1 && args[1] == "all")
		if len(list) == 0 {
			fmt.Println("(no staff calls)")
		}
		for _, sc := range list {
			fmt.Printf("- %s table %d %s %q resolved=%v %s\n", shortID(sc.ID), sc.Table, sc.Reason, sc.Message, sc.Resolved, humanize.Time(sc.CreatedAt))
		}
	case "resolve":
		if len(args) < 2 {
			fmt.Println("usage: resolve <call>")
			break
		}
		for _, sc := range co.StaffCalls(false) {
			if strings.HasPrefix(sc.ID, args[1]) {
				report(co.ResolveStaffCall(ctx, sc.ID), "resolved")
				return true
			}
		}
		fmt.Println("no such staff call")
	default:
		return false
	}
	return true
}

func (c *console) terminal(cmd string, args []string) bool {
	t := c.term
	switch cmd {
	case "menu":
		fmt.Println(t.Presentation().DisplayName)
		printMenu(t.Catalog())
		if !t.Connected() {
			fmt.Println("(not connected to the counter)")
		}
	case "add":
		if len(args) < 2 {
			fmt.Println("usage: add <n>")
			break
		}
		it, ok := pick(t.Catalog(), args[1])
		if !ok {
			fmt.Println("no such menu entry")
			break
		}
		_, err := t.AddToCart(it.ID)
		report(err, "added "+it.Name)
	case "cart":
		c.printCart()
	case "qty", "note", "rm":
		if len(args) < 2 || (cmd != "rm" && len(args) < 3) {
			fmt.Printf("usage: %s <line>%s\n", cmd, map[string]string{"qty": " <q>", "note": " <text...>", "rm": ""}[cmd])
			break
		}
		lines, _ := t.Cart()
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 || n > len(lines) {
			fmt.Println("no such cart line")
			break
		}
		id := lines[n-1].ID
		switch cmd {
		case "qty":
			q, err := strconv.Atoi(args[2])
			if err != nil {
				fmt.Println("quantity must be a number")
				break
			}
			t.SetQuantity(id, q)
		case "note":
			t.SetLineNote(id, strings.Join(args[2:], " "))
		case "rm":
			t.RemoveLine(id)
		}
		c.printCart()
	case "clear":
		t.ClearCart()
	case "submit":
		o, err := t.Submit(strings.Join(args[1:], " "))
		if o.ID != "" {
			fmt.Printf("order %s placed, %s\n", shortID(o.ID), o.Total())
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	case "ticket":
		o, ok := t.ActiveTicket()
		if !ok {
			fmt.Println("(no open order)")
			break
		}
		fmt.Printf("order %s %s %s, placed %s\n", shortID(o.ID), o.Status, o.Total(), humanize.Time(o.CreatedAt))
	case "call":
		if len(args) < 2 {
			fmt.Println("usage: call <reason> [message...]  (assistance, order_issue, billing, cleanup, refill, other)")
			break
		}
		_, err := t.CallStaff(model.CallReason(args[1]), strings.Join(args[2:], " "))
		report(err, "staff called")
	default:
		return false
	}
	return true
}

func (c *console) printCart() {
	lines, total := c.term.Cart()
	if len(lines) == 0 {
		fmt.Println("(cart is empty)")
		return
	}
	for i, l := range lines {
		fmt.Printf("%d. %dx %-20s %8s", i+1, l.Quantity, l.Name, l.Subtotal())
		if l.Note != "" {
			fmt.Printf("  (%s)", l.Note)
		}
		fmt.Println()
	}
	fmt.Printf("   total %25s\n", total)
}

func (c *console) orderID(prefix string) (string, bool) {
	for _, o := range c.coord.Orders(role.OrderFilter{}) {
		if strings.HasPrefix(o.ID, prefix) {
			return o.ID, true
		}
	}
	return "", false
}

func printMenu(items []model.CatalogItem) {
	if len(items) == 0 {
		fmt.Println("(menu is empty)")
	}
	cat := ""
	for i, it := range items {
		if it.Category != cat {
			cat = it.Category
			fmt.Println(cat)
		}
		flag := ""
		if !it.Available {
			flag = "  (unavailable)"
		}
		fmt.Printf("  %2d. %-20s %8s%s\n", i+1, it.Name, it.Price, flag)
	}
}

// pick resolves a 1-based menu position.
func pick(items []model.CatalogItem, arg string) (model.CatalogItem, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(items) {
		return model.CatalogItem{}, false
	}
	return items[n-1], true
}

func report(err error, ok string) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(ok)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
