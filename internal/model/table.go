package model

import "time"

// Table is the coordinator's record of one physical table.
type Table struct {
	Number         int       `json:"number"`
	Occupied       bool      `json:"occupied"`
	CurrentOrderID string    `json:"current_order_id,omitempty"`
	LastActivity   time.Time `json:"last_activity"`
	PeerID         string    `json:"peer_id,omitempty"`
}

func DefaultTables(n int) []Table {
	now := time.Now().UTC()
	out := make([]Table, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Table{Number: i, LastActivity: now})
	}
	return out
}
