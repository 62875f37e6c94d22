package protocol

// Kind tags every payload so a receiver can dispatch without guessing.
type Kind string

const (
	KindOrder        Kind = "order"
	KindPresentation Kind = "presentation"
	KindCatalog      Kind = "catalog"
	KindOrderStatus  Kind = "order_status"
	KindStaffCall    Kind = "staff_call"
)

// DecodeOrder is the fixed order in which Decode tries message kinds.
var DecodeOrder = []Kind{KindOrder, KindPresentation, KindCatalog, KindOrderStatus, KindStaffCall}

// Message is one application payload.
type Message interface {
	Kind() Kind
	Validate() error
}
