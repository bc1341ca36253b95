package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

// OrderPaid is the event emitted by the payments collaborator once an order
// is settled. Items on the event win over items on the order, and the
// order's user wins over the event's user.
type OrderPaid struct {
	Order       PaidOrder                 `json:"order"`
	Transaction *Transaction              `json:"transaction,omitempty"`
	Items       []subscriptions.OrderItem `json:"items,omitempty"`
	UserID      uint                      `json:"user_id,omitempty"`
}

type PaidOrder struct {
	subscriptions.Order
	Items []subscriptions.OrderItem `json:"items,omitempty"`
}

// Transaction is informational only; nothing is derived from it.
type Transaction struct {
	ID       subscriptions.FlexString `json:"id,omitempty"`
	Amount   decimal.NullDecimal      `json:"amount"`
	Currency string                   `json:"currency,omitempty"`
}

// ResolvedUserID returns the paying user or zero when unknown.
func (e OrderPaid) ResolvedUserID() uint {
	if e.Order.UserID != 0 {
		return e.Order.UserID
	}
	return e.UserID
}

// ResolvedItems returns the paid lines.
func (e OrderPaid) ResolvedItems() []subscriptions.OrderItem {
	if len(e.Items) > 0 {
		return e.Items
	}
	return e.Order.Items
}

// EventInput is the normalized input for inbox persistence.
type EventInput struct {
	Source         string
	DeliveryID     string
	EventType      string
	Payload        []byte
	SignatureValid bool
}

// IngestResult tells the caller what happened to a delivery.
type IngestResult struct {
	EventID   uint `json:"event_id"`
	Duplicate bool `json:"duplicate"`
	Queued    bool `json:"queued"`
	Applied   int  `json:"applied"`
}
