package subscriptions

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString accepts both JSON strings and numbers, since upstream order
// systems disagree on whether ids are numeric.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// OrderRefs lists the identifiers an order or line item may carry, in the
// order they are tried when deriving the idempotency key.
type OrderRefs struct {
	Reference         FlexString `json:"reference,omitempty"`
	OrderReference    FlexString `json:"order_reference,omitempty"`
	ExternalReference FlexString `json:"external_reference,omitempty"`
	ID                FlexString `json:"id,omitempty"`
	Code              FlexString `json:"code,omitempty"`
}

func (r OrderRefs) first() string {
	for _, c := range []FlexString{r.Reference, r.OrderReference, r.ExternalReference, r.ID, r.Code} {
		if v := c.String(); v != "" {
			return v
		}
	}
	return ""
}

// Order is the part of a paid order the ledger relies on.
type Order struct {
	OrderRefs
	UserID uint `json:"user_id,omitempty"`
}

// OrderItem is one paid line. SKU wins over ProductSKU when both are set.
type OrderItem struct {
	OrderRefs
	SKU        string `json:"sku,omitempty"`
	ProductSKU string `json:"product_sku,omitempty"`
}

func (i OrderItem) ResolvedSKU() string {
	if sku := strings.TrimSpace(i.SKU); sku != "" {
		return sku
	}
	return strings.TrimSpace(i.ProductSKU)
}

// DeriveOrderReference returns the first non-empty reference of the order,
// falling back to the item. Every line of an order with its own reference
// therefore shares that key. Orders without any reference cannot be
// processed idempotently and are rejected.
func DeriveOrderReference(order Order, item OrderItem) (string, error) {
	if ref := order.first(); ref != "" {
		return ref, nil
	}
	if ref := item.first(); ref != "" {
		return ref, nil
	}
	return "", ErrMissingOrderReference
}
