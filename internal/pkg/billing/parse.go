package billing

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported order event")
	ErrInvalidPayload   = errors.New("invalid order event payload")
)

// EventTypeOrderPaid is the only event type the generic webhook accepts.
const EventTypeOrderPaid = "order.paid"

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseOrderPaid decodes a generic webhook body. Both a bare OrderPaid
// object and an envelope {"type":"order.paid","data":{...}} are accepted.
func ParseOrderPaid(raw []byte) (OrderPaid, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return OrderPaid{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	body := raw
	if env.Type != "" {
		if env.Type != EventTypeOrderPaid {
			return OrderPaid{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.Type)
		}
		if len(env.Data) == 0 {
			return OrderPaid{}, fmt.Errorf("%w: empty data", ErrInvalidPayload)
		}
		body = env.Data
	}

	var ev OrderPaid
	if err := json.Unmarshal(body, &ev); err != nil {
		return OrderPaid{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return ev, nil
}

// EventType returns the envelope type of a generic body, defaulting to
// order.paid for bare events and unreadable bodies.
func EventType(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return EventTypeOrderPaid
	}
	return env.Type
}
