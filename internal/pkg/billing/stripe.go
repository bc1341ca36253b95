package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

const StripeCheckoutCompleted = "checkout.session.completed"

// VerifyStripeEvent checks the Stripe-Signature header and decodes the event.
func VerifyStripeEvent(payload []byte, signatureHeader, webhookSecret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signatureHeader, webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
}

// StripeOrderPaid translates a paid checkout session into an OrderPaid
// event. The session id is the order reference; the buyer and the SKU come
// from the session metadata (user_id falls back to client_reference_id).
// Other event types and unpaid sessions yield ErrUnsupportedEvent.
func StripeOrderPaid(event stripe.Event) (OrderPaid, error) {
	if string(event.Type) != StripeCheckoutCompleted {
		return OrderPaid{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
	if event.Data == nil {
		return OrderPaid{}, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return OrderPaid{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return OrderPaid{}, fmt.Errorf("%w: session %s payment status %q", ErrUnsupportedEvent, session.ID, session.PaymentStatus)
	}

	rawUser := strings.TrimSpace(session.Metadata["user_id"])
	if rawUser == "" {
		rawUser = strings.TrimSpace(session.ClientReferenceID)
	}
	var userID uint
	if rawUser != "" {
		n, err := strconv.ParseUint(rawUser, 10, 32)
		if err != nil {
			return OrderPaid{}, fmt.Errorf("%w: user_id %q", ErrInvalidPayload, rawUser)
		}
		userID = uint(n)
	}

	ev := OrderPaid{
		Order: PaidOrder{
			Order: subscriptions.Order{
				OrderRefs: subscriptions.OrderRefs{Reference: subscriptions.FlexString(session.ID)},
				UserID:    userID,
			},
		},
	}
	if sku := strings.TrimSpace(session.Metadata["sku"]); sku != "" {
		ev.Items = []subscriptions.OrderItem{{SKU: sku}}
	}
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		ev.Transaction = &Transaction{
			ID:       subscriptions.FlexString(session.PaymentIntent.ID),
			Currency: string(session.Currency),
		}
	}
	return ev, nil
}

// stripeOrderPaidFromPayload decodes a stored, already verified event body.
func stripeOrderPaidFromPayload(payload []byte) (OrderPaid, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return OrderPaid{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return StripeOrderPaid(event)
}
