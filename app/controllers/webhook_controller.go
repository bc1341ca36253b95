package controllers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/billing"
)

const (
	HeaderSignature  = "X-Signature"
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderEventType  = "X-Event-Type"
	HeaderStripe     = "Stripe-Signature"
)

// WebhookConfig carries the shared secrets. AllowUnsigned accepts generic
// deliveries without a valid signature and is meant for local development.
type WebhookConfig struct {
	OrderSecret   string
	StripeSecret  string
	AllowUnsigned bool
}

// WebhookController receives paid-order notifications and feeds them into
// the order event inbox.
type WebhookController struct {
	events *billing.Handler
	cfg    WebhookConfig
}

func NewWebhookController(events *billing.Handler, cfg WebhookConfig) *WebhookController {
	return &WebhookController{events: events, cfg: cfg}
}

// HandleOrderWebhook accepts the payments service's order.paid JSON.
func (wc *WebhookController) HandleOrderWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	if !json.Valid(rawBody) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "body is not valid JSON")
	}

	signatureValid := billing.VerifyOrderWebhookSignature(rawBody, c.Get(HeaderSignature), wc.cfg.OrderSecret)
	if !signatureValid && !wc.cfg.AllowUnsigned {
		if wc.cfg.OrderSecret == "" {
			log.Error("[Webhook] ORDER_WEBHOOK_SECRET is not configured, rejecting delivery")
			return jsonError(c, fiber.StatusServiceUnavailable, "webhook_unconfigured", "order webhook secret is not configured")
		}
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "signature does not match")
	}

	eventType := strings.TrimSpace(c.Get(HeaderEventType))
	if eventType == "" {
		eventType = billing.EventType(rawBody)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := wc.events.Ingest(ctx, billing.EventInput{
		Source:         models.OrderEventSourceGeneric,
		DeliveryID:     c.Get(HeaderDeliveryID),
		EventType:      eventType,
		Payload:        rawBody,
		SignatureValid: signatureValid,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(ingestResponse(res))
}

// HandleStripeWebhook accepts Stripe events. Only paid checkout sessions
// change anything; every other event is stored and acknowledged.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	if wc.cfg.StripeSecret == "" {
		log.Error("[Webhook] STRIPE_WEBHOOK_SECRET is not configured, rejecting delivery")
		return jsonError(c, fiber.StatusServiceUnavailable, "webhook_unconfigured", "stripe webhook secret is not configured")
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	event, err := billing.VerifyStripeEvent(rawBody, c.Get(HeaderStripe), wc.cfg.StripeSecret)
	if err != nil {
		log.Warnf("[Webhook] Rejected Stripe delivery: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "stripe signature verification failed")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := wc.events.Ingest(ctx, billing.EventInput{
		Source:         models.OrderEventSourceStripe,
		DeliveryID:     event.ID,
		EventType:      string(event.Type),
		Payload:        rawBody,
		SignatureValid: true,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(ingestResponse(res))
}

func ingestResponse(res billing.IngestResult) fiber.Map {
	return fiber.Map{
		"ok":        true,
		"event_id":  res.EventID,
		"duplicate": res.Duplicate,
		"queued":    res.Queued,
		"applied":   res.Applied,
	}
}
