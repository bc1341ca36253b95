package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

var ErrEventNotFound = errors.New("order event not found")

// Enqueuer hands a recorded inbox row to background processing.
type Enqueuer interface {
	EnqueueOrderEvent(ctx context.Context, eventID uint) error
}

// Handler turns paid orders into subscription transitions and keeps the
// inbound event inbox.
type Handler struct {
	subs     *subscriptions.Service
	repo     Repository
	enqueuer Enqueuer
}

// NewHandler creates a handler. With a non-nil enqueuer, Ingest queues new
// deliveries instead of applying them inline.
func NewHandler(subs *subscriptions.Service, repo Repository, enqueuer Enqueuer) *Handler {
	return &Handler{subs: subs, repo: repo, enqueuer: enqueuer}
}

func NewHandlerFromDB(db *gorm.DB, subs *subscriptions.Service, enqueuer Enqueuer) *Handler {
	return NewHandler(subs, NewRepository(db), enqueuer)
}

// HandleOrderPaid applies every subscription line of a paid order. Events
// without a user or without items are ignored. Lines without a SKU or with
// an unknown SKU are skipped by the subscription service. The first
// failing line aborts the rest; lines already applied stay applied and a
// redelivery skips them.
//
// An order-level reference takes precedence over line references, so when
// such an order carries several subscription lines only the first one is
// applied and the others are seen as replays of it. The returned slice
// holds each subscription once.
func (h *Handler) HandleOrderPaid(ctx context.Context, ev OrderPaid) ([]*models.UserSubscription, error) {
	userID := ev.ResolvedUserID()
	items := ev.ResolvedItems()
	if userID == 0 || len(items) == 0 {
		log.Debugf("[Billing] Order event without user or items ignored")
		return nil, nil
	}

	var applied []*models.UserSubscription
	seen := make(map[string]bool)
	for i, item := range items {
		if item.ResolvedSKU() == "" {
			continue
		}
		sub, err := h.subs.ActivateOrRenew(ctx, ev.Order.Order, item, userID)
		if err != nil {
			return applied, fmt.Errorf("order item %d: %w", i, err)
		}
		if sub != nil && !seen[sub.ID] {
			seen[sub.ID] = true
			applied = append(applied, sub)
		}
	}
	return applied, nil
}

// RecordEvent persists a delivery idempotently per (source, delivery id).
// Deliveries without an id are keyed by the payload hash.
func (h *Handler) RecordEvent(ctx context.Context, in EventInput) (bool, *models.OrderEvent, error) {
	source := strings.ToLower(strings.TrimSpace(in.Source))
	if source == "" {
		return false, nil, errors.New("source is required")
	}
	deliveryID := strings.TrimSpace(in.DeliveryID)
	if deliveryID == "" {
		sum := sha256.Sum256(in.Payload)
		deliveryID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.OrderEvent{
		Source:         source,
		DeliveryID:     deliveryID,
		EventType:      strings.TrimSpace(in.EventType),
		Payload:        datatypes.JSON(in.Payload),
		SignatureValid: in.SignatureValid,
	}
	return h.repo.CreateEventIfNotExists(ctx, event)
}

// Ingest records a delivery and then applies it, inline or through the
// queue. A delivery that was already applied successfully is reported as
// a duplicate. Failed ones are retried, which is safe because applying an
// order twice changes nothing.
func (h *Handler) Ingest(ctx context.Context, in EventInput) (IngestResult, error) {
	created, event, err := h.RecordEvent(ctx, in)
	if err != nil {
		return IngestResult{}, fmt.Errorf("record order event: %w", err)
	}
	res := IngestResult{EventID: event.ID}
	if !created && event.IsProcessed() && event.ProcessingError == "" {
		res.Duplicate = true
		log.Infof("[Billing] Duplicate %s delivery %s ignored", event.Source, event.DeliveryID)
		return res, nil
	}

	if h.enqueuer != nil {
		err := h.enqueuer.EnqueueOrderEvent(ctx, event.ID)
		if err == nil {
			res.Queued = true
			return res, nil
		}
		log.Warnf("[Billing] Could not queue event %d, applying inline: %v", event.ID, err)
	}

	applied, err := h.ProcessEvent(ctx, event.ID)
	res.Applied = applied
	return res, err
}

// ProcessEvent applies a stored inbox row and records the outcome on it.
func (h *Handler) ProcessEvent(ctx context.Context, eventID uint) (int, error) {
	event, err := h.repo.FindEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("load order event %d: %w", eventID, err)
	}
	if event == nil {
		return 0, fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
	}

	applied, procErr := h.apply(ctx, event)
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
		log.Errorf("[Billing] Event %d (%s/%s) failed: %v", event.ID, event.Source, event.DeliveryID, procErr)
	} else {
		log.Infof("[Billing] Event %d (%s/%s) applied to %d subscriptions", event.ID, event.Source, event.DeliveryID, len(applied))
	}
	if err := h.repo.MarkEventProcessed(ctx, event.ID, time.Now().UTC(), errMsg); err != nil {
		return len(applied), fmt.Errorf("mark order event %d processed: %w", event.ID, err)
	}
	return len(applied), procErr
}

func (h *Handler) apply(ctx context.Context, event *models.OrderEvent) ([]*models.UserSubscription, error) {
	var (
		ev  OrderPaid
		err error
	)
	switch event.Source {
	case models.OrderEventSourceStripe:
		ev, err = stripeOrderPaidFromPayload(event.Payload)
	default:
		ev, err = ParseOrderPaid(event.Payload)
	}
	if errors.Is(err, ErrUnsupportedEvent) {
		log.Debugf("[Billing] Event %d skipped: %v", event.ID, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h.HandleOrderPaid(ctx, ev)
}

// ListEvents returns inbox rows for the admin surface.
func (h *Handler) ListEvents(ctx context.Context, filter EventFilter) ([]models.OrderEvent, error) {
	return h.repo.ListEvents(ctx, filter)
}
