package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/marketsub/app/models"
	"github.com/ManuelReschke/marketsub/internal/pkg/entitlements"
	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
	"github.com/ManuelReschke/marketsub/internal/pkg/usercontext"
)

// EntitlementController answers what the authenticated seller may do.
type EntitlementController struct {
	ents *entitlements.Service
	subs *subscriptions.Service
}

func NewEntitlementController(ents *entitlements.Service, subs *subscriptions.Service) *EntitlementController {
	return &EntitlementController{ents: ents, subs: subs}
}

type consumeCreditRequest struct {
	ListingID string `json:"listing_id" validate:"omitempty,max=36"`
	Reason    string `json:"reason" validate:"omitempty,max=50"`
}

func (ec *EntitlementController) HandleEntitlements(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	ents, err := ec.ents.Get(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, ents)
}

// HandleSubscription returns the active subscription, or null data when the
// user has none.
func (ec *EntitlementController) HandleSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ec.ents.ActiveSubscription(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if sub == nil {
		return jsonData(c, fiber.StatusOK, nil)
	}
	return jsonData(c, fiber.StatusOK, sub)
}

func (ec *EntitlementController) HandleCanPostListing(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	allowed, reason, err := ec.ents.CanPostListing(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{
		"allowed": allowed,
		"reason":  reason,
	})
}

// HandleConsumeFeaturedCredit spends one featured credit. Running out is not
// an error: the answer carries consumed=false.
func (ec *EntitlementController) HandleConsumeFeaturedCredit(c *fiber.Ctx) error {
	var req consumeCreditRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	userID := usercontext.GetUserID(c)
	var listingID *string
	if id := strings.TrimSpace(req.ListingID); id != "" {
		listingID = &id
	}
	consumed, err := ec.ents.ConsumeFeaturedCredit(ctx, userID, listingID, strings.TrimSpace(req.Reason))
	if err != nil {
		return respondError(c, err)
	}
	ents, err := ec.ents.Get(ctx, userID)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, fiber.Map{
		"consumed": consumed,
		"balance":  ents.FeaturedCreditsBalance,
	})
}

// HandleCreditHistory lists the ledger of the active subscription.
func (ec *EntitlementController) HandleCreditHistory(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := ec.ents.ActiveSubscription(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if sub == nil {
		return jsonData(c, fiber.StatusOK, []models.SubscriptionCreditLedger{})
	}
	entries, err := ec.subs.CreditHistory(ctx, sub.ID)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, entries)
}
