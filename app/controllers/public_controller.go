package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/marketsub/internal/pkg/subscriptions"
)

// PublicController serves the unauthenticated catalog endpoints.
type PublicController struct {
	subs *subscriptions.Service
}

func NewPublicController(subs *subscriptions.Service) *PublicController {
	return &PublicController{subs: subs}
}

func (pc *PublicController) HandlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "pong",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandlePlans lists the plans that can currently be bought.
func (pc *PublicController) HandlePlans(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	plans, err := pc.subs.ListPlans(ctx, true)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, plans)
}

// HandleProducts lists the active SKUs together with the plan they sell.
func (pc *PublicController) HandleProducts(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	products, err := pc.subs.ListProducts(ctx, true)
	if err != nil {
		return respondError(c, err)
	}
	return jsonData(c, fiber.StatusOK, products)
}
